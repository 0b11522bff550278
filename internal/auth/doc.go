// Package auth provides authentication for the familiar ops API.
//
// # Authentication Methods
//
// The ops API accepts two credentials:
//
//   - Key signatures: operators sign "timestamp|nonce" with an SSH key and
//     carry the material in X-Familiar-* headers. The gateway verifies the
//     signature and checks the key fingerprint against the configured
//     authorized_keys allowlist. Nonces are single use inside the timestamp
//     window, so captured requests cannot be replayed.
//
//   - JWT tokens: clients authenticate with HS256 tokens signed with the
//     configured jwt_secret. The familiar token subcommand mints them.
//
// # Middleware
//
// Middleware wraps ops API handlers and tries key-signature auth first,
// falling back to bearer tokens:
//
//	handler := auth.Middleware(jwtVerifier, sshVerifier, keyring)(mux)
//
// On success the request context carries an Identity; handlers read it with
// IdentityFromContext for logging.
//
// # Client Side
//
// The admin CLI signs outgoing requests with Sign and applies the result to
// the request headers:
//
//	signed, err := auth.Sign(signer)
//	signed.Apply(req.Header)
package auth
