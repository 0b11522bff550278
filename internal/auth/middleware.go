// ABOUTME: HTTP middleware guarding the ops API
// ABOUTME: Accepts either a bearer JWT or a signed-key request

package auth

import (
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware authenticates ops API requests. A request authenticates with
// either the X-Familiar-* signature headers (key must be in the ring) or an
// Authorization bearer JWT. Failures return JSON errors and never reach the
// wrapped handler. A nil verifier disables that method.
func Middleware(tokens TokenVerifier, keys *SSHVerifier, ring *Keyring) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if signed := ExtractSignedRequest(r.Header); signed != nil {
				if keys == nil || ring == nil {
					writeAuthError(w, http.StatusUnauthorized, "key auth not configured")
					return
				}
				fingerprint, err := keys.Verify(signed)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "signature rejected")
					return
				}
				name, ok := ring.Lookup(fingerprint)
				if !ok {
					writeAuthError(w, http.StatusForbidden, "key not authorized")
					return
				}
				id := &Identity{Name: name, Method: MethodSSHKey, Fingerprint: fingerprint}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}

			if tokens == nil {
				writeAuthError(w, http.StatusUnauthorized, "token auth not configured")
				return
			}
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}

			subject, err := tokens.Verify(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			id := &Identity{Name: subject, Method: MethodToken}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
