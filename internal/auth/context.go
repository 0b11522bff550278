// ABOUTME: Identity propagation for authenticated API requests
// ABOUTME: Provides WithIdentity/IdentityFromContext for request handlers

package auth

import (
	"context"
)

// Auth methods recorded on an Identity.
const (
	MethodToken  = "token"
	MethodSSHKey = "ssh-key"
)

// Identity describes who an authenticated API request came from. The auth
// middleware populates it; handlers read it back from the request context.
type Identity struct {
	Name        string // token subject or authorized key name
	Method      string // MethodToken or MethodSSHKey
	Fingerprint string // key fingerprint, empty for token auth
}

type identityKey struct{}

// WithIdentity returns a new context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the identity, or nil if the request was not
// authenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
