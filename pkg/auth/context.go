package auth

import "context"

type contextKey int

const identityKey contextKey = iota

// ContextWithIdentity attaches identity to ctx. Transport adapters call it
// after a request has been allowed.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity attached to ctx. It reports false
// for public operations reached without a token.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok && identity != nil
}

// MustIdentityFromContext is IdentityFromContext for handlers registered
// with a non-public requirement. It panics when no identity is present.
func MustIdentityFromContext(ctx context.Context) *Identity {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		panic("auth: no identity in context; register the handler with a non-public requirement")
	}
	return identity
}
