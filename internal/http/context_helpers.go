package httpx

import (
	"context"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
)

// identityKey is an unexported context key type to avoid collisions across packages.
type identityKey struct{}

// SetIdentityInContext returns a child context that carries a copy of identity.
func SetIdentityInContext(ctx context.Context, identity domainauth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity.Clone())
}

// IdentityFromContext returns the identity placed by the guards and whether one is present.
func IdentityFromContext(ctx context.Context) (domainauth.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(domainauth.Identity)
	return identity, ok
}
