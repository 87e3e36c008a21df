package ports

// Package ports defines interfaces (hexagonal ports) for session and authorization behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"time"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
)

// TokenGrant is a credential pair issued by the identity provider.
type TokenGrant struct {
	AccessToken string
	// RefreshToken is empty when the provider does not issue one.
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// UserDocument is a profile as returned by the identity provider, before mapping.
// Staff documents carry Login and roles; student documents carry StudentIDNumber.
type UserDocument struct {
	ID              int64
	Login           string
	StudentIDNumber string
	FullName        string
	Role            string
	RoleID          *int64
	RoleName        string
	Roles           []domainauth.RoleRef
	Permissions     []string
	Image           string
	// Extra holds fields the mapper does not know about.
	Extra map[string]any
}

// LoginResult is returned by Login and SwitchRole.
type LoginResult struct {
	Grant   TokenGrant
	User    UserDocument
	Message string
}

// IdentityProvider talks to the external identity provider.
type IdentityProvider interface {
	// Login authenticates credentials against the endpoint for their principal kind.
	Login(ctx context.Context, creds domainauth.Credentials) (LoginResult, error)

	// Logout invalidates the current access token for the principal kind.
	Logout(ctx context.Context, kind domainauth.PrincipalKind) error

	// Refresh exchanges the refresh credential for a new grant. The refresh
	// credential is sent as the bearer, never the expired access token.
	Refresh(ctx context.Context, kind domainauth.PrincipalKind, refreshToken string) (TokenGrant, error)

	// Me returns the current profile for the principal kind.
	Me(ctx context.Context, kind domainauth.PrincipalKind) (UserDocument, error)

	// SwitchRole re-issues the staff token for another role.
	SwitchRole(ctx context.Context, roleID int64) (LoginResult, error)

	// Permissions returns the current permission list of the caller.
	Permissions(ctx context.Context) ([]string, error)
}

// TokenCodec reads claims from a token without verifying its signature.
type TokenCodec interface {
	Decode(token string) (domainauth.TokenClaims, error)
}

// Storage layout shared by every adapter: three flat keys and two JSON aggregates.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUserType     = "user_type"
	// KeyAuthRecord holds {token, isAuthenticated}.
	KeyAuthRecord = "auth-storage"
	// KeyUserRecord holds {user, permissionsCachedAt}.
	KeyUserRecord = "user-storage"
)

// SessionKeys lists every key the session manager writes.
func SessionKeys() []string {
	return []string{KeyAccessToken, KeyRefreshToken, KeyUserType, KeyAuthRecord, KeyUserRecord}
}

// Storage is a session-scoped key-value store. Its contents must not outlive
// the browser or process session it was created for.
type Storage interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	// Close ends the storage scope, discarding everything it holds.
	Close(ctx context.Context) error
}

// Navigator sends the user to the unauthenticated entry point.
type Navigator interface {
	ToEntryPoint(ctx context.Context, reason string)
}

// Clock provides the current time; swapped for a fixed clock in tests.
type Clock interface {
	Now() time.Time
}
