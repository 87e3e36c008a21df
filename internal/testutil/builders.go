package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestSigningKey signs tokens built by TokenBuilder.
var TestSigningKey = []byte("univer-test-signing-key")

// TokenBuilder provides a fluent interface for building signed test tokens.
type TokenBuilder struct {
	claims jwt.MapClaims
	now    time.Time
}

// NewToken creates a TokenBuilder for a token expiring one hour after now.
func NewToken(now time.Time) *TokenBuilder {
	return &TokenBuilder{
		now: now,
		claims: jwt.MapClaims{
			"sub": "1",
			"iat": now.Unix(),
			"exp": now.Add(time.Hour).Unix(),
		},
	}
}

// WithPermissions sets the permissions claim.
func (b *TokenBuilder) WithPermissions(perms ...string) *TokenBuilder {
	if perms == nil {
		perms = []string{}
	}
	b.claims["permissions"] = perms
	return b
}

// WithoutPermissions removes the permissions claim (old-format token).
func (b *TokenBuilder) WithoutPermissions() *TokenBuilder {
	delete(b.claims, "permissions")
	return b
}

// ExpiresIn sets exp relative to the builder's now; negative values produce expired tokens.
func (b *TokenBuilder) ExpiresIn(d time.Duration) *TokenBuilder {
	b.claims["exp"] = b.now.Add(d).Unix()
	return b
}

// WithClaim sets an arbitrary claim.
func (b *TokenBuilder) WithClaim(key string, value any) *TokenBuilder {
	b.claims[key] = value
	return b
}

// Build signs the token with TestSigningKey.
func (b *TokenBuilder) Build(t TestingTB) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, b.claims).SignedString(TestSigningKey)
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return s
}
