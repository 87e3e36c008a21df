// Package jwtcodec reads claims from signed tokens for UI gating.
// Signatures are not verified here; the server verifies every request.
package jwtcodec

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
)

// Codec implements ports.TokenCodec with golang-jwt's unverified parser.
type Codec struct{}

// New returns a Codec.
func New() Codec { return Codec{} }

type claims struct {
	// Permissions stays nil when the claim is absent (old-format tokens).
	Permissions *[]string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Decode parses the token's claims. A malformed token yields a token_decode
// AppError, which callers treat as "claims unavailable".
func (Codec) Decode(token string) (domainauth.TokenClaims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return domainauth.TokenClaims{}, apperrors.New(apperrors.ErrCodeTokenDecode, "token is empty")
	}

	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return domainauth.TokenClaims{}, apperrors.Wrap(err, apperrors.ErrCodeTokenDecode, "decode token")
	}

	out := domainauth.TokenClaims{}
	if c.ExpiresAt != nil {
		out.Exp = c.ExpiresAt.Unix()
	}
	if c.Permissions != nil {
		out.HasPermissions = true
		out.Permissions = append([]string{}, (*c.Permissions)...)
	}
	return out, nil
}
