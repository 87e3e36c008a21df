package devauth

// Package devauth provides a simple, config-driven IdentityProvider for local development.
// It issues HS256 tokens in-process so the session core can be exercised without the university API.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/FeruzLatifov/univer-front-sub000/internal/adapters/clock"
	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
)

// Config controls the dev identity provider behavior.
// Secret is required; everything else has a default.
type Config struct {
	Secret []byte
	// Password every dev account accepts; empty accepts any non-empty password.
	Password string
	TokenTTL time.Duration // default 1h when zero
	// Permissions granted to every staff role without its own entry in RolePermissions.
	Permissions []string
	// Roles offered for role switching; defaults to a single "admin" role.
	Roles           []domainauth.RoleRef
	RolePermissions map[string][]string
	Clock           ports.Clock
}

type principal struct {
	kind    domainauth.PrincipalKind
	subject string
	role    domainauth.RoleRef
}

// Provider implements ports.IdentityProvider for local development.
// It models a single signed-in principal, which matches one CLI or test session.
type Provider struct {
	secret   []byte
	password string
	ttl      time.Duration
	perms    []string
	roles    []domainauth.RoleRef
	rolePerm map[string][]string
	clock    ports.Clock

	mu       sync.Mutex
	current  *principal
	refresh  map[string]principal
	override []string
}

var _ ports.IdentityProvider = (*Provider)(nil)

// NewProvider constructs a dev identity provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("dev auth: Secret is required")
	}
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	roles := slices.Clone(cfg.Roles)
	if len(roles) == 0 {
		roles = []domainauth.RoleRef{{ID: 1, Code: "admin", Name: "Administrator"}}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	rolePerm := make(map[string][]string, len(cfg.RolePermissions))
	for k, v := range cfg.RolePermissions {
		rolePerm[k] = slices.Clone(v)
	}
	return &Provider{
		secret:   slices.Clone(cfg.Secret),
		password: cfg.Password,
		ttl:      ttl,
		perms:    slices.Clone(cfg.Permissions),
		roles:    roles,
		rolePerm: rolePerm,
		clock:    clk,
		refresh:  make(map[string]principal),
	}, nil
}

// SetPermissions changes what Permissions and newly issued tokens report,
// simulating a server-side grant change.
func (p *Provider) SetPermissions(perms []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.override = slices.Clone(perms)
}

// Login accepts any non-empty identifier with the configured password.
func (p *Provider) Login(_ context.Context, creds domainauth.Credentials) (ports.LoginResult, error) {
	if err := creds.Validate(); err != nil {
		return ports.LoginResult{}, apperrors.AuthenticationFailed(err.Error(), err)
	}

	var who principal
	var password string
	switch c := creds.(type) {
	case domainauth.StaffCredentials:
		who = principal{kind: domainauth.PrincipalStaff, subject: c.Login, role: p.roles[0]}
		password = c.Password
	case domainauth.StudentCredentials:
		who = principal{
			kind:    domainauth.PrincipalStudent,
			subject: c.StudentID,
			role:    domainauth.RoleRef{Code: domainauth.StudentRole, Name: "Student"},
		}
		password = c.Password
	default:
		return ports.LoginResult{}, apperrors.Validation("unsupported credentials")
	}
	if p.password != "" && password != p.password {
		return ports.LoginResult{}, apperrors.AuthenticationFailed("", nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issueLocked(who)
}

// Logout forgets the current principal and its refresh tokens.
func (p *Provider) Logout(_ context.Context, _ domainauth.PrincipalKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
	clear(p.refresh)
	return nil
}

// Refresh rotates a refresh token issued by this provider.
func (p *Provider) Refresh(_ context.Context, kind domainauth.PrincipalKind, refreshToken string) (ports.TokenGrant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	who, ok := p.refresh[refreshToken]
	if !ok || who.kind != kind {
		return ports.TokenGrant{}, apperrors.RefreshFailed(errors.New("unknown refresh token"))
	}
	delete(p.refresh, refreshToken)
	res, err := p.issueLocked(who)
	if err != nil {
		return ports.TokenGrant{}, err
	}
	return res.Grant, nil
}

// Me returns the profile of the signed-in principal.
func (p *Provider) Me(_ context.Context, kind domainauth.PrincipalKind) (ports.UserDocument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.current.kind != kind {
		return ports.UserDocument{}, apperrors.New(apperrors.ErrCodeNetwork, "not signed in")
	}
	return p.documentLocked(*p.current), nil
}

// SwitchRole re-issues the staff token for one of the configured roles.
func (p *Provider) SwitchRole(_ context.Context, roleID int64) (ports.LoginResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.current.kind != domainauth.PrincipalStaff {
		return ports.LoginResult{}, apperrors.New(apperrors.ErrCodeForbidden, "role switching requires a staff session")
	}
	idx := slices.IndexFunc(p.roles, func(r domainauth.RoleRef) bool { return r.ID == roleID })
	if idx < 0 {
		return ports.LoginResult{}, apperrors.New(apperrors.ErrCodeForbidden, fmt.Sprintf("role %d is not available", roleID))
	}
	who := *p.current
	who.role = p.roles[idx]
	return p.issueLocked(who)
}

// Permissions returns the permission list of the signed-in principal.
func (p *Provider) Permissions(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, apperrors.New(apperrors.ErrCodeNetwork, "not signed in")
	}
	return p.permissionsLocked(*p.current), nil
}

func (p *Provider) permissionsLocked(who principal) []string {
	if p.override != nil {
		return slices.Clone(p.override)
	}
	if who.kind == domainauth.PrincipalStudent {
		return []string{"student"}
	}
	if perms, ok := p.rolePerm[who.role.Code]; ok {
		return slices.Clone(perms)
	}
	return slices.Clone(p.perms)
}

func (p *Provider) documentLocked(who principal) ports.UserDocument {
	doc := ports.UserDocument{
		ID:          subjectID(who.subject),
		FullName:    who.subject,
		Role:        who.role.Code,
		RoleName:    who.role.Name,
		Permissions: p.permissionsLocked(who),
	}
	if who.kind == domainauth.PrincipalStudent {
		doc.StudentIDNumber = who.subject
		return doc
	}
	doc.Login = who.subject
	roleID := who.role.ID
	doc.RoleID = &roleID
	doc.Roles = slices.Clone(p.roles)
	return doc
}

func (p *Provider) issueLocked(who principal) (ports.LoginResult, error) {
	now := p.clock.Now()
	claims := jwt.MapClaims{
		"sub":         who.subject,
		"iat":         now.Unix(),
		"exp":         now.Add(p.ttl).Unix(),
		"role":        who.role.Code,
		"permissions": p.permissionsLocked(who),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return ports.LoginResult{}, fmt.Errorf("sign dev token: %w", err)
	}
	refresh, err := randomString(32)
	if err != nil {
		return ports.LoginResult{}, fmt.Errorf("generate refresh token: %w", err)
	}

	p.refresh[refresh] = who
	p.current = &who
	return ports.LoginResult{
		Grant: ports.TokenGrant{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    "bearer",
			ExpiresIn:    int64(p.ttl / time.Second),
		},
		User:    p.documentLocked(who),
		Message: "dev login",
	}, nil
}

// subjectID derives a stable numeric id so repeated logins map to the same user.
func subjectID(subject string) int64 {
	var h int64 = 7
	for _, r := range subject {
		h = h*31 + int64(r)
		h &= 1<<53 - 1
	}
	return h
}

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	// Compute number of random bytes needed to produce at least n base64 URL chars
	bLen := (n*3 + 3) / 4
	b := make([]byte, bLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := base64.RawURLEncoding.EncodeToString(b)
	if len(s) < n {
		extra := make([]byte, 1)
		if _, err := rand.Read(extra); err != nil {
			return "", err
		}
		s += base64.RawURLEncoding.EncodeToString(extra)
	}
	return s[:n], nil
}
