package provider

// Package provider implements ports.IdentityProvider over the university API.
// Every call goes through the gateway so bearer handling and envelope unwrapping live in one place.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
	"github.com/FeruzLatifov/univer-front-sub000/internal/gateway"
	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
)

// Endpoint paths below a principal kind's prefix.
const (
	pathLogin      = "auth/login"
	pathLogout     = "auth/logout"
	pathRefresh    = "auth/refresh"
	pathMe         = "auth/me"
	pathRoleSwitch = "auth/role/switch"
)

// Paths locates each principal kind's endpoints.
type Paths struct {
	StaffPrefix   string
	StudentPrefix string
	// Permissions is the background permission endpoint.
	Permissions string
}

// DefaultPaths mirrors the production route layout.
func DefaultPaths() Paths {
	return Paths{
		StaffPrefix:   "/api/staff",
		StudentPrefix: "/api/student",
		Permissions:   "/api/user/permissions",
	}
}

// Options groups dependencies for HTTPProvider.
type Options struct {
	Gateway gateway.Doer
	Paths   Paths
	Logger  *slog.Logger
}

// HTTPProvider implements ports.IdentityProvider.
type HTTPProvider struct {
	gw     gateway.Doer
	paths  Paths
	logger *slog.Logger
}

var _ ports.IdentityProvider = (*HTTPProvider)(nil)

// New constructs an HTTPProvider. Empty paths fall back to DefaultPaths.
func New(opts Options) *HTTPProvider {
	paths := opts.Paths
	def := DefaultPaths()
	if paths.StaffPrefix == "" {
		paths.StaffPrefix = def.StaffPrefix
	}
	if paths.StudentPrefix == "" {
		paths.StudentPrefix = def.StudentPrefix
	}
	if paths.Permissions == "" {
		paths.Permissions = def.Permissions
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProvider{gw: opts.Gateway, paths: paths, logger: logger}
}

func (p *HTTPProvider) endpoint(kind domainauth.PrincipalKind, path string) string {
	prefix := p.paths.StaffPrefix
	if kind == domainauth.PrincipalStudent {
		prefix = p.paths.StudentPrefix
	}
	return strings.TrimRight(prefix, "/") + "/" + path
}

type staffLoginBody struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type studentLoginBody struct {
	StudentID string `json:"student_id"`
	Password  string `json:"password"`
}

type grantPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (g grantPayload) grant() ports.TokenGrant {
	return ports.TokenGrant{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		TokenType:    g.TokenType,
		ExpiresIn:    g.ExpiresIn,
	}
}

type loginPayload struct {
	grantPayload
	User json.RawMessage `json:"user"`
}

// Login posts the credentials to the endpoint of their principal kind.
func (p *HTTPProvider) Login(ctx context.Context, creds domainauth.Credentials) (ports.LoginResult, error) {
	var body any
	switch c := creds.(type) {
	case domainauth.StaffCredentials:
		body = staffLoginBody{Login: c.Login, Password: c.Password}
	case domainauth.StudentCredentials:
		body = studentLoginBody{StudentID: c.StudentID, Password: c.Password}
	default:
		return ports.LoginResult{}, apperrors.Validation("unsupported credentials")
	}

	resp, err := p.gw.Do(ctx, &gateway.Request{
		Method:    http.MethodPost,
		Path:      p.endpoint(creds.Kind(), pathLogin),
		Body:      body,
		Anonymous: true,
	})
	if err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			return ports.LoginResult{}, apperrors.AuthenticationFailed(apiErr.Message, err)
		}
		return ports.LoginResult{}, err
	}
	res, err := p.loginResult(resp)
	if err != nil {
		return ports.LoginResult{}, err
	}
	p.logger.DebugContext(ctx, "login accepted", "kind", creds.Kind(), "user_id", res.User.ID)
	return res, nil
}

func (p *HTTPProvider) loginResult(resp *gateway.Response) (ports.LoginResult, error) {
	if !resp.Success {
		return ports.LoginResult{}, apperrors.AuthenticationFailed(resp.Message, nil)
	}
	var payload loginPayload
	if err := resp.Decode(&payload); err != nil {
		return ports.LoginResult{}, err
	}
	if payload.AccessToken == "" {
		return ports.LoginResult{}, apperrors.AuthenticationFailed(resp.Message, apperrors.Internal("response carries no access token"))
	}
	user, err := DecodeUserDocument(payload.User)
	if err != nil {
		return ports.LoginResult{}, err
	}
	return ports.LoginResult{Grant: payload.grant(), User: user, Message: resp.Message}, nil
}

// Logout invalidates the session token for the principal kind.
func (p *HTTPProvider) Logout(ctx context.Context, kind domainauth.PrincipalKind) error {
	_, err := p.gw.Do(ctx, &gateway.Request{
		Method:    http.MethodPost,
		Path:      p.endpoint(kind, pathLogout),
		NoRefresh: true,
	})
	return err
}

// Refresh sends the refresh credential as the bearer.
func (p *HTTPProvider) Refresh(ctx context.Context, kind domainauth.PrincipalKind, refreshToken string) (ports.TokenGrant, error) {
	if refreshToken == "" {
		return ports.TokenGrant{}, apperrors.Validation("refresh token is required")
	}
	resp, err := p.gw.Do(ctx, &gateway.Request{
		Method: http.MethodPost,
		Path:   p.endpoint(kind, pathRefresh),
		Bearer: refreshToken,
	})
	if err != nil {
		return ports.TokenGrant{}, err
	}
	if !resp.Success {
		return ports.TokenGrant{}, apperrors.RefreshFailed(apperrors.New(apperrors.ErrCodeNetwork, resp.Message))
	}
	var payload grantPayload
	if err := resp.Decode(&payload); err != nil {
		return ports.TokenGrant{}, err
	}
	if payload.AccessToken == "" {
		return ports.TokenGrant{}, apperrors.RefreshFailed(apperrors.Internal("response carries no access token"))
	}
	return payload.grant(), nil
}

// Me returns the profile of the current principal.
func (p *HTTPProvider) Me(ctx context.Context, kind domainauth.PrincipalKind) (ports.UserDocument, error) {
	resp, err := p.gw.Do(ctx, &gateway.Request{Method: http.MethodGet, Path: p.endpoint(kind, pathMe)})
	if err != nil {
		return ports.UserDocument{}, err
	}
	return DecodeUserDocument(resp.Data)
}

type switchRoleBody struct {
	RoleID int64 `json:"role_id"`
}

// SwitchRole re-issues the staff token for roleID.
func (p *HTTPProvider) SwitchRole(ctx context.Context, roleID int64) (ports.LoginResult, error) {
	resp, err := p.gw.Do(ctx, &gateway.Request{
		Method: http.MethodPost,
		Path:   p.endpoint(domainauth.PrincipalStaff, pathRoleSwitch),
		Body:   switchRoleBody{RoleID: roleID},
	})
	if err != nil {
		return ports.LoginResult{}, err
	}
	if !resp.Success {
		return ports.LoginResult{}, apperrors.New(apperrors.ErrCodeForbidden, resp.Message)
	}
	var payload loginPayload
	if err := resp.Decode(&payload); err != nil {
		return ports.LoginResult{}, err
	}
	if payload.AccessToken == "" {
		return ports.LoginResult{}, apperrors.Internal("role switch response carries no access token")
	}
	user, err := DecodeUserDocument(payload.User)
	if err != nil {
		return ports.LoginResult{}, err
	}
	return ports.LoginResult{Grant: payload.grant(), User: user, Message: resp.Message}, nil
}

type permissionsPayload struct {
	Permissions []string `json:"permissions"`
}

// Permissions fetches the caller's current permission list.
func (p *HTTPProvider) Permissions(ctx context.Context) ([]string, error) {
	resp, err := p.gw.Do(ctx, &gateway.Request{Method: http.MethodGet, Path: p.paths.Permissions})
	if err != nil {
		return nil, err
	}
	var payload permissionsPayload
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}
	if payload.Permissions == nil {
		return []string{}, nil
	}
	return payload.Permissions, nil
}
