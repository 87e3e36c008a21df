package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
	"github.com/FeruzLatifov/univer-front-sub000/internal/gateway"
	"github.com/FeruzLatifov/univer-front-sub000/internal/observability/metrics"
	"github.com/FeruzLatifov/univer-front-sub000/internal/observability/statsd"
	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
)

// LevelSecurity is the slog level for tamper signals. It sorts above Error so
// alerting can key on it.
const LevelSecurity = slog.Level(12)

const (
	// DefaultRefreshTimeout bounds a token refresh; a timeout counts as failure.
	DefaultRefreshTimeout = 15 * time.Second

	flightRefresh     = "refresh"
	flightPermissions = "permissions"
)

// Teardown reasons passed to the navigator.
const (
	ReasonTokenExpired        = "token_expired"
	ReasonIntegrityViolation  = "integrity_violation"
	ReasonRefreshFailed       = "refresh_failed"
	ReasonNoRefreshCredential = "no_refresh_credential"
)

// ProviderFactory builds the identity provider on top of the manager's gateway.
type ProviderFactory func(gw gateway.Doer) ports.IdentityProvider

// SessionDeps groups the ports the manager depends on.
type SessionDeps struct {
	NewProvider ProviderFactory  // Required
	Codec       ports.TokenCodec // Required
	Storage     ports.Storage    // Required
	Navigator   ports.Navigator  // Optional: no redirect when nil
	Clock       ports.Clock      // Optional: system time when nil
	Metrics     statsd.Sink      // Optional
}

// SessionConfig tunes the manager.
type SessionConfig struct {
	BaseURL     string
	HTTPClient  *http.Client
	MessageExpr string
	FieldsExpr  string

	SuperAdminRole string        // default domainauth.DefaultSuperAdminRole
	PermissionTTL  time.Duration // default domainauth.PermissionTTL
	RefreshTimeout time.Duration // default DefaultRefreshTimeout
}

// SessionManagerOptions groups dependencies for SessionManager.
type SessionManagerOptions struct {
	Deps   SessionDeps
	Config SessionConfig
	Logger *slog.Logger
}

// SessionManager owns the session token, the cached identity and the
// permission cache timestamp. It is the only writer of all three; the gateway
// reaches it through gateway.SessionHooks and route guards through its
// read-only accessors.
type SessionManager struct {
	provider  ports.IdentityProvider
	gw        *gateway.Client
	codec     ports.TokenCodec
	storage   ports.Storage
	navigator ports.Navigator
	clock     ports.Clock
	sink      statsd.Sink
	logger    *slog.Logger

	superAdminRole string
	permissionTTL  time.Duration
	refreshTimeout time.Duration

	mu           sync.RWMutex
	session      domainauth.Session
	identity     *domainauth.Identity
	cache        domainauth.PermissionCacheMeta
	refreshToken string
	kind         domainauth.PrincipalKind
	lastErr      error
	// generation changes on every login, role switch and teardown so late
	// background results can tell the session they started for is gone.
	generation uint64

	persistMu sync.Mutex
	flight    singleflight.Group
	bg        sync.WaitGroup
}

var (
	_ gateway.SessionHooks = (*SessionManager)(nil)
	_ oauth2.TokenSource   = (*SessionManager)(nil)
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewSessionManager constructs a SessionManager together with its gateway and provider.
func NewSessionManager(opts SessionManagerOptions) (*SessionManager, error) {
	if opts.Deps.NewProvider == nil {
		panic("ProviderFactory is required")
	}
	if opts.Deps.Codec == nil {
		panic("TokenCodec is required")
	}
	if opts.Deps.Storage == nil {
		panic("Storage is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config

	m := &SessionManager{
		codec:          opts.Deps.Codec,
		storage:        opts.Deps.Storage,
		navigator:      opts.Deps.Navigator,
		clock:          opts.Deps.Clock,
		sink:           opts.Deps.Metrics,
		logger:         logger.With("component", "session"),
		superAdminRole: cfg.SuperAdminRole,
		permissionTTL:  cfg.PermissionTTL,
		refreshTimeout: cfg.RefreshTimeout,
	}
	if m.clock == nil {
		m.clock = systemClock{}
	}
	if m.superAdminRole == "" {
		m.superAdminRole = domainauth.DefaultSuperAdminRole
	}
	if m.permissionTTL <= 0 {
		m.permissionTTL = domainauth.PermissionTTL
	}
	if m.refreshTimeout <= 0 {
		m.refreshTimeout = DefaultRefreshTimeout
	}

	gw, err := gateway.New(gateway.Options{
		BaseURL:     cfg.BaseURL,
		HTTPClient:  cfg.HTTPClient,
		Hooks:       m,
		Logger:      logger,
		MessageExpr: cfg.MessageExpr,
		FieldsExpr:  cfg.FieldsExpr,
	})
	if err != nil {
		return nil, err
	}
	m.gw = gw
	m.provider = opts.Deps.NewProvider(gw)
	if m.provider == nil {
		panic("ProviderFactory returned nil")
	}
	return m, nil
}

// Gateway returns the client every API call should go through.
func (m *SessionManager) Gateway() *gateway.Client { return m.gw }

// AccessToken implements gateway.SessionHooks.
func (m *SessionManager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Token
}

// Snapshot returns a copy of the current session.
func (m *SessionManager) Snapshot() domainauth.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// IsAuthenticated reports the session flag.
func (m *SessionManager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.IsAuthenticated
}

// Identity returns a deep copy of the cached identity.
func (m *SessionManager) Identity() (domainauth.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return domainauth.Identity{}, false
	}
	return m.identity.Clone(), true
}

// PrincipalKind returns the kind of the signed-in principal, or "".
func (m *SessionManager) PrincipalKind() domainauth.PrincipalKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.kind
}

// HasRole reports whether the identity's active role is code.
func (m *SessionManager) HasRole(code string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity != nil && m.identity.Role == code
}

// IsSuperAdmin reports whether the active role bypasses path checks.
func (m *SessionManager) IsSuperAdmin() bool {
	return m.HasRole(m.superAdminRole)
}

// AvailableRoles lists the roles the principal may switch into.
func (m *SessionManager) AvailableRoles() []domainauth.RoleRef {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return nil
	}
	return slices.Clone(m.identity.Roles)
}

// Token implements oauth2.TokenSource over the current session so domain
// clients can be built with oauth2.NewClient.
func (m *SessionManager) Token() (*oauth2.Token, error) {
	token := m.AccessToken()
	if token == "" {
		return nil, apperrors.New(apperrors.ErrCodeAuthenticationFailed, "not signed in")
	}
	tok := &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
	if claims, err := m.codec.Decode(token); err == nil {
		tok.Expiry = claims.ExpiresAt()
	}
	return tok, nil
}

// LastError returns the last recorded session error.
func (m *SessionManager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// ClearError clears the last recorded error without side effects.
func (m *SessionManager) ClearError() {
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()
}

// Wait blocks until outstanding background work has finished.
func (m *SessionManager) Wait() {
	m.bg.Wait()
}

func (m *SessionManager) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *SessionManager) emit(event string, kind domainauth.PrincipalKind, start time.Time, err error) {
	in := metrics.AuthEvent{
		Event:  event,
		Kind:   string(kind),
		Result: metrics.ResultFor(err),
		Err:    err,
	}
	if !start.IsZero() {
		in.Duration = time.Since(start)
	}
	metrics.EmitAuthEvent(m.sink, in)
}

func (m *SessionManager) navigate(ctx context.Context, reason string) {
	if m.navigator != nil {
		m.navigator.ToEntryPoint(ctx, reason)
	}
}

// detached returns a context that survives the caller's cancellation but is
// bounded by the refresh timeout.
func (m *SessionManager) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
}

func timeoutAware(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) && !apperrors.IsTimeout(err) {
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "identity provider timed out")
	}
	return err
}
