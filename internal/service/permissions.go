package service

import (
	"context"
	"slices"
	"time"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
	"github.com/FeruzLatifov/univer-front-sub000/internal/observability/metrics"
)

// authoritative is the permission claim of the current token.
type authoritative struct {
	perms []string
	// present is false when there is no token, it does not decode, or the claim is absent.
	present bool
	// expired means the session was torn down during the lookup.
	expired bool
}

func (m *SessionManager) lookupAuthoritative(ctx context.Context) authoritative {
	token := m.AccessToken()
	if token == "" {
		return authoritative{}
	}
	claims, err := m.codec.Decode(token)
	if err != nil {
		// Claims unavailable: fall back to the cached identity, do not log out.
		m.logger.DebugContext(ctx, "token claims unavailable", "error", err)
		return authoritative{}
	}
	if claims.IsExpired(m.clock.Now()) {
		m.mu.RLock()
		kind := m.kind
		m.mu.RUnlock()
		expErr := apperrors.New(apperrors.ErrCodeTokenExpired, "session token expired")
		m.emit(metrics.EventTokenExpired, kind, time.Time{}, expErr)
		m.logger.InfoContext(ctx, "session token expired", "kind", kind, "expired_at", claims.ExpiresAt())
		m.forceLogout(ctx, ReasonTokenExpired, expErr)
		return authoritative{expired: true}
	}
	if !claims.HasPermissions {
		return authoritative{}
	}
	return authoritative{perms: slices.Clone(claims.Permissions), present: true}
}

// AuthoritativePermissions returns the permission claim of the signed token.
// It reports false when the claim is unavailable; an expired token also ends the session.
func (m *SessionManager) AuthoritativePermissions(ctx context.Context) ([]string, bool) {
	a := m.lookupAuthoritative(ctx)
	return a.perms, a.present
}

// IsSessionIntegrityValid compares the cached permission list with the signed
// token's claim. A mismatch is a tamper signal: the session is torn down.
// Tokens without the claim are trivially valid.
func (m *SessionManager) IsSessionIntegrityValid(ctx context.Context) bool {
	m.mu.RLock()
	if m.identity == nil {
		m.mu.RUnlock()
		return true
	}
	cached := slices.Clone(m.identity.Permissions)
	userID, kind := m.identity.ID, m.kind
	m.mu.RUnlock()

	a := m.lookupAuthoritative(ctx)
	if a.expired {
		return false
	}
	if !a.present || domainauth.SamePermissions(cached, a.perms) {
		return true
	}

	violation := apperrors.New(apperrors.ErrCodeIntegrityViolation, "cached permissions do not match the signed token")
	m.logger.Log(ctx, LevelSecurity, "permission integrity violation",
		"user_id", userID,
		"kind", kind,
		"cached_count", len(cached),
		"token_count", len(a.perms),
	)
	m.emit(metrics.EventIntegrityViolation, kind, time.Time{}, violation)
	m.forceLogout(ctx, ReasonIntegrityViolation, violation)
	return false
}

// IsCacheFresh reports whether the permission list was resolved within the TTL.
func (m *SessionManager) IsCacheFresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.IsFresh(m.clock.Now(), m.permissionTTL)
}

// RefreshPermissionsInBackground re-resolves a stale permission list without
// blocking. Failures are logged and the stale list kept. A result that arrives
// after the session changed is discarded.
func (m *SessionManager) RefreshPermissionsInBackground(ctx context.Context) {
	m.mu.RLock()
	skip := m.identity == nil || m.session.Token == "" || m.cache.IsFresh(m.clock.Now(), m.permissionTTL)
	gen, kind := m.generation, m.kind
	m.mu.RUnlock()
	if skip {
		return
	}

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		// Concurrent triggers share one fetch.
		_, _, _ = m.flight.Do(flightPermissions, func() (any, error) {
			bctx, cancel := m.detached(ctx)
			defer cancel()
			m.refreshPermissions(bctx, gen, kind)
			return nil, nil
		})
	}()
}

func (m *SessionManager) refreshPermissions(ctx context.Context, gen uint64, kind domainauth.PrincipalKind) {
	start := time.Now()
	perms, err := m.provider.Permissions(ctx)
	if err != nil {
		err = timeoutAware(ctx, err)
		m.emit(metrics.EventPermissionsRefresh, kind, start, err)
		m.logger.WarnContext(ctx, "background permission refresh failed, keeping cached list", "error", err)
		return
	}

	m.mu.Lock()
	if m.generation != gen || m.identity == nil {
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "discarding permissions for a previous session")
		return
	}
	m.identity.Permissions = slices.Clone(perms)
	if m.identity.Permissions == nil {
		m.identity.Permissions = []string{}
	}
	m.cache = domainauth.Stamp(m.clock.Now())
	m.mu.Unlock()

	if err := m.sync(ctx); err != nil {
		m.logger.WarnContext(ctx, "persist refreshed permissions", "error", err)
	}
	m.emit(metrics.EventPermissionsRefresh, kind, start, nil)
}

// CanAccessPath decides whether the session may open path. The decision uses
// already-known state; a stale permission list is refreshed for later calls.
func (m *SessionManager) CanAccessPath(ctx context.Context, path string) bool {
	m.mu.RLock()
	hasIdentity := m.identity != nil
	m.mu.RUnlock()
	if !hasIdentity {
		return false
	}

	if !m.IsSessionIntegrityValid(ctx) {
		return false
	}

	m.RefreshPermissionsInBackground(ctx)

	effective, ok := m.AuthoritativePermissions(ctx)
	m.mu.RLock()
	var role string
	if m.identity != nil {
		role = m.identity.Role
		if !ok {
			effective = slices.Clone(m.identity.Permissions)
		}
	}
	m.mu.RUnlock()

	return domainauth.Grants(domainauth.GrantInput{
		Role:           role,
		SuperAdminRole: m.superAdminRole,
		Permissions:    effective,
		Path:           path,
	})
}
