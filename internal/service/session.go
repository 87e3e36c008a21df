package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
	"github.com/FeruzLatifov/univer-front-sub000/internal/gateway"
	"github.com/FeruzLatifov/univer-front-sub000/internal/observability/metrics"
)

var errSessionChanged = errors.New("session changed while the request was in flight")

// Login authenticates credentials against the endpoint of their principal kind.
// On failure the existing session, if any, is left untouched.
func (m *SessionManager) Login(ctx context.Context, creds domainauth.Credentials) (domainauth.Session, error) {
	if creds == nil {
		return domainauth.Session{}, apperrors.Validation("credentials are required")
	}
	if err := creds.Validate(); err != nil {
		verr := apperrors.Validation(err.Error())
		m.recordError(verr)
		return domainauth.Session{}, verr
	}

	kind := creds.Kind()
	start := time.Now()
	res, err := m.provider.Login(ctx, creds)
	if err == nil {
		err = m.checkIssued(res.Grant.AccessToken)
	}
	if err != nil {
		authErr := asAuthenticationFailed(err)
		m.recordError(authErr)
		m.emit(metrics.EventLogin, kind, start, authErr)
		m.logger.InfoContext(ctx, "login failed", "kind", kind, "error", err)
		return domainauth.Session{}, authErr
	}

	identity := mapProfile(res.User, kind)
	now := m.clock.Now()

	m.mu.Lock()
	prev := m.captureLocked()
	m.generation++
	m.applyLocked(sessionState{
		session:      domainauth.Session{Token: res.Grant.AccessToken, IsAuthenticated: true},
		identity:     &identity,
		cache:        domainauth.Stamp(now),
		refreshToken: res.Grant.RefreshToken,
		kind:         kind,
	})
	m.lastErr = nil
	m.mu.Unlock()

	if err := m.sync(ctx); err != nil {
		m.mu.Lock()
		m.generation++
		m.applyLocked(prev)
		m.mu.Unlock()
		if rbErr := m.sync(ctx); rbErr != nil {
			m.logger.WarnContext(ctx, "restore previous session after failed login", "error", rbErr)
		}
		authErr := apperrors.AuthenticationFailed("could not save the session", err)
		m.recordError(authErr)
		m.emit(metrics.EventLogin, kind, start, authErr)
		return domainauth.Session{}, authErr
	}

	m.emit(metrics.EventLogin, kind, start, nil)
	m.logger.InfoContext(ctx, "login succeeded", "kind", kind, "user_id", identity.ID, "role", identity.Role)
	return m.Snapshot(), nil
}

// Logout ends the session. The provider is told on a best-effort basis; local
// state and storage are always cleared. Safe to call repeatedly. Callers
// navigate afterwards.
func (m *SessionManager) Logout(ctx context.Context) {
	m.mu.RLock()
	kind, token := m.kind, m.session.Token
	m.mu.RUnlock()

	if token != "" && kind.Valid() {
		lctx, cancel := m.detached(ctx)
		if err := m.provider.Logout(lctx, kind); err != nil {
			m.logger.WarnContext(ctx, "provider logout failed", "kind", kind, "error", err)
		}
		cancel()
	}

	m.endLocally(ctx, kind, token)
}

// endLocally clears local state and storage without contacting the provider.
func (m *SessionManager) endLocally(ctx context.Context, kind domainauth.PrincipalKind, token string) {
	m.teardown(ctx)
	if token != "" {
		m.emit(metrics.EventLogout, kind, time.Time{}, nil)
		m.logger.InfoContext(ctx, "logged out", "kind", kind)
	}
}

// teardown clears every piece of session state and the storage keys.
func (m *SessionManager) teardown(ctx context.Context) {
	m.mu.Lock()
	m.generation++
	m.applyLocked(sessionState{})
	m.mu.Unlock()

	if err := m.sync(ctx); err != nil {
		m.logger.WarnContext(ctx, "clear session storage", "error", err)
	}
}

// forceLogout tears the session down and sends the user to the entry point.
// Teardown must complete even when ctx is already done.
func (m *SessionManager) forceLogout(ctx context.Context, reason string, cause error) {
	ctx = context.WithoutCancel(ctx)
	m.Logout(ctx)
	m.finishForced(ctx, reason, cause)
}

// expireSession ends a session whose refresh failed without contacting the
// provider, so refresh waiters are released within one refresh timeout.
func (m *SessionManager) expireSession(ctx context.Context, reason string, cause error) {
	ctx = context.WithoutCancel(ctx)
	m.mu.RLock()
	kind, token := m.kind, m.session.Token
	m.mu.RUnlock()
	m.endLocally(ctx, kind, token)
	m.finishForced(ctx, reason, cause)
}

func (m *SessionManager) finishForced(ctx context.Context, reason string, cause error) {
	if cause != nil {
		m.recordError(cause)
	}
	m.navigate(ctx, reason)
}

// Refresh renews the access token with the stored refresh credential. On
// failure the session is torn down and a refresh_failed error returned.
func (m *SessionManager) Refresh(ctx context.Context) (domainauth.Session, error) {
	if _, err := m.renew(ctx, ""); err != nil {
		return domainauth.Session{}, err
	}
	return m.Snapshot(), nil
}

// RenewAccessToken implements gateway.SessionHooks.
func (m *SessionManager) RenewAccessToken(ctx context.Context, rejected string) (string, error) {
	return m.renew(ctx, rejected)
}

// renew coalesces concurrent refreshes into one provider call. The new token is
// stored before any waiter is released.
func (m *SessionManager) renew(ctx context.Context, rejected string) (string, error) {
	ch := m.flight.DoChan(flightRefresh, func() (any, error) {
		fctx, cancel := m.detached(ctx)
		defer cancel()
		return m.refreshOnce(fctx, rejected)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", apperrors.Wrap(ctx.Err(), apperrors.ErrCodeCanceled, "waiting for session refresh")
	}
}

func (m *SessionManager) refreshOnce(ctx context.Context, rejected string) (string, error) {
	m.mu.RLock()
	current, refreshToken, kind, gen := m.session.Token, m.refreshToken, m.kind, m.generation
	m.mu.RUnlock()

	// Another caller already replaced the rejected token, or already ended the session.
	if rejected != "" && current != "" && current != rejected {
		return current, nil
	}
	if rejected != "" && current == "" {
		return "", apperrors.RefreshFailed(gateway.ErrNoRefreshCredential)
	}

	start := time.Now()
	if refreshToken == "" || !kind.Valid() {
		err := apperrors.RefreshFailed(gateway.ErrNoRefreshCredential)
		m.emit(metrics.EventRefresh, kind, start, err)
		m.logger.InfoContext(ctx, "no refresh credential, ending session", "kind", kind)
		m.expireSession(ctx, ReasonNoRefreshCredential, err)
		return "", err
	}

	grant, err := m.provider.Refresh(ctx, kind, refreshToken)
	if err == nil {
		err = m.checkIssued(grant.AccessToken)
	}
	if err != nil {
		return "", m.failRefresh(ctx, kind, start, timeoutAware(ctx, err))
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return "", apperrors.RefreshFailed(errSessionChanged)
	}
	m.session = domainauth.Session{Token: grant.AccessToken, IsAuthenticated: true}
	if grant.RefreshToken != "" {
		m.refreshToken = grant.RefreshToken
	}
	m.lastErr = nil
	m.mu.Unlock()

	if err := m.sync(ctx); err != nil {
		return "", m.failRefresh(ctx, kind, start, err)
	}

	m.emit(metrics.EventRefresh, kind, start, nil)
	m.logger.DebugContext(ctx, "session refreshed", "kind", kind)
	return grant.AccessToken, nil
}

func (m *SessionManager) failRefresh(ctx context.Context, kind domainauth.PrincipalKind, start time.Time, err error) error {
	rerr := err
	if !apperrors.IsRefreshFailed(err) {
		rerr = apperrors.RefreshFailed(err)
	}
	m.emit(metrics.EventRefresh, kind, start, rerr)
	m.logger.WarnContext(ctx, "session refresh failed", "kind", kind, "error", err)
	m.expireSession(ctx, ReasonRefreshFailed, rerr)
	return rerr
}

// FetchProfile reloads the identity of the current principal.
func (m *SessionManager) FetchProfile(ctx context.Context) (domainauth.Identity, error) {
	m.mu.RLock()
	kind, gen, authed := m.kind, m.generation, m.session.IsAuthenticated
	m.mu.RUnlock()
	if !authed {
		return domainauth.Identity{}, apperrors.New(apperrors.ErrCodeAuthenticationFailed, "not signed in")
	}

	doc, err := m.provider.Me(ctx, kind)
	if err != nil {
		m.recordError(err)
		return domainauth.Identity{}, fmt.Errorf("fetch profile: %w", err)
	}
	identity := mapProfile(doc, kind)
	now := m.clock.Now()

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return domainauth.Identity{}, apperrors.Wrap(errSessionChanged, apperrors.ErrCodeCanceled, "profile discarded")
	}
	if doc.Permissions == nil && m.identity != nil {
		identity.Permissions = append([]string(nil), m.identity.Permissions...)
	}
	m.identity = &identity
	m.cache = domainauth.Stamp(now)
	m.mu.Unlock()

	if err := m.sync(ctx); err != nil {
		m.logger.WarnContext(ctx, "persist profile", "error", err)
	}
	return identity.Clone(), nil
}

// SwitchRole re-issues the staff token for roleID. Token and identity are
// replaced together because permissions are embedded in the token.
func (m *SessionManager) SwitchRole(ctx context.Context, roleID int64) (domainauth.Session, error) {
	m.mu.RLock()
	kind, gen, authed := m.kind, m.generation, m.session.IsAuthenticated
	var prevRoles []domainauth.RoleRef
	if m.identity != nil {
		prevRoles = append(prevRoles, m.identity.Roles...)
	}
	m.mu.RUnlock()

	if !authed {
		return domainauth.Session{}, apperrors.New(apperrors.ErrCodeAuthenticationFailed, "not signed in")
	}
	if kind != domainauth.PrincipalStaff {
		return domainauth.Session{}, apperrors.ValidationField("role_id", "role switching is only available to staff")
	}

	start := time.Now()
	res, err := m.provider.SwitchRole(ctx, roleID)
	if err == nil {
		err = m.checkIssued(res.Grant.AccessToken)
	}
	if err != nil {
		m.recordError(err)
		m.emit(metrics.EventRoleSwitch, kind, start, err)
		m.logger.WarnContext(ctx, "role switch failed", "role_id", roleID, "error", err)
		return domainauth.Session{}, err
	}

	if len(res.User.Roles) == 0 {
		res.User.Roles = prevRoles
	}
	identity := mapProfile(res.User, kind)
	now := m.clock.Now()

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return domainauth.Session{}, apperrors.Wrap(errSessionChanged, apperrors.ErrCodeCanceled, "role switch discarded")
	}
	m.generation++
	m.session = domainauth.Session{Token: res.Grant.AccessToken, IsAuthenticated: true}
	m.identity = &identity
	m.cache = domainauth.Stamp(now)
	if res.Grant.RefreshToken != "" {
		m.refreshToken = res.Grant.RefreshToken
	}
	m.lastErr = nil
	m.mu.Unlock()

	if err := m.sync(ctx); err != nil {
		m.logger.WarnContext(ctx, "persist role switch", "error", err)
	}
	m.emit(metrics.EventRoleSwitch, kind, start, nil)
	m.logger.InfoContext(ctx, "role switched", "role", identity.Role, "role_id", roleID)
	return m.Snapshot(), nil
}

// checkIssued rejects a freshly issued token that is already expired. Opaque
// tokens that do not decode are accepted.
func (m *SessionManager) checkIssued(token string) error {
	if token == "" {
		return apperrors.Internal("identity provider returned no access token")
	}
	claims, err := m.codec.Decode(token)
	if err != nil {
		m.logger.Debug("issued token is not decodable", "error", err)
		return nil
	}
	if claims.IsExpired(m.clock.Now()) {
		return apperrors.New(apperrors.ErrCodeTokenExpired, "issued token is already expired")
	}
	return nil
}

func asAuthenticationFailed(err error) error {
	switch {
	case apperrors.IsAuthenticationFailed(err):
		return err
	case apperrors.IsTokenExpired(err):
		return apperrors.AuthenticationFailed("the session token has already expired", err)
	default:
		return apperrors.AuthenticationFailed("authentication service is unavailable", err)
	}
}
