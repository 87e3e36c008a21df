package service

import (
	"context"
	"encoding/json"
	"fmt"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
)

// sessionState is everything the manager owns; it is also the unit of persistence.
type sessionState struct {
	session      domainauth.Session
	identity     *domainauth.Identity
	cache        domainauth.PermissionCacheMeta
	refreshToken string
	kind         domainauth.PrincipalKind
}

type authRecord struct {
	Token           string `json:"token"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

type userRecord struct {
	User                *domainauth.Identity `json:"user"`
	PermissionsCachedAt *int64               `json:"permissionsCachedAt"`
}

func (m *SessionManager) captureLocked() sessionState {
	st := sessionState{
		session:      m.session,
		cache:        m.cache,
		refreshToken: m.refreshToken,
		kind:         m.kind,
	}
	if m.identity != nil {
		id := m.identity.Clone()
		st.identity = &id
	}
	if m.cache.CachedAt != nil {
		at := *m.cache.CachedAt
		st.cache.CachedAt = &at
	}
	return st
}

func (m *SessionManager) applyLocked(st sessionState) {
	m.session = st.session
	m.identity = st.identity
	m.cache = st.cache
	m.refreshToken = st.refreshToken
	m.kind = st.kind
}

// sync writes the current state to storage, or clears storage when signed out.
// Writers are serialized so storage always ends up holding the latest state.
func (m *SessionManager) sync(ctx context.Context) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.RLock()
	st := m.captureLocked()
	m.mu.RUnlock()

	if !st.session.IsAuthenticated {
		if err := m.storage.Delete(ctx, ports.SessionKeys()...); err != nil {
			return fmt.Errorf("clear session storage: %w", err)
		}
		return nil
	}

	authJSON, err := json.Marshal(authRecord{Token: st.session.Token, IsAuthenticated: true})
	if err != nil {
		return fmt.Errorf("marshal auth record: %w", err)
	}
	userJSON, err := json.Marshal(userRecord{User: st.identity, PermissionsCachedAt: st.cache.CachedAt})
	if err != nil {
		return fmt.Errorf("marshal user record: %w", err)
	}

	type entry struct {
		key   string
		value []byte
	}
	writes := []entry{
		{ports.KeyAccessToken, []byte(st.session.Token)},
		{ports.KeyUserType, []byte(st.kind)},
		{ports.KeyAuthRecord, authJSON},
		{ports.KeyUserRecord, userJSON},
	}
	if st.refreshToken != "" {
		writes = append(writes, entry{ports.KeyRefreshToken, []byte(st.refreshToken)})
	} else if err := m.storage.Delete(ctx, ports.KeyRefreshToken); err != nil {
		return fmt.Errorf("delete %s: %w", ports.KeyRefreshToken, err)
	}

	for _, w := range writes {
		if err := m.storage.Set(ctx, w.key, w.value); err != nil {
			return fmt.Errorf("write %s: %w", w.key, err)
		}
	}
	return nil
}

// Restore rehydrates the session from storage. A stored session that is
// incomplete, inconsistent or expired is discarded and false returned.
func (m *SessionManager) Restore(ctx context.Context) (bool, error) {
	values := make(map[string][]byte, len(ports.SessionKeys()))
	for _, key := range ports.SessionKeys() {
		v, ok, err := m.storage.Get(ctx, key)
		if err != nil {
			return false, apperrors.Wrapf(err, apperrors.ErrCodeInternal, "read %s", key)
		}
		if ok {
			values[key] = v
		}
	}
	if len(values) == 0 {
		return false, nil
	}

	st, reason := m.decodeStored(values)
	if reason != "" {
		m.logger.InfoContext(ctx, "discarding stored session", "reason", reason)
		m.teardown(ctx)
		return false, nil
	}

	m.mu.Lock()
	m.generation++
	m.applyLocked(st)
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "session restored", "kind", st.kind, "user_id", st.identity.ID)
	return true, nil
}

// decodeStored validates stored values; a non-empty reason means they are unusable.
func (m *SessionManager) decodeStored(values map[string][]byte) (sessionState, string) {
	token := string(values[ports.KeyAccessToken])
	if token == "" {
		return sessionState{}, "missing access token"
	}
	kind, ok := domainauth.ParsePrincipalKind(string(values[ports.KeyUserType]))
	if !ok {
		return sessionState{}, "unknown principal kind"
	}

	var ar authRecord
	if err := json.Unmarshal(values[ports.KeyAuthRecord], &ar); err != nil {
		return sessionState{}, "unreadable auth record"
	}
	if !ar.IsAuthenticated || ar.Token != token {
		return sessionState{}, "auth record does not match access token"
	}

	var ur userRecord
	if err := json.Unmarshal(values[ports.KeyUserRecord], &ur); err != nil {
		return sessionState{}, "unreadable user record"
	}
	if ur.User == nil || ur.User.PrincipalKind != kind {
		return sessionState{}, "user record does not match principal kind"
	}

	if claims, err := m.codec.Decode(token); err == nil && claims.IsExpired(m.clock.Now()) {
		return sessionState{}, "access token expired"
	}

	return sessionState{
		session:      domainauth.Session{Token: token, IsAuthenticated: true},
		identity:     ur.User,
		cache:        domainauth.PermissionCacheMeta{CachedAt: ur.PermissionsCachedAt},
		refreshToken: string(values[ports.KeyRefreshToken]),
		kind:         kind,
	}, ""
}
