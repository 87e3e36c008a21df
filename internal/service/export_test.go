package service

import "time"

// TamperPermissions mutates the cached identity directly, the way a user with
// devtools access could, bypassing every mutator.
func TamperPermissions(m *SessionManager, perms []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity != nil {
		m.identity.Permissions = perms
	}
}

// SetCachedAt overrides the permission cache timestamp.
func SetCachedAt(m *SessionManager, at time.Time) {
	ms := at.UnixMilli()
	m.mu.Lock()
	m.cache.CachedAt = &ms
	m.mu.Unlock()
}

// ClearCachedAt marks the permission list as never resolved.
func ClearCachedAt(m *SessionManager) {
	m.mu.Lock()
	m.cache.CachedAt = nil
	m.mu.Unlock()
}
