package auth

// Package auth contains domain-level types for sessions, identities and permissions.
// It is pure and free of framework/adapter concerns.

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// PrincipalKind identifies one of the two authentication populations.
// Each kind uses its own endpoints and its own identity document.
type PrincipalKind string

const (
	PrincipalStaff   PrincipalKind = "staff"
	PrincipalStudent PrincipalKind = "student"
)

// Valid reports whether k is a known principal kind.
func (k PrincipalKind) Valid() bool {
	return k == PrincipalStaff || k == PrincipalStudent
}

// ParsePrincipalKind converts a stored string into a PrincipalKind.
func ParsePrincipalKind(s string) (PrincipalKind, bool) {
	k := PrincipalKind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

const (
	// PermissionTTL is the freshness window of a resolved permission list.
	PermissionTTL = 15 * time.Minute

	// WildcardPermission grants every path.
	WildcardPermission = "*"

	// DefaultSuperAdminRole is the role code that bypasses path checks.
	DefaultSuperAdminRole = "super_admin"

	// StudentRole is the role code assigned to every student principal.
	StudentRole = "student"
)

// Credentials is the tagged union of login inputs.
// Implementations are StaffCredentials and StudentCredentials.
type Credentials interface {
	Kind() PrincipalKind
	Validate() error
}

// StaffCredentials authenticate an employee by login name.
type StaffCredentials struct {
	Login    string
	Password string
}

func (StaffCredentials) Kind() PrincipalKind { return PrincipalStaff }

func (c StaffCredentials) Validate() error {
	if strings.TrimSpace(c.Login) == "" {
		return errors.New("login is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// StudentCredentials authenticate a student by student ID number.
type StudentCredentials struct {
	StudentID string
	Password  string
}

func (StudentCredentials) Kind() PrincipalKind { return PrincipalStudent }

func (c StudentCredentials) Validate() error {
	if strings.TrimSpace(c.StudentID) == "" {
		return errors.New("student ID is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// Session is the current credential and its derived authentication flag.
// IsAuthenticated implies Token != "" and an unexpired exp claim at the time it was set.
type Session struct {
	Token           string `json:"token"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

// RoleRef is a role the principal may switch into.
type RoleRef struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Identity is the resolved user profile.
// Permissions is a working copy; the token's claim is authoritative.
type Identity struct {
	ID            int64          `json:"id"`
	DisplayName   string         `json:"displayName"`
	PrincipalKind PrincipalKind  `json:"principalKind"`
	Role          string         `json:"role"`
	RoleID        *int64         `json:"roleId,omitempty"`
	RoleName      string         `json:"roleName"`
	Roles         []RoleRef      `json:"roles"`
	Permissions   []string       `json:"permissions"`
	AvatarURL     string         `json:"avatarUrl,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate cached state.
func (i Identity) Clone() Identity {
	out := i
	if i.RoleID != nil {
		id := *i.RoleID
		out.RoleID = &id
	}
	out.Roles = slices.Clone(i.Roles)
	out.Permissions = slices.Clone(i.Permissions)
	if i.Meta != nil {
		out.Meta = make(map[string]any, len(i.Meta))
		for k, v := range i.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// IsStudent returns true for student principals.
func (i Identity) IsStudent() bool { return i.PrincipalKind == PrincipalStudent }

// TokenClaims are the claims read from a signed token. Never stored; recomputed on demand.
type TokenClaims struct {
	// Exp is seconds since epoch; zero when the claim is absent.
	Exp int64
	// Permissions is only meaningful when HasPermissions is true.
	Permissions []string
	// HasPermissions is false for old-format tokens without the claim.
	HasPermissions bool
}

// IsExpired reports claims.exp*1000 < now (epoch ms). A missing exp never expires.
func (c TokenClaims) IsExpired(now time.Time) bool {
	if c.Exp == 0 {
		return false
	}
	return c.Exp*1000 < now.UnixMilli()
}

// ExpiresAt returns the expiry as a time, or the zero time when absent.
func (c TokenClaims) ExpiresAt() time.Time {
	if c.Exp == 0 {
		return time.Time{}
	}
	return time.Unix(c.Exp, 0)
}

// PermissionCacheMeta tracks when permissions were last resolved.
type PermissionCacheMeta struct {
	// CachedAt is epoch ms; nil means never resolved.
	CachedAt *int64 `json:"permissionsCachedAt"`
}

// IsFresh reports whether the cache is valid at now for the given TTL.
func (m PermissionCacheMeta) IsFresh(now time.Time, ttl time.Duration) bool {
	if m.CachedAt == nil {
		return false
	}
	return now.UnixMilli()-*m.CachedAt < ttl.Milliseconds()
}

// Stamp returns a cache meta marking permissions resolved at now.
func Stamp(now time.Time) PermissionCacheMeta {
	ms := now.UnixMilli()
	return PermissionCacheMeta{CachedAt: &ms}
}
