package auth

import (
	"slices"
	"strings"
)

const pathSeparator = "/"

// NormalizePath trims leading and trailing separators.
func NormalizePath(p string) string {
	return strings.Trim(strings.TrimSpace(p), pathSeparator)
}

// GrantInput is the already-resolved state needed for a path decision.
type GrantInput struct {
	Role           string
	SuperAdminRole string
	Permissions    []string
	Path           string
}

// Grants decides whether the effective permission list authorizes a path.
// An empty list never grants. The super-admin role and the wildcard grant everything.
// Otherwise a permission grants the same path or any path it is a segment prefix of,
// so "employees" grants "employees/workload" but not "employeesx".
func Grants(in GrantInput) bool {
	if len(in.Permissions) == 0 {
		return false
	}
	superAdmin := in.SuperAdminRole
	if superAdmin == "" {
		superAdmin = DefaultSuperAdminRole
	}
	if in.Role == superAdmin || slices.Contains(in.Permissions, WildcardPermission) {
		return true
	}

	path := NormalizePath(in.Path)
	for _, p := range in.Permissions {
		if NormalizePath(p) == path {
			return true
		}
	}
	for _, p := range in.Permissions {
		perm := NormalizePath(p)
		if perm == "" {
			continue
		}
		if strings.HasPrefix(path, perm+pathSeparator) {
			return true
		}
	}
	return false
}

// SamePermissions compares two permission lists irrespective of order.
func SamePermissions(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}
