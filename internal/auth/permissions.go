package auth

import (
	"slices"
	"strings"
)

// PermissionString returns the canonical "resource:action" form.
func PermissionString(resource, action string) string {
	return resource + ":" + action
}

// ParsePermission splits "resource:action". ok is false if either half is empty.
func ParsePermission(s string) (resource, action string, ok bool) {
	resource, action, found := strings.Cut(s, ":")
	if !found || resource == "" || action == "" {
		return "", "", false
	}
	return resource, action, true
}

// PermissionSet is a de-duplicated set of "resource:action" strings.
type PermissionSet map[string]struct{}

// Add inserts a permission.
func (s PermissionSet) Add(perm string) {
	s[perm] = struct{}{}
}

// Has reports whether the set grants exactly (resource, action).
func (s PermissionSet) Has(resource, action string) bool {
	_, ok := s[PermissionString(resource, action)]
	return ok
}

// Contains reports membership of a "resource:action" string.
func (s PermissionSet) Contains(perm string) bool {
	_, ok := s[perm]
	return ok
}

// Sorted returns the permissions in lexical order, never nil.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Default role names.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleUser      = "user"
	RoleGuest     = "guest"
)

// Permission constants for the default catalogue.
const (
	PermUsersRead         = "users:read"
	PermUsersWrite        = "users:write"
	PermUsersDelete       = "users:delete"
	PermRolesRead         = "roles:read"
	PermRolesWrite        = "roles:write"
	PermRolesDelete       = "roles:delete"
	PermPermissionsRead   = "permissions:read"
	PermPermissionsWrite  = "permissions:write"
	PermPermissionsDelete = "permissions:delete"
	PermSystemAdmin       = "system:admin"
	PermPostsRead         = "posts:read"
	PermPostsWrite        = "posts:write"
	PermPostsDelete       = "posts:delete"
	PermPostsModerate     = "posts:moderate"
)

// catalogueEntry describes one seeded permission.
type catalogueEntry struct {
	name        string
	description string
}

// defaultPermissions is the seeded permission catalogue.
var defaultPermissions = []catalogueEntry{
	{PermUsersRead, "Read user information"},
	{PermUsersWrite, "Create and update users"},
	{PermUsersDelete, "Delete users"},
	{PermRolesRead, "Read role information"},
	{PermRolesWrite, "Create and update roles"},
	{PermRolesDelete, "Delete roles"},
	{PermPermissionsRead, "Read permission information"},
	{PermPermissionsWrite, "Create and update permissions"},
	{PermPermissionsDelete, "Delete permissions"},
	{PermSystemAdmin, "Full system administration"},
	{PermPostsRead, "Read posts"},
	{PermPostsWrite, "Create and update posts"},
	{PermPostsDelete, "Delete posts"},
	{PermPostsModerate, "Moderate posts"},
}

// defaultRole describes one seeded role and its grants.
type defaultRole struct {
	name        string
	description string
	permissions []string // nil means every catalogue permission
}

// defaultRoles is the seeded role catalogue. This is the single source of
// truth for the out-of-the-box authorisation model.
var defaultRoles = []defaultRole{
	{RoleAdmin, "Administrator with full access", nil},
	{RoleModerator, "Moderator with content management access", []string{
		PermUsersRead, PermUsersWrite, PermRolesRead,
		PermPostsRead, PermPostsWrite, PermPostsModerate,
	}},
	{RoleUser, "Regular user", []string{
		PermUsersRead, PermPostsRead, PermPostsWrite,
	}},
	{RoleGuest, "Guest with read-only access", []string{
		PermPostsRead,
	}},
}

// DefaultRolePermissions returns the seeded permissions of a default role,
// or nil for an unknown role name.
func DefaultRolePermissions(role string) []string {
	for _, r := range defaultRoles {
		if r.name != role {
			continue
		}
		if r.permissions == nil {
			all := make([]string, len(defaultPermissions))
			for i, p := range defaultPermissions {
				all[i] = p.name
			}
			return all
		}
		return slices.Clone(r.permissions)
	}
	return nil
}
