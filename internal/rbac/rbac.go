// Package rbac maps profile roles onto static permission sets. All
// functions are pure and synchronous; a nil profile grants nothing.
package rbac

import "github.com/ShemaiahYaba/academic-repo/internal/profiles"

// Wildcard grants every permission.
const Wildcard = "*"

// Permissions recognized by the application.
const (
	PermRead          = "read"
	PermWrite         = "write"
	PermWriteOwn      = "write_own"
	PermModerate      = "moderate"
	PermDeleteOwn     = "delete_own"
	PermUploadJournal = "upload_journal"
)

var rolePermissions = map[profiles.Role]map[string]struct{}{
	profiles.RoleAdmin: {
		Wildcard: {},
	},
	profiles.RoleEditor: {
		PermRead:          {},
		PermWrite:         {},
		PermModerate:      {},
		PermDeleteOwn:     {},
		PermUploadJournal: {},
	},
	profiles.RoleUser: {
		PermRead:      {},
		PermWriteOwn:  {},
		PermDeleteOwn: {},
	},
}

// HasRole reports whether the profile carries exactly the given role.
func HasRole(profile *profiles.Profile, role profiles.Role) bool {
	return profile != nil && profile.Role == role
}

// HasPermission reports whether the profile's role grants the permission,
// either exactly or through the wildcard.
func HasPermission(profile *profiles.Profile, permission string) bool {
	if profile == nil {
		return false
	}
	granted, ok := rolePermissions[profile.Role]
	if !ok {
		return false
	}
	if _, ok := granted[Wildcard]; ok {
		return true
	}
	_, ok = granted[permission]
	return ok
}

// PermissionsFor returns the permission set for a role, for display
// surfaces. The returned slice is a copy.
func PermissionsFor(role profiles.Role) []string {
	granted, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(granted))
	for perm := range granted {
		out = append(out, perm)
	}
	return out
}
