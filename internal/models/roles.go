package models

import "strings"

// Role is a position in the access hierarchy
type Role string

const (
	RoleGuest          Role = "GUEST"
	RoleUser           Role = "USER"
	RoleModerator      Role = "MODERATOR"
	RoleEditor         Role = "EDITOR"
	RoleContentManager Role = "CONTENT_MANAGER"
	RoleAdmin          Role = "ADMIN"
	RoleSuperAdmin     Role = "SUPER_ADMIN"
)

// roleRanks orders roles from least to most privileged
var roleRanks = map[Role]int{
	RoleGuest:          0,
	RoleUser:           1,
	RoleModerator:      2,
	RoleEditor:         3,
	RoleContentManager: 4,
	RoleAdmin:          5,
	RoleSuperAdmin:     6,
}

// Permission constants
const (
	PermissionContentRead      = "content:read"
	PermissionContentWrite     = "content:write"
	PermissionContentPublish   = "content:publish"
	PermissionCommentsModerate = "comments:moderate"
	PermissionUsersRead        = "users:read"
	PermissionUsersManage      = "users:manage"
	PermissionSecurityRead     = "security:read"
	PermissionSecurityManage   = "security:manage"
)

// defaultPermissions lists what each role is granted on account creation
var defaultPermissions = map[Role][]string{
	RoleGuest: {PermissionContentRead},
	RoleUser:  {PermissionContentRead},
	RoleModerator: {
		PermissionContentRead, PermissionCommentsModerate,
	},
	RoleEditor: {
		PermissionContentRead, PermissionContentWrite,
	},
	RoleContentManager: {
		PermissionContentRead, PermissionContentWrite, PermissionContentPublish,
	},
	RoleAdmin: {
		PermissionContentRead, PermissionContentWrite, PermissionContentPublish,
		PermissionCommentsModerate, PermissionUsersRead, PermissionUsersManage,
		PermissionSecurityRead,
	},
	RoleSuperAdmin: {
		PermissionContentRead, PermissionContentWrite, PermissionContentPublish,
		PermissionCommentsModerate, PermissionUsersRead, PermissionUsersManage,
		PermissionSecurityRead, PermissionSecurityManage,
	},
}

// ParseRole normalizes a role string, returning false for unknown roles
func ParseRole(s string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := roleRanks[role]
	return role, ok
}

// Rank returns the position of the role in the hierarchy, or -1 if unknown
func (r Role) Rank() int {
	rank, ok := roleRanks[r]
	if !ok {
		return -1
	}
	return rank
}

// Satisfies reports whether r is at least as privileged as required
func (r Role) Satisfies(required Role) bool {
	if required == "" {
		return true
	}
	return r.Rank() >= 0 && r.Rank() >= required.Rank()
}

// DefaultPermissions returns a copy of the role's default permission set
func DefaultPermissions(role Role) []string {
	perms := defaultPermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// HasAllPermissions reports whether every required permission is present in granted
func HasAllPermissions(granted, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[p] = struct{}{}
	}
	for _, p := range required {
		if _, ok := set[p]; !ok {
			return false
		}
	}
	return true
}
