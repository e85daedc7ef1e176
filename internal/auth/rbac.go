package auth

import "strings"

// Role is the coarse access level assigned to an account.
type Role string

const (
	RoleUser       Role = "user"
	RoleAnalyst    Role = "analyst"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Permission keys used across the service. A permission is "resource:action";
// "resource:*" grants every action on the resource and "*" grants everything.
const (
	PermMetricsView    = "metrics:view"
	PermDashboardsView = "dashboards:view"
	PermAlertsView     = "alerts:view"
	PermLogsView       = "logs:view"
	PermAIQuery        = "ai:query"
	PermUsersManage    = "users:manage"
	PermAPIKeysManage  = "apikeys:manage"
	PermAdminAccess    = "admin:access"
)

// rolePermissions is the static grant table. It is never mutated at runtime.
var rolePermissions = map[Role][]string{
	RoleUser: {
		PermMetricsView,
		PermDashboardsView,
		PermAlertsView,
		PermAIQuery,
	},
	RoleAnalyst: {
		"metrics:*",
		"dashboards:*",
		"alerts:*",
		"reports:*",
		PermLogsView,
		PermAIQuery,
	},
	RoleAdmin: {
		"metrics:*",
		"dashboards:*",
		"alerts:*",
		"reports:*",
		"logs:*",
		"ai:*",
		PermUsersManage,
		PermAPIKeysManage,
		PermAdminAccess,
	},
	RoleSuperadmin: {
		"*",
	},
}

// ParseRole normalizes a raw role string. Unknown roles degrade to the least
// privileged role, never to an elevated one.
func ParseRole(raw string) Role {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleAnalyst:
		return RoleAnalyst
	case RoleAdmin:
		return RoleAdmin
	case RoleSuperadmin:
		return RoleSuperadmin
	default:
		return RoleUser
	}
}

// Valid reports whether the role is one of the known levels.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAnalyst, RoleAdmin, RoleSuperadmin:
		return true
	}
	return false
}

// PermissionsFor returns the permission set granted to a role. The returned
// slice is a copy.
func PermissionsFor(role Role) []string {
	grants, ok := rolePermissions[role]
	if !ok {
		grants = rolePermissions[RoleUser]
	}
	out := make([]string, len(grants))
	copy(out, grants)
	return out
}

// Allows reports whether the granted set satisfies a single permission.
// Matching is case-sensitive: exact match, resource-level wildcard
// ("metrics:*" satisfies "metrics:view"), or global wildcard "*".
func Allows(permission string, granted []string) bool {
	if permission == "" {
		return false
	}
	resource, _, hasAction := strings.Cut(permission, ":")
	for _, g := range granted {
		if g == "*" || g == permission {
			return true
		}
		if hasAction && g == resource+":*" {
			return true
		}
	}
	return false
}

// RequireAll reports whether every listed permission individually passes
// Allows against the granted set.
func RequireAll(required []string, granted []string) bool {
	for _, perm := range required {
		if !Allows(perm, granted) {
			return false
		}
	}
	return true
}
