package domain

// Role is the role claim carried by producer tokens.
type Role string

const (
	RoleAnon          Role = "anon"
	RoleAuthenticated Role = "authenticated"
	RoleService       Role = "service_role"
)

// HasPermission checks if role has at least the permissions of required role.
func (r Role) HasPermission(required Role) bool {
	return r.level() >= required.level()
}

func (r Role) level() int {
	switch r {
	case RoleService:
		return 2
	case RoleAuthenticated:
		return 1
	default:
		return 0
	}
}
