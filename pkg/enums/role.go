package enums

import "fmt"

// Role is the trusted caller role claim provided by the identity collaborator.
type Role string

const (
	RoleJobGiver  Role = "job_giver"
	RoleInstaller Role = "installer"
	RoleAdmin     Role = "admin"
)

var validRoles = []Role{
	RoleJobGiver,
	RoleInstaller,
	RoleAdmin,
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts raw input into a Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
