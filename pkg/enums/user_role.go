package enums

import "fmt"

// UserRole is the identity-level role carried on user events.
type UserRole string

const (
	UserRoleStudent       UserRole = "student"
	UserRoleEncadrant     UserRole = "encadrant"
	UserRoleAdmin         UserRole = "admin"
	UserRoleEstablishment UserRole = "establishment"
)

var validUserRoles = []UserRole{
	UserRoleStudent,
	UserRoleEncadrant,
	UserRoleAdmin,
	UserRoleEstablishment,
}

// String implements fmt.Stringer.
func (r UserRole) String() string {
	return string(r)
}

// IsValid reports whether the role is recognized.
func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanDecideApplications reports whether the role may accept or reject applications.
func (r UserRole) CanDecideApplications() bool {
	return r == UserRoleEncadrant || r == UserRoleAdmin
}

// ParseUserRole converts raw input into UserRole.
func ParseUserRole(value string) (UserRole, error) {
	for _, candidate := range validUserRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user role %q", value)
}
