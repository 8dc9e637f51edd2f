package enums

import "fmt"

// UserRole identifies what a user is to the pool.
type UserRole string

const (
	UserRoleInvestor UserRole = "investor"
	UserRoleCompany  UserRole = "company"
	UserRoleOperator UserRole = "operator"
	UserRoleAdmin    UserRole = "admin"
)

var validUserRoles = []UserRole{
	UserRoleInvestor,
	UserRoleCompany,
	UserRoleOperator,
	UserRoleAdmin,
}

// String implements fmt.Stringer.
func (r UserRole) String() string {
	return string(r)
}

// IsValid reports whether the value matches the canonical role set.
func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == r {
			return true
		}
	}
	return false
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
