package model

import (
	"fmt"
	"strings"
)

// Role is an organization-scoped privilege level.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

var roleRanks = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// ParseRole normalizes and validates a role string.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := roleRanks[role]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return role, nil
}

// Valid reports whether the role is one of the known levels.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Rank returns the privilege ordering: user < admin < super_admin.
// Unknown roles rank below user.
func (r Role) Rank() int {
	return roleRanks[r]
}

// AtLeast reports whether r carries at least the privilege of other.
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank()
}
