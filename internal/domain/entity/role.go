// Package entity contains the core business objects of the project.
package entity

import "slices"

// Role represents the type of role a user can have in the system.
type Role string

const (
	// RoleRider indicates a regular rider, the default role for new accounts.
	RoleRider Role = "RIDER"
	// RoleDriver indicates a driver.
	RoleDriver Role = "DRIVER"
	// RoleFleetOwner indicates a fleet owner who manages drivers.
	RoleFleetOwner Role = "FLEET_OWNER"
	// RoleAdmin indicates an administrator.
	RoleAdmin Role = "ADMIN"
	// RoleSuperAdmin indicates a super administrator.
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// DefaultRole is assigned to users registered through the phone OTP flow.
const DefaultRole = RoleRider

// roleRanks orders roles for privilege comparison; higher outranks lower.
var roleRanks = map[Role]int{
	RoleRider:      1,
	RoleDriver:     2,
	RoleFleetOwner: 3,
	RoleAdmin:      4,
	RoleSuperAdmin: 5,
}

// String returns the string representation of the Role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the Role is a valid value.
func (r Role) IsValid() bool {
	_, ok := roleRanks[r]

	return ok
}

// Rank returns the privilege rank of the role, 0 for unknown roles.
func (r Role) Rank() int {
	return roleRanks[r]
}

// AtLeast reports whether this role has the privileges of the required role.
func (r Role) AtLeast(required Role) bool {
	return r.Rank() >= required.Rank()
}

// IsAdmin reports whether the role carries administrative privileges.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Roles is a slice of Role for convenience.
type Roles []Role

// Contains checks if the roles slice contains a specific role.
func (rs Roles) Contains(role Role) bool {
	return slices.Contains(rs, role)
}

// Highest returns the highest-ranked role, or DefaultRole when empty.
func (rs Roles) Highest() Role {
	highest := DefaultRole
	for _, r := range rs {
		if r.Rank() > highest.Rank() {
			highest = r
		}
	}

	return highest
}

// ToStrings converts Roles to []string for JWT compatibility.
func (rs Roles) ToStrings() []string {
	result := make([]string, len(rs))
	for i, r := range rs {
		result[i] = r.String()
	}

	return result
}

// RolesFromStrings converts []string to Roles, filtering out invalid role strings.
func RolesFromStrings(ss []string) Roles {
	result := make(Roles, 0, len(ss))
	for _, s := range ss {
		role := Role(s)
		if role.IsValid() {
			result = append(result, role)
		}
	}

	return result
}
