package metadata

import (
	"slices"

	"restkit/internal/rules"
)

// UserContext represents the authenticated user, set by auth middleware.
type UserContext struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole checks whether the user has a specific role.
func (u *UserContext) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// IsAdmin checks whether the user has the admin role.
func (u *UserContext) IsAdmin() bool {
	return u.HasRole("admin")
}

// Subject converts the user for rule evaluation. A nil user has no roles.
func (u *UserContext) Subject() rules.Subject {
	if u == nil {
		return rules.Subject{}
	}
	return rules.Subject{ID: u.ID, Roles: u.Roles}
}
