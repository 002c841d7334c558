package domain

import (
	"errors"
	"strings"
	"time"
)

// Organization is a tenant that can own workspaces.
type Organization struct {
	ID      string
	Name    string
	OwnerID string
	Plan    string
	// SeatLimit caps the number of members; 0 means unlimited.
	SeatLimit int
	CreatedAt time.Time
}

// Validate validates the organization for persistence. Returns an error describing the first validation failure.
func (o *Organization) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return errors.New("name is required")
	}
	if o.OwnerID == "" {
		return errors.New("owner is required")
	}
	if o.SeatLimit < 0 {
		return errors.New("seat limit must not be negative")
	}
	if o.Plan == "" {
		o.Plan = "free"
	}
	return nil
}

// Role is an organization role. Roles are totally ordered.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
	RoleViewer Role = "VIEWER"
)

var roleRank = map[Role]int{
	RoleOwner:  4,
	RoleAdmin:  3,
	RoleMember: 2,
	RoleViewer: 1,
}

// ParseRole normalizes s and reports whether it is a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := roleRank[r]
	return r, ok
}

// Rank returns the position of r in the hierarchy; unknown roles rank 0.
func (r Role) Rank() int { return roleRank[r] }

// Satisfies reports whether r is at least min. Unknown roles satisfy nothing.
func (r Role) Satisfies(min Role) bool {
	return r.Rank() > 0 && min.Rank() > 0 && r.Rank() >= min.Rank()
}

// Member links a user to an organization with one role and optional
// per-capability overrides.
type Member struct {
	ID     string
	OrgID  string
	UserID string
	Role   Role
	// Permissions holds explicit overrides. A false entry withholds a
	// capability the role would otherwise inherit.
	Permissions map[string]bool
	CreatedAt   time.Time
}

// Override returns the explicit override for capability, if any.
func (m *Member) Override(capability string) (allowed, set bool) {
	if m == nil || m.Permissions == nil {
		return false, false
	}
	allowed, set = m.Permissions[capability]
	return allowed, set
}
