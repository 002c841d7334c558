package domain

import (
	"errors"
	"strings"
	"time"
)

// Workspace is owned by exactly one user or one organization.
type Workspace struct {
	ID          string
	Name        string
	OwnerUserID string
	OwnerOrgID  string
	CreatedAt   time.Time
}

// IsOrgOwned reports whether an organization owns w.
func (w *Workspace) IsOrgOwned() bool { return w != nil && w.OwnerOrgID != "" }

// Validate validates the workspace for persistence. Returns an error describing the first validation failure.
func (w *Workspace) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return errors.New("name is required")
	}
	if (w.OwnerUserID == "") == (w.OwnerOrgID == "") {
		return errors.New("exactly one of owner user and owner organization is required")
	}
	return nil
}

// Role is a workspace role. Roles are totally ordered.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

var roleRank = map[Role]int{
	RoleOwner:  3,
	RoleEditor: 2,
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

// Member links a user to a workspace with one role.
type Member struct {
	ID          string
	WorkspaceID string
	UserID      string
	Role        Role
	CreatedAt   time.Time
}
