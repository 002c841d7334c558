package domain

import (
	"strings"
	"time"
)

// EntityType is the kind of resource a permission targets.
type EntityType string

const (
	EntityWorkspace EntityType = "WORKSPACE"
	EntityProject   EntityType = "PROJECT"
	EntityThread    EntityType = "THREAD"
)

// ParseEntityType normalizes s and reports whether it is a known entity type.
func ParseEntityType(s string) (EntityType, bool) {
	t := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case EntityWorkspace, EntityProject, EntityThread:
		return t, true
	}
	return "", false
}

// Capability is an action on a resource, e.g. "read".
type Capability string

const (
	CapRead   Capability = "read"
	CapWrite  Capability = "write"
	CapDelete Capability = "delete"
	CapShare  Capability = "share"
	CapExport Capability = "export"
	CapAdmin  Capability = "admin"
)

// ParseCapability lowercases s. Capability maps are open-ended, so any
// non-empty name is accepted.
func ParseCapability(s string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	return c, c != ""
}

// PermissionSet grants capabilities on one entity either to a user or to a
// workspace role template (RoleID holds the workspace role name). Exactly one
// of UserID and RoleID is set.
type PermissionSet struct {
	ID          string
	EntityType  EntityType
	EntityID    string
	UserID      string
	RoleID      string
	Permissions map[Capability]bool
	GrantedBy   string
	GrantedAt   time.Time
	ExpiresAt   *time.Time
}

// ActiveAt reports whether p is still in force at now. A set whose expiry is
// not after now is treated as absent.
func (p *PermissionSet) ActiveAt(now time.Time) bool {
	return p != nil && (p.ExpiresAt == nil || now.Before(*p.ExpiresAt))
}

// Grants reports whether p, at now, grants c.
func (p *PermissionSet) Grants(c Capability, now time.Time) bool {
	return p.ActiveAt(now) && p.Permissions[c]
}
