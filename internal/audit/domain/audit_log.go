package domain

import "time"

// AuditLog is one security-relevant event.
type AuditLog struct {
	ID        string
	OrgID     string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  map[string]any
	CreatedAt time.Time
}
