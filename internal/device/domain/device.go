package domain

import (
	"strings"
	"time"
)

// Platform is the client family a device runs.
type Platform string

const (
	PlatformDesktop Platform = "desktop"
	PlatformWeb     Platform = "web"
	PlatformMobile  Platform = "mobile"
)

// ParsePlatform normalizes s and reports whether it names a known platform.
func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlatformDesktop, PlatformWeb, PlatformMobile:
		return p, true
	}
	return "", false
}

// Device is a client installation belonging to exactly one user. Name is
// unique per user.
type Device struct {
	ID         string
	UserID     string
	Name       string
	Platform   Platform
	LastSyncAt *time.Time
	IsActive   bool
	CreatedAt  time.Time
}
