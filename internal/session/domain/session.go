package domain

import "time"

// Revocation reasons recorded on sessions.
const (
	ReasonLogout            = "logout"
	ReasonLogoutAll         = "logout_all"
	ReasonDeviceLogout      = "device_logout"
	ReasonRefreshTokenReuse = "refresh_token_reuse"
)

// Session is one login of a user, optionally bound to a device. A session is
// active while it is neither revoked nor past ExpiresAt.
type Session struct {
	ID               string
	UserID           string
	DeviceID         string // empty when the login did not name a device
	RefreshJti       string // jti of the current refresh token
	RefreshTokenHash string // SHA-256 of the current refresh token
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	RevokedReason    string
	IPAddress        string
	UserAgent        string
	LastSeenAt       *time.Time
	CreatedAt        time.Time
}

// IsActiveAt reports whether the session can authenticate requests at now.
func (s *Session) IsActiveAt(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
