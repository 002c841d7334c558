package domain

import (
	"errors"
	"time"
)

// User is an account holder. Accounts are never hard-deleted; DeletedAt marks
// a soft delete.
type User struct {
	ID            string
	Email         string
	PasswordHash  string
	DisplayName   string
	EmailVerified bool
	// VerificationTokenHash and ResetTokenHash store SHA-256 hashes of the
	// emailed secrets, never the secrets themselves.
	VerificationTokenHash string
	ResetTokenHash        string
	ResetTokenExpiresAt   *time.Time
	Status                UserStatus
	DeletedAt             *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// CanAuthenticate reports whether the account may log in or hold sessions.
func (u *User) CanAuthenticate() bool {
	return u != nil && u.DeletedAt == nil && u.Status == UserStatusActive
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}
