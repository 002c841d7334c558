package repository

import (
	"context"
	"time"

	"unified-ai/backend/internal/user/domain"
)

// Repository defines persistence for users. Lookups return (nil, nil) when no
// row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByVerificationTokenHash(ctx context.Context, hash string) (*domain.User, error)
	GetByResetTokenHash(ctx context.Context, hash string) (*domain.User, error)
	// Create inserts u. A duplicate email yields apperr.ErrDuplicateEmail.
	Create(ctx context.Context, u *domain.User) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	SetResetToken(ctx context.Context, id, hash string, expiresAt, at time.Time) error
	// UpdatePassword replaces the hash and clears any pending reset token.
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}
