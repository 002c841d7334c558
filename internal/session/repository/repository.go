package repository

import (
	"context"
	"time"

	"unified-ai/backend/internal/session/domain"
)

// Repository defines persistence for sessions. Lookups return (nil, nil) when
// no row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// RotateRefreshToken replaces the refresh binding only while the stored hash
	// still equals oldHash and the session is unrevoked. It reports whether
	// this caller won the swap.
	RotateRefreshToken(ctx context.Context, id, oldHash, newJTI, newHash string, expiresAt, at time.Time) (bool, error)
	// Revoke reports whether the session was active before the call.
	Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error)
	RevokeByDevice(ctx context.Context, userID, deviceID, reason string, at time.Time) (int64, error)
	RevokeAllByUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
	// DeleteStale removes sessions that expired or were revoked before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}
