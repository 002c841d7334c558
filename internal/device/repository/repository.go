package repository

import (
	"context"
	"time"

	"unified-ai/backend/internal/device/domain"
)

// Repository defines persistence for devices. Lookups return (nil, nil) when
// no row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Device, error)
	GetByUserAndName(ctx context.Context, userID, name string) (*domain.Device, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Device, error)
	// Create inserts d; a concurrent insert of the same (user, name) returns ErrDuplicateDevice.
	Create(ctx context.Context, d *domain.Device) error
	// UpdateLastSync never moves last_sync_at backwards.
	UpdateLastSync(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
}
