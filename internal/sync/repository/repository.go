package repository

import (
	"context"
	"time"

	"unified-ai/backend/internal/sync/domain"
)

// Repository persists sync events and conflicts. Lookups return (nil, nil)
// when no row matches.
type Repository interface {
	CreateEvent(ctx context.Context, e *domain.Event) error
	GetEventsByIDs(ctx context.Context, ids []string) ([]*domain.Event, error)
	// ListEventsByUserSince returns events of userID recorded strictly after
	// since, ordered by recorded_at then id. limit <= 0 means no limit.
	ListEventsByUserSince(ctx context.Context, userID string, since time.Time, limit int) ([]*domain.Event, error)
	// LatestCounter returns the highest counter deviceID has emitted for its
	// own entry on the given entity, 0 when it has none.
	LatestCounter(ctx context.Context, deviceID, entityType, entityID string) (uint64, error)
	// MarkEventsResolved stamps conflict_resolved and the strategy on ids.
	MarkEventsResolved(ctx context.Context, ids []string, strategy domain.Strategy) (int64, error)

	// CreateConflict inserts c unless a conflict with the same id exists.
	// It reports whether a row was inserted.
	CreateConflict(ctx context.Context, c *domain.Conflict) (bool, error)
	GetConflict(ctx context.Context, id string) (*domain.Conflict, error)
	// ListOpenConflictsByUser returns open conflicts containing an event of userID.
	ListOpenConflictsByUser(ctx context.Context, userID string) ([]*domain.Conflict, error)
	// ResolveConflict stores the resolution fields of c if it is still open and
	// reports whether it was.
	ResolveConflict(ctx context.Context, c *domain.Conflict) (bool, error)

	// InTx runs fn against a repository bound to one transaction.
	InTx(ctx context.Context, fn func(Repository) error) error
}
