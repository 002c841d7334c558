package repository

import (
	"context"
	"time"

	"unified-ai/backend/internal/permission/domain"
)

// Repository persists permission sets. Lookups return (nil, nil) when no row
// matches; expiry is not filtered here.
type Repository interface {
	// Upsert inserts p or replaces the set for the same entity and grantee.
	// p.ID is set to the stored row's id.
	Upsert(ctx context.Context, p *domain.PermissionSet) error
	GetForUser(ctx context.Context, entityType domain.EntityType, entityID, userID string) (*domain.PermissionSet, error)
	GetForRole(ctx context.Context, entityType domain.EntityType, entityID, roleID string) (*domain.PermissionSet, error)
	ListByEntity(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.PermissionSet, error)
	DeleteForUser(ctx context.Context, entityType domain.EntityType, entityID, userID string) (bool, error)
	DeleteForRole(ctx context.Context, entityType domain.EntityType, entityID, roleID string) (bool, error)
	// DeleteExpiredBefore removes sets whose expiry is at or before t.
	DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error)
}
