package repository

import (
	"context"

	"unified-ai/backend/internal/workspace/domain"
)

// Repository persists workspaces, their members and the mapping from
// projects and threads to the workspace that contains them. Lookups return
// (nil, nil) when no row matches.
type Repository interface {
	CreateWorkspace(ctx context.Context, w *domain.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error)

	// CreateMember inserts m. An existing (workspace, user) row yields apperr.ErrAlreadyMember.
	CreateMember(ctx context.Context, m *domain.Member) error
	GetMember(ctx context.Context, workspaceID, userID string) (*domain.Member, error)
	ListMembers(ctx context.Context, workspaceID string) ([]*domain.Member, error)

	// SetEntityWorkspace records that the entity lives in workspaceID, replacing any previous mapping.
	SetEntityWorkspace(ctx context.Context, entityType, entityID, workspaceID string) error
	// GetEntityWorkspace returns the containing workspace id, or "" when unmapped.
	GetEntityWorkspace(ctx context.Context, entityType, entityID string) (string, error)

	InTx(ctx context.Context, fn func(Repository) error) error
}
