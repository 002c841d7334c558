package repository

import (
	"context"

	"unified-ai/backend/internal/organization/domain"
)

// Repository defines persistence for organizations and their members.
// Lookups return (nil, nil) when no row matches.
type Repository interface {
	CreateOrganization(ctx context.Context, o *domain.Organization) error
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	// LockOrganization returns the organization and holds a row lock until
	// the surrounding transaction ends.
	LockOrganization(ctx context.Context, id string) (*domain.Organization, error)

	// CreateMember inserts m. An existing (org, user) row yields apperr.ErrAlreadyMember.
	CreateMember(ctx context.Context, m *domain.Member) error
	GetMember(ctx context.Context, orgID, userID string) (*domain.Member, error)
	ListMembers(ctx context.Context, orgID string) ([]*domain.Member, error)
	CountMembers(ctx context.Context, orgID string) (int, error)
	CountMembersWithRole(ctx context.Context, orgID string, role domain.Role) (int, error)
	UpdateMemberRole(ctx context.Context, orgID, userID string, role domain.Role) (bool, error)
	DeleteMember(ctx context.Context, orgID, userID string) (bool, error)

	InTx(ctx context.Context, fn func(Repository) error) error
}
