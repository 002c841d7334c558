package rbac

import (
	"context"

	orgdomain "unified-ai/backend/internal/organization/domain"
	"unified-ai/backend/internal/platform/apperr"
	wsdomain "unified-ai/backend/internal/workspace/domain"
)

// RequireOrganizationRole returns nil when userID holds at least minRole in
// orgID. Callers without it get apperr.ErrNotFound so the organization's
// existence is not disclosed.
func (e *Engine) RequireOrganizationRole(ctx context.Context, userID, orgID string, minRole orgdomain.Role) error {
	if userID == "" {
		return apperr.ErrInvalidToken
	}
	ok, err := e.CheckOrganizationRole(ctx, userID, orgID, minRole)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrNotFound
	}
	return nil
}

// RequireWorkspaceRole is RequireOrganizationRole for workspaces.
func (e *Engine) RequireWorkspaceRole(ctx context.Context, userID, workspaceID string, minRole wsdomain.Role) error {
	if userID == "" {
		return apperr.ErrInvalidToken
	}
	ok, err := e.CheckWorkspaceRole(ctx, userID, workspaceID, minRole)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrNotFound
	}
	return nil
}
