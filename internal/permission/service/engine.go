// Package service implements permission grants and the permission check
// that combines explicit grants, organization inheritance and workspace
// role capabilities.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/audit"
	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/permission/domain"
	"unified-ai/backend/internal/permission/repository"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/platform/clock"
	"unified-ai/backend/internal/platform/ids"
	"unified-ai/backend/internal/platform/metrics"
	policyengine "unified-ai/backend/internal/policy/engine"
	wsdomain "unified-ai/backend/internal/workspace/domain"
)

// Check sources, as reported to metrics.
const (
	sourceUserGrant = "user_grant"
	sourceRoleGrant = "role_grant"
	sourceInherited = "inherited"
	sourceRole      = "role"
	sourceNone      = "none"
)

// Roles is the part of rbac.Engine the permission engine needs.
type Roles interface {
	ResolveWorkspace(ctx context.Context, entityType domain.EntityType, entityID string) (*wsdomain.Workspace, error)
	WorkspaceRole(ctx context.Context, userID, workspaceID string) (wsdomain.Role, error)
	HasInheritedAccess(ctx context.Context, userID string, entityType domain.EntityType, entityID string, capability domain.Capability) (bool, error)
}

// Options holds the optional collaborators of Engine.
type Options struct {
	Audit   audit.AuditLogger
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Log     logrus.FieldLogger
}

// Engine grants, revokes and checks permissions.
type Engine struct {
	repo      repository.Repository
	roles     Roles
	evaluator policyengine.Evaluator
	audit     audit.AuditLogger
	clock     clock.Clock
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
}

// NewEngine returns an Engine. evaluator decides which capabilities a
// workspace role implies.
func NewEngine(repo repository.Repository, roles Roles, evaluator policyengine.Evaluator, opts Options) *Engine {
	e := &Engine{
		repo:      repo,
		roles:     roles,
		evaluator: evaluator,
		audit:     opts.Audit,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		log:       logging.OrDiscard(opts.Log),
	}
	if e.audit == nil {
		e.audit = audit.Nop{}
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	return e
}

// GrantInput describes a permission set. Exactly one of UserID and RoleID is
// set; RoleID names a workspace role whose holders receive the set.
type GrantInput struct {
	EntityType  string
	EntityID    string
	UserID      string
	RoleID      string
	Permissions map[string]bool
	ExpiresAt   *time.Time
	GrantedBy   string
}

// GrantPermission stores the set, replacing any previous set for the same
// entity and grantee. The grantor must hold share and every capability the
// set grants, and the set may not outlive the grantor's own access to them.
// Users cannot grant to themselves.
func (e *Engine) GrantPermission(ctx context.Context, in GrantInput) (*domain.PermissionSet, error) {
	et, ok := domain.ParseEntityType(in.EntityType)
	if !ok {
		return nil, apperr.Validation("entity type must be WORKSPACE, PROJECT or THREAD")
	}
	entityID := strings.TrimSpace(in.EntityID)
	if entityID == "" {
		return nil, apperr.Validation("entity id is required")
	}
	roleID, err := grantee(in.UserID, in.RoleID)
	if err != nil {
		return nil, err
	}
	if len(in.Permissions) == 0 {
		return nil, apperr.Validation("permissions are required")
	}
	perms := make(map[domain.Capability]bool, len(in.Permissions))
	for name, allowed := range in.Permissions {
		c, ok := domain.ParseCapability(name)
		if !ok {
			return nil, apperr.Validation("capability names must not be empty")
		}
		perms[c] = allowed
	}
	now := e.clock.Now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, apperr.Validation("expires_at must be in the future")
	}
	if in.GrantedBy == "" {
		return nil, apperr.Validation("grantor is required")
	}
	if in.UserID == in.GrantedBy {
		return nil, apperr.ErrPermissionDenied
	}
	if err := e.authorizeGrant(ctx, in.GrantedBy, et, entityID, perms, in.ExpiresAt); err != nil {
		return nil, err
	}

	p := &domain.PermissionSet{
		ID:          ids.New(),
		EntityType:  et,
		EntityID:    entityID,
		UserID:      in.UserID,
		RoleID:      roleID,
		Permissions: perms,
		GrantedBy:   in.GrantedBy,
		GrantedAt:   now,
		ExpiresAt:   in.ExpiresAt,
	}
	if err := e.repo.Upsert(ctx, p); err != nil {
		return nil, err
	}
	meta := map[string]any{"user_id": p.UserID, "role_id": p.RoleID, "permissions": in.Permissions}
	if p.ExpiresAt != nil {
		meta["expires_at"] = p.ExpiresAt.UTC().Format(time.RFC3339)
	}
	e.audit.LogEvent(ctx, "", in.GrantedBy, audit.ActionPermissionGranted, resource(et, entityID), meta)
	return p, nil
}

// authorizeGrant checks that grantor holds share and every capability perms
// sets to true, with access lasting at least until expiresAt (nil: forever).
func (e *Engine) authorizeGrant(ctx context.Context, grantor string, et domain.EntityType, entityID string, perms map[domain.Capability]bool, expiresAt *time.Time) error {
	needed := []domain.Capability{domain.CapShare}
	for c, allowed := range perms {
		if allowed && c != domain.CapShare {
			needed = append(needed, c)
		}
	}
	for _, c := range needed {
		a, err := e.access(ctx, grantor, et, entityID, c)
		if err != nil {
			return err
		}
		if a.source == sourceNone {
			return apperr.ErrPermissionDenied
		}
		if a.until != nil && (expiresAt == nil || expiresAt.After(*a.until)) {
			return apperr.Validation("grant of %q must expire by %s, when the grantor's access ends", c, a.until.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

// RevokeInput names the set to remove.
type RevokeInput struct {
	EntityType string
	EntityID   string
	UserID     string
	RoleID     string
	RevokedBy  string
}

// RevokePermission deletes the set, or returns apperr.ErrNotFound.
func (e *Engine) RevokePermission(ctx context.Context, in RevokeInput) error {
	et, ok := domain.ParseEntityType(in.EntityType)
	if !ok {
		return apperr.Validation("entity type must be WORKSPACE, PROJECT or THREAD")
	}
	roleID, err := grantee(in.UserID, in.RoleID)
	if err != nil {
		return err
	}
	var deleted bool
	if in.UserID != "" {
		deleted, err = e.repo.DeleteForUser(ctx, et, in.EntityID, in.UserID)
	} else {
		deleted, err = e.repo.DeleteForRole(ctx, et, in.EntityID, roleID)
	}
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.ErrNotFound
	}
	e.audit.LogEvent(ctx, "", in.RevokedBy, audit.ActionPermissionRevoked, resource(et, in.EntityID), map[string]any{
		"user_id": in.UserID,
		"role_id": roleID,
	})
	return nil
}

// ListGrants returns every set stored for the entity, expired ones included.
func (e *Engine) ListGrants(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.PermissionSet, error) {
	return e.repo.ListByEntity(ctx, entityType, entityID)
}

// CheckPermission reports whether userID may perform capability on the
// entity. Access comes from an unexpired grant to the user or to the user's
// workspace role, from organization inheritance, or from the capabilities
// the user's workspace role implies.
func (e *Engine) CheckPermission(ctx context.Context, userID string, entityType domain.EntityType, entityID string, capability domain.Capability) (bool, error) {
	a, err := e.access(ctx, userID, entityType, entityID, capability)
	if err != nil {
		return false, err
	}
	allowed := a.source != sourceNone
	e.metrics.PermissionCheck(allowed, a.source)
	return allowed, nil
}

// grantAccess is how a user holds a capability: source names where it comes
// from and until, when set, is when the last time-bounded grant providing it
// lapses.
type grantAccess struct {
	source string
	until  *time.Time
}

// access resolves capability for userID. Time-bounded grants only decide the
// result when no permanent source provides the capability.
func (e *Engine) access(ctx context.Context, userID string, entityType domain.EntityType, entityID string, capability domain.Capability) (grantAccess, error) {
	none := grantAccess{source: sourceNone}
	if userID == "" {
		return none, nil
	}
	if _, ok := domain.ParseEntityType(string(entityType)); !ok {
		return none, apperr.Validation("entity type must be WORKSPACE, PROJECT or THREAD")
	}
	now := e.clock.Now()
	best := none
	consider := func(set *domain.PermissionSet, source string) bool {
		if !set.Grants(capability, now) {
			return false
		}
		if set.ExpiresAt == nil {
			best = grantAccess{source: source}
			return true
		}
		if best.source == sourceNone || best.until.Before(*set.ExpiresAt) {
			until := *set.ExpiresAt
			best = grantAccess{source: source, until: &until}
		}
		return false
	}

	set, err := e.repo.GetForUser(ctx, entityType, entityID, userID)
	if err != nil {
		return none, err
	}
	if consider(set, sourceUserGrant) {
		return best, nil
	}

	role, err := e.workspaceRole(ctx, userID, entityType, entityID)
	if err != nil {
		return none, err
	}
	if role != "" {
		set, err := e.repo.GetForRole(ctx, entityType, entityID, string(role))
		if err != nil {
			return none, err
		}
		if consider(set, sourceRoleGrant) {
			return best, nil
		}
	}

	inherited, err := e.roles.HasInheritedAccess(ctx, userID, entityType, entityID, capability)
	if err != nil {
		return none, err
	}
	if inherited {
		return grantAccess{source: sourceInherited}, nil
	}

	if role != "" {
		ok, err := e.evaluator.Allows(ctx, string(role), string(capability))
		if err != nil {
			return none, err
		}
		if ok {
			return grantAccess{source: sourceRole}, nil
		}
	}
	return best, nil
}

func (e *Engine) workspaceRole(ctx context.Context, userID string, entityType domain.EntityType, entityID string) (wsdomain.Role, error) {
	w, err := e.roles.ResolveWorkspace(ctx, entityType, entityID)
	if err != nil || w == nil {
		return "", err
	}
	return e.roles.WorkspaceRole(ctx, userID, w.ID)
}

// Sweep deletes sets that expired more than retention ago.
func (e *Engine) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := e.repo.DeleteExpiredBefore(ctx, e.clock.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	e.metrics.SweepDeleted("permission_sets", n)
	if n > 0 {
		e.log.WithField("deleted", n).Info("permission: swept expired grants")
	}
	return n, nil
}

// grantee validates that exactly one of userID and roleID is set and returns
// the normalized role id.
func grantee(userID, roleID string) (string, error) {
	if (userID == "") == (roleID == "") {
		return "", apperr.Validation("exactly one of user_id and role_id is required")
	}
	if roleID == "" {
		return "", nil
	}
	r, ok := wsdomain.ParseRole(roleID)
	if !ok {
		return "", apperr.Validation("role_id must be a workspace role (OWNER, EDITOR or VIEWER)")
	}
	return string(r), nil
}

func resource(et domain.EntityType, id string) string {
	return "permission:" + string(et) + ":" + id
}
