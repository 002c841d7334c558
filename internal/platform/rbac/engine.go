// Package rbac decides organization and workspace role questions: who is a
// member with which role, and which capabilities org admins inherit on
// org-owned workspaces.
package rbac

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/audit"
	"unified-ai/backend/internal/logging"
	orgdomain "unified-ai/backend/internal/organization/domain"
	orgrepo "unified-ai/backend/internal/organization/repository"
	permdomain "unified-ai/backend/internal/permission/domain"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/platform/clock"
	"unified-ai/backend/internal/platform/ids"
	wsdomain "unified-ai/backend/internal/workspace/domain"
	wsrepo "unified-ai/backend/internal/workspace/repository"
)

// Options holds the optional collaborators of Engine.
type Options struct {
	Audit audit.AuditLogger
	Clock clock.Clock
	Log   logrus.FieldLogger
}

// Engine manages memberships and answers role checks.
type Engine struct {
	orgs       orgrepo.Repository
	workspaces wsrepo.Repository
	audit      audit.AuditLogger
	clock      clock.Clock
	log        logrus.FieldLogger
}

// NewEngine returns an Engine over the organization and workspace repositories.
func NewEngine(orgs orgrepo.Repository, workspaces wsrepo.Repository, opts Options) *Engine {
	e := &Engine{
		orgs:       orgs,
		workspaces: workspaces,
		audit:      opts.Audit,
		clock:      opts.Clock,
		log:        logging.OrDiscard(opts.Log),
	}
	if e.audit == nil {
		e.audit = audit.Nop{}
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	return e
}

// CreateOrganizationInput describes a new organization.
type CreateOrganizationInput struct {
	Name      string
	OwnerID   string
	Plan      string
	SeatLimit int
}

// CreateOrganization creates the organization and makes its owner an OWNER member.
func (e *Engine) CreateOrganization(ctx context.Context, in CreateOrganizationInput) (*orgdomain.Organization, error) {
	now := e.clock.Now()
	org := &orgdomain.Organization{
		ID:        ids.New(),
		Name:      strings.TrimSpace(in.Name),
		OwnerID:   in.OwnerID,
		Plan:      in.Plan,
		SeatLimit: in.SeatLimit,
		CreatedAt: now,
	}
	if err := org.Validate(); err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	err := e.orgs.InTx(ctx, func(tx orgrepo.Repository) error {
		if err := tx.CreateOrganization(ctx, org); err != nil {
			return err
		}
		return tx.CreateMember(ctx, &orgdomain.Member{
			ID: ids.New(), OrgID: org.ID, UserID: in.OwnerID, Role: orgdomain.RoleOwner, CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	e.audit.LogEvent(ctx, org.ID, in.OwnerID, audit.ActionMemberAdded, "organization:"+org.ID, map[string]any{"role": string(orgdomain.RoleOwner)})
	return org, nil
}

// AddOrganizationMemberInput describes a membership to create.
type AddOrganizationMemberInput struct {
	OrgID  string
	UserID string
	Role   string
	// Permissions holds per-capability overrides; false withholds an inherited capability.
	Permissions map[string]bool
	AddedBy     string
}

// AddOrganizationMember inserts a membership on behalf of AddedBy, who must be
// an ADMIN allowed to grant Role (see mayManage). The organization's seat
// limit is checked under a row lock so concurrent adds cannot exceed it.
func (e *Engine) AddOrganizationMember(ctx context.Context, in AddOrganizationMemberInput) (*orgdomain.Member, error) {
	role, ok := orgdomain.ParseRole(in.Role)
	if !ok {
		return nil, apperr.Validation("role must be OWNER, ADMIN, MEMBER or VIEWER")
	}
	if in.UserID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if !ids.Valid(in.OrgID) {
		return nil, apperr.ErrNotFound
	}
	m := &orgdomain.Member{
		ID:          ids.New(),
		OrgID:       in.OrgID,
		UserID:      in.UserID,
		Role:        role,
		Permissions: normalizeOverrides(in.Permissions),
		CreatedAt:   e.clock.Now(),
	}
	err := e.orgs.InTx(ctx, func(tx orgrepo.Repository) error {
		org, err := tx.LockOrganization(ctx, in.OrgID)
		if err != nil {
			return err
		}
		if org == nil {
			return apperr.ErrNotFound
		}
		if err := authorizeMemberChange(ctx, tx, org.ID, in.AddedBy, role); err != nil {
			return err
		}
		if org.SeatLimit > 0 {
			n, err := tx.CountMembers(ctx, org.ID)
			if err != nil {
				return err
			}
			if n >= org.SeatLimit {
				return apperr.Validation("organization seat limit of %d reached", org.SeatLimit)
			}
		}
		return tx.CreateMember(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	e.audit.LogEvent(ctx, in.OrgID, in.AddedBy, audit.ActionMemberAdded, "organization_member:"+in.UserID, map[string]any{"role": string(role)})
	return m, nil
}

// UpdateOrganizationMemberRole changes a member's role. The actor must be
// allowed to manage both the current and the new role, and the last OWNER
// cannot be demoted.
func (e *Engine) UpdateOrganizationMemberRole(ctx context.Context, orgID, userID, newRole, actorID string) error {
	role, ok := orgdomain.ParseRole(newRole)
	if !ok {
		return apperr.Validation("role must be OWNER, ADMIN, MEMBER or VIEWER")
	}
	var previous orgdomain.Role
	err := e.orgs.InTx(ctx, func(tx orgrepo.Repository) error {
		m, err := e.lockedMember(ctx, tx, orgID, userID)
		if err != nil {
			return err
		}
		if err := authorizeMemberChange(ctx, tx, orgID, actorID, m.Role, role); err != nil {
			return err
		}
		previous = m.Role
		if m.Role == orgdomain.RoleOwner && role != orgdomain.RoleOwner {
			if err := ensureAnotherOwner(ctx, tx, orgID); err != nil {
				return err
			}
		}
		_, err = tx.UpdateMemberRole(ctx, orgID, userID, role)
		return err
	})
	if err != nil {
		return err
	}
	e.audit.LogEvent(ctx, orgID, actorID, audit.ActionRoleChanged, "organization_member:"+userID, map[string]any{
		"from": string(previous),
		"to":   string(role),
	})
	return nil
}

// RemoveOrganizationMember deletes a membership. Members may always remove
// themselves; anyone else needs authority over the member's role. The last
// OWNER cannot be removed.
func (e *Engine) RemoveOrganizationMember(ctx context.Context, orgID, userID, actorID string) error {
	err := e.orgs.InTx(ctx, func(tx orgrepo.Repository) error {
		m, err := e.lockedMember(ctx, tx, orgID, userID)
		if err != nil {
			return err
		}
		if actorID != userID {
			if err := authorizeMemberChange(ctx, tx, orgID, actorID, m.Role); err != nil {
				return err
			}
		}
		if m.Role == orgdomain.RoleOwner {
			if err := ensureAnotherOwner(ctx, tx, orgID); err != nil {
				return err
			}
		}
		_, err = tx.DeleteMember(ctx, orgID, userID)
		return err
	})
	if err != nil {
		return err
	}
	e.audit.LogEvent(ctx, orgID, actorID, audit.ActionMemberRemoved, "organization_member:"+userID, nil)
	return nil
}

func (e *Engine) lockedMember(ctx context.Context, tx orgrepo.Repository, orgID, userID string) (*orgdomain.Member, error) {
	if !ids.Valid(orgID) {
		return nil, apperr.ErrNotFound
	}
	org, err := tx.LockOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, apperr.ErrNotFound
	}
	m, err := tx.GetMember(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperr.ErrNotFound
	}
	return m, nil
}

// authorizeMemberChange checks that actorID is an ADMIN or OWNER of orgID who
// may manage every role in roles. Callers below ADMIN get the uniform
// ErrNotFound; admins acting on a role at or above their own get
// ErrPermissionDenied.
func authorizeMemberChange(ctx context.Context, tx orgrepo.Repository, orgID, actorID string, roles ...orgdomain.Role) error {
	if actorID == "" {
		return apperr.ErrNotFound
	}
	actor, err := tx.GetMember(ctx, orgID, actorID)
	if err != nil {
		return err
	}
	if actor == nil || !actor.Role.Satisfies(orgdomain.RoleAdmin) {
		return apperr.ErrNotFound
	}
	for _, r := range roles {
		if !mayManage(actor.Role, r) {
			return apperr.ErrPermissionDenied
		}
	}
	return nil
}

// mayManage reports whether a member holding actor may assign or revoke role.
// Only OWNER manages OWNER; everyone else manages strictly lower roles.
func mayManage(actor, role orgdomain.Role) bool {
	if actor == orgdomain.RoleOwner {
		return true
	}
	return actor.Rank() > role.Rank()
}

func ensureAnotherOwner(ctx context.Context, tx orgrepo.Repository, orgID string) error {
	owners, err := tx.CountMembersWithRole(ctx, orgID, orgdomain.RoleOwner)
	if err != nil {
		return err
	}
	if owners <= 1 {
		return apperr.Validation("organization must keep at least one owner")
	}
	return nil
}

// ListOrganizationMembers returns the organization's members.
func (e *Engine) ListOrganizationMembers(ctx context.Context, orgID string) ([]*orgdomain.Member, error) {
	if !ids.Valid(orgID) {
		return nil, apperr.ErrNotFound
	}
	return e.orgs.ListMembers(ctx, orgID)
}

// CheckOrganizationRole reports whether userID holds at least minRole in orgID.
// Non-members hold no role.
func (e *Engine) CheckOrganizationRole(ctx context.Context, userID, orgID string, minRole orgdomain.Role) (bool, error) {
	if minRole.Rank() == 0 {
		return false, apperr.Validation("unknown organization role %q", minRole)
	}
	if !ids.Valid(orgID) {
		return false, nil
	}
	m, err := e.orgs.GetMember(ctx, orgID, userID)
	if err != nil {
		return false, err
	}
	return m != nil && m.Role.Satisfies(minRole), nil
}

// CreateWorkspaceInput describes a new workspace. Exactly one of OwnerUserID
// and OwnerOrgID is set; CreatedBy becomes the workspace OWNER.
type CreateWorkspaceInput struct {
	Name        string
	OwnerUserID string
	OwnerOrgID  string
	CreatedBy   string
}

// CreateWorkspace creates the workspace and its OWNER membership.
func (e *Engine) CreateWorkspace(ctx context.Context, in CreateWorkspaceInput) (*wsdomain.Workspace, error) {
	now := e.clock.Now()
	w := &wsdomain.Workspace{
		ID:          ids.New(),
		Name:        strings.TrimSpace(in.Name),
		OwnerUserID: in.OwnerUserID,
		OwnerOrgID:  in.OwnerOrgID,
		CreatedAt:   now,
	}
	if err := w.Validate(); err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	if in.CreatedBy == "" {
		return nil, apperr.Validation("creator is required")
	}
	if in.OwnerOrgID != "" && !ids.Valid(in.OwnerOrgID) {
		return nil, apperr.Validation("owner_org_id is not a valid id")
	}
	err := e.workspaces.InTx(ctx, func(tx wsrepo.Repository) error {
		if err := tx.CreateWorkspace(ctx, w); err != nil {
			return err
		}
		return tx.CreateMember(ctx, &wsdomain.Member{
			ID: ids.New(), WorkspaceID: w.ID, UserID: in.CreatedBy, Role: wsdomain.RoleOwner, CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	e.audit.LogEvent(ctx, in.OwnerOrgID, in.CreatedBy, audit.ActionMemberAdded, "workspace:"+w.ID, map[string]any{"role": string(wsdomain.RoleOwner)})
	return w, nil
}

// AddWorkspaceMember inserts a workspace membership. Only an OWNER of the
// workspace, or of the organization owning it, may add another OWNER.
func (e *Engine) AddWorkspaceMember(ctx context.Context, workspaceID, userID, role, actorID string) (*wsdomain.Member, error) {
	r, ok := wsdomain.ParseRole(role)
	if !ok {
		return nil, apperr.Validation("role must be OWNER, EDITOR or VIEWER")
	}
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if !ids.Valid(workspaceID) {
		return nil, apperr.ErrNotFound
	}
	w, err := e.workspaces.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, apperr.ErrNotFound
	}
	if r == wsdomain.RoleOwner {
		ok, err := e.ownsWorkspace(ctx, actorID, w)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.ErrPermissionDenied
		}
	}
	m := &wsdomain.Member{ID: ids.New(), WorkspaceID: w.ID, UserID: userID, Role: r, CreatedAt: e.clock.Now()}
	if err := e.workspaces.CreateMember(ctx, m); err != nil {
		return nil, err
	}
	e.audit.LogEvent(ctx, w.OwnerOrgID, actorID, audit.ActionMemberAdded, "workspace_member:"+userID, map[string]any{
		"workspace_id": w.ID,
		"role":         string(r),
	})
	return m, nil
}

func (e *Engine) ownsWorkspace(ctx context.Context, userID string, w *wsdomain.Workspace) (bool, error) {
	if userID == "" {
		return false, nil
	}
	role, err := e.WorkspaceRole(ctx, userID, w.ID)
	if err != nil {
		return false, err
	}
	if role == wsdomain.RoleOwner {
		return true, nil
	}
	if w.OwnerOrgID == "" {
		return false, nil
	}
	return e.CheckOrganizationRole(ctx, userID, w.OwnerOrgID, orgdomain.RoleOwner)
}

// WorkspaceRole returns userID's effective role in workspaceID, or "" when
// the user has none. The owner user of a user-owned workspace is its OWNER.
func (e *Engine) WorkspaceRole(ctx context.Context, userID, workspaceID string) (wsdomain.Role, error) {
	if !ids.Valid(workspaceID) {
		return "", nil
	}
	w, err := e.workspaces.GetWorkspace(ctx, workspaceID)
	if err != nil || w == nil {
		return "", err
	}
	if w.OwnerUserID != "" && w.OwnerUserID == userID {
		return wsdomain.RoleOwner, nil
	}
	m, err := e.workspaces.GetMember(ctx, workspaceID, userID)
	if err != nil || m == nil {
		return "", err
	}
	return m.Role, nil
}

// CheckWorkspaceRole reports whether userID holds at least minRole in workspaceID.
func (e *Engine) CheckWorkspaceRole(ctx context.Context, userID, workspaceID string, minRole wsdomain.Role) (bool, error) {
	if minRole.Rank() == 0 {
		return false, apperr.Validation("unknown workspace role %q", minRole)
	}
	role, err := e.WorkspaceRole(ctx, userID, workspaceID)
	if err != nil {
		return false, err
	}
	return role.Satisfies(minRole), nil
}

// ListWorkspaceMembers returns the workspace's members.
func (e *Engine) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]*wsdomain.Member, error) {
	if !ids.Valid(workspaceID) {
		return nil, apperr.ErrNotFound
	}
	return e.workspaces.ListMembers(ctx, workspaceID)
}

// AssignEntity records that a project or thread belongs to workspaceID.
func (e *Engine) AssignEntity(ctx context.Context, entityType permdomain.EntityType, entityID, workspaceID string) error {
	if entityType != permdomain.EntityProject && entityType != permdomain.EntityThread {
		return apperr.Validation("only PROJECT and THREAD entities belong to a workspace")
	}
	if strings.TrimSpace(entityID) == "" {
		return apperr.Validation("entity id is required")
	}
	if !ids.Valid(workspaceID) {
		return apperr.ErrNotFound
	}
	w, err := e.workspaces.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if w == nil {
		return apperr.ErrNotFound
	}
	return e.workspaces.SetEntityWorkspace(ctx, string(entityType), entityID, w.ID)
}

// ResolveWorkspace returns the workspace an entity lives in: the workspace
// itself for WORKSPACE, the mapped workspace for PROJECT and THREAD. It
// returns nil when the entity is unknown.
func (e *Engine) ResolveWorkspace(ctx context.Context, entityType permdomain.EntityType, entityID string) (*wsdomain.Workspace, error) {
	workspaceID := entityID
	switch entityType {
	case permdomain.EntityWorkspace:
	case permdomain.EntityProject, permdomain.EntityThread:
		id, err := e.workspaces.GetEntityWorkspace(ctx, string(entityType), entityID)
		if err != nil || id == "" {
			return nil, err
		}
		workspaceID = id
	default:
		return nil, apperr.Validation("unknown entity type %q", entityType)
	}
	if !ids.Valid(workspaceID) {
		return nil, nil
	}
	return e.workspaces.GetWorkspace(ctx, workspaceID)
}

// HasInheritedAccess reports whether userID gets capability on the entity
// through organization membership. Only ADMIN and OWNER members of the
// organization owning the entity's workspace inherit, and an explicit false
// override on the member withholds the capability.
func (e *Engine) HasInheritedAccess(ctx context.Context, userID string, entityType permdomain.EntityType, entityID string, capability permdomain.Capability) (bool, error) {
	w, err := e.ResolveWorkspace(ctx, entityType, entityID)
	if err != nil {
		return false, err
	}
	if !w.IsOrgOwned() {
		return false, nil
	}
	m, err := e.orgs.GetMember(ctx, w.OwnerOrgID, userID)
	if err != nil || m == nil {
		return false, err
	}
	if !m.Role.Satisfies(orgdomain.RoleAdmin) {
		return false, nil
	}
	if allowed, set := m.Override(string(capability)); set && !allowed {
		return false, nil
	}
	return true, nil
}

func normalizeOverrides(in map[string]bool) map[string]bool {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		if c, ok := permdomain.ParseCapability(k); ok {
			out[string(c)] = v
		}
	}
	return out
}
