// Package rbactest provides in-memory organization and workspace repositories
// for tests of code built on rbac.Engine. Like the Postgres repositories, they
// fail when a malformed organization or workspace id is used as a key.
package rbactest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	orgdomain "unified-ai/backend/internal/organization/domain"
	orgrepo "unified-ai/backend/internal/organization/repository"
	"unified-ai/backend/internal/platform/apperr"
	wsdomain "unified-ai/backend/internal/workspace/domain"
	wsrepo "unified-ai/backend/internal/workspace/repository"
)

// uuidKey mirrors Postgres rejecting a malformed value for a UUID column.
func uuidKey(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("ERROR: invalid input syntax for type uuid: %q (SQLSTATE 22P02)", id)
	}
	return nil
}

// OrgRepo is an in-memory orgrepo.Repository.
type OrgRepo struct {
	mu      sync.Mutex
	orgs    map[string]*orgdomain.Organization
	members map[string]*orgdomain.Member // orgID + "/" + userID
}

var _ orgrepo.Repository = (*OrgRepo)(nil)

func NewOrgRepo() *OrgRepo {
	return &OrgRepo{orgs: map[string]*orgdomain.Organization{}, members: map[string]*orgdomain.Member{}}
}

func (r *OrgRepo) CreateOrganization(_ context.Context, o *orgdomain.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *o
	r.orgs[o.ID] = &c
	return nil
}

func (r *OrgRepo) GetOrganization(_ context.Context, id string) (*orgdomain.Organization, error) {
	if err := uuidKey(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[id]
	if !ok {
		return nil, nil
	}
	c := *o
	return &c, nil
}

func (r *OrgRepo) LockOrganization(ctx context.Context, id string) (*orgdomain.Organization, error) {
	return r.GetOrganization(ctx, id)
}

func (r *OrgRepo) CreateMember(_ context.Context, m *orgdomain.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := m.OrgID + "/" + m.UserID
	if _, ok := r.members[k]; ok {
		return apperr.ErrAlreadyMember
	}
	c := *m
	r.members[k] = &c
	return nil
}

func (r *OrgRepo) GetMember(_ context.Context, orgID, userID string) (*orgdomain.Member, error) {
	if err := uuidKey(orgID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[orgID+"/"+userID]
	if !ok {
		return nil, nil
	}
	c := *m
	return &c, nil
}

func (r *OrgRepo) ListMembers(_ context.Context, orgID string) ([]*orgdomain.Member, error) {
	if err := uuidKey(orgID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*orgdomain.Member
	for _, m := range r.members {
		if m.OrgID == orgID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *OrgRepo) CountMembers(ctx context.Context, orgID string) (int, error) {
	ms, _ := r.ListMembers(ctx, orgID)
	return len(ms), nil
}

func (r *OrgRepo) CountMembersWithRole(ctx context.Context, orgID string, role orgdomain.Role) (int, error) {
	ms, _ := r.ListMembers(ctx, orgID)
	n := 0
	for _, m := range ms {
		if m.Role == role {
			n++
		}
	}
	return n, nil
}

func (r *OrgRepo) UpdateMemberRole(_ context.Context, orgID, userID string, role orgdomain.Role) (bool, error) {
	if err := uuidKey(orgID); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[orgID+"/"+userID]
	if !ok {
		return false, nil
	}
	m.Role = role
	return true, nil
}

func (r *OrgRepo) DeleteMember(_ context.Context, orgID, userID string) (bool, error) {
	if err := uuidKey(orgID); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := orgID + "/" + userID
	_, ok := r.members[k]
	delete(r.members, k)
	return ok, nil
}

func (r *OrgRepo) InTx(_ context.Context, fn func(orgrepo.Repository) error) error {
	return fn(r)
}

// WorkspaceRepo is an in-memory wsrepo.Repository.
type WorkspaceRepo struct {
	mu         sync.Mutex
	workspaces map[string]*wsdomain.Workspace
	members    map[string]*wsdomain.Member // workspaceID + "/" + userID
	entities   map[string]string           // entityType + "/" + entityID -> workspaceID
}

var _ wsrepo.Repository = (*WorkspaceRepo)(nil)

func NewWorkspaceRepo() *WorkspaceRepo {
	return &WorkspaceRepo{
		workspaces: map[string]*wsdomain.Workspace{},
		members:    map[string]*wsdomain.Member{},
		entities:   map[string]string{},
	}
}

func (r *WorkspaceRepo) CreateWorkspace(_ context.Context, w *wsdomain.Workspace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *w
	r.workspaces[w.ID] = &c
	return nil
}

func (r *WorkspaceRepo) GetWorkspace(_ context.Context, id string) (*wsdomain.Workspace, error) {
	if err := uuidKey(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workspaces[id]
	if !ok {
		return nil, nil
	}
	c := *w
	return &c, nil
}

func (r *WorkspaceRepo) CreateMember(_ context.Context, m *wsdomain.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := m.WorkspaceID + "/" + m.UserID
	if _, ok := r.members[k]; ok {
		return apperr.ErrAlreadyMember
	}
	c := *m
	r.members[k] = &c
	return nil
}

func (r *WorkspaceRepo) GetMember(_ context.Context, workspaceID, userID string) (*wsdomain.Member, error) {
	if err := uuidKey(workspaceID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[workspaceID+"/"+userID]
	if !ok {
		return nil, nil
	}
	c := *m
	return &c, nil
}

func (r *WorkspaceRepo) ListMembers(_ context.Context, workspaceID string) ([]*wsdomain.Member, error) {
	if err := uuidKey(workspaceID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*wsdomain.Member
	for _, m := range r.members {
		if m.WorkspaceID == workspaceID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *WorkspaceRepo) SetEntityWorkspace(_ context.Context, entityType, entityID, workspaceID string) error {
	if err := uuidKey(workspaceID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[entityType+"/"+entityID] = workspaceID
	return nil
}

func (r *WorkspaceRepo) GetEntityWorkspace(_ context.Context, entityType, entityID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entities[entityType+"/"+entityID], nil
}

func (r *WorkspaceRepo) InTx(_ context.Context, fn func(wsrepo.Repository) error) error {
	return fn(r)
}
