// Package handler exposes workspaces, their members and entity placement
// over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/logging"
	orgdomain "unified-ai/backend/internal/organization/domain"
	permdomain "unified-ai/backend/internal/permission/domain"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/platform/httputil"
	"unified-ai/backend/internal/platform/rbac"
	"unified-ai/backend/internal/server/middleware"
	"unified-ai/backend/internal/workspace/domain"
)

// Workspaces is the subset of rbac.Engine used by the handler.
type Workspaces interface {
	CreateWorkspace(ctx context.Context, in rbac.CreateWorkspaceInput) (*domain.Workspace, error)
	AddWorkspaceMember(ctx context.Context, workspaceID, userID, role, actorID string) (*domain.Member, error)
	ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]*domain.Member, error)
	AssignEntity(ctx context.Context, entityType permdomain.EntityType, entityID, workspaceID string) error
	RequireOrganizationRole(ctx context.Context, userID, orgID string, minRole orgdomain.Role) error
}

// Checker answers capability checks on entities.
type Checker interface {
	CheckPermission(ctx context.Context, userID string, entityType permdomain.EntityType, entityID string, capability permdomain.Capability) (bool, error)
}

type Handler struct {
	workspaces Workspaces
	checker    Checker
	log        logrus.FieldLogger
}

func NewHandler(workspaces Workspaces, checker Checker, log logrus.FieldLogger) *Handler {
	return &Handler{workspaces: workspaces, checker: checker, log: logging.OrDiscard(log)}
}

func (h *Handler) RegisterRoutes(_, protected *mux.Router) {
	protected.HandleFunc("/workspaces", h.create).Methods(http.MethodPost)
	protected.HandleFunc("/workspaces/{id}/members", h.listMembers).Methods(http.MethodGet)
	protected.HandleFunc("/workspaces/{id}/members", h.addMember).Methods(http.MethodPost)
	protected.HandleFunc("/workspaces/{id}/entities", h.assignEntity).Methods(http.MethodPost)
}

type workspaceResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerUserID string    `json:"owner_user_id,omitempty"`
	OwnerOrgID  string    `json:"owner_org_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type memberResponse struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// allowed writes a not-found response and returns false unless the caller
// holds capability on the workspace.
func (h *Handler) allowed(w http.ResponseWriter, r *http.Request, capability permdomain.Capability) bool {
	ok, err := h.checker.CheckPermission(r.Context(), middleware.UserID(r.Context()), permdomain.EntityWorkspace, mux.Vars(r)["id"], capability)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return false
	}
	if !ok {
		httputil.NotFound(w)
		return false
	}
	return true
}

// create makes a workspace owned by the caller, or by org_id when given.
// Creating an organization workspace requires ADMIN in that organization.
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		OrgID string `json:"org_id"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	userID := middleware.UserID(r.Context())
	in := rbac.CreateWorkspaceInput{Name: req.Name, CreatedBy: userID}
	if req.OrgID != "" {
		if err := h.workspaces.RequireOrganizationRole(r.Context(), userID, req.OrgID, orgdomain.RoleAdmin); err != nil {
			httputil.WriteError(w, h.log, err)
			return
		}
		in.OwnerOrgID = req.OrgID
	} else {
		in.OwnerUserID = userID
	}
	ws, err := h.workspaces.CreateWorkspace(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, workspaceResponse{
		ID: ws.ID, Name: ws.Name, OwnerUserID: ws.OwnerUserID, OwnerOrgID: ws.OwnerOrgID, CreatedAt: ws.CreatedAt,
	})
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r, permdomain.CapRead) {
		return
	}
	members, err := h.workspaces.ListWorkspaceMembers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, memberResponse{UserID: m.UserID, Role: string(m.Role), CreatedAt: m.CreatedAt})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r, permdomain.CapAdmin) {
		return
	}
	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	m, err := h.workspaces.AddWorkspaceMember(r.Context(), mux.Vars(r)["id"], req.UserID, req.Role, middleware.UserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, memberResponse{UserID: m.UserID, Role: string(m.Role), CreatedAt: m.CreatedAt})
}

// assignEntity places a project or thread in the workspace so workspace
// roles and grants apply to it.
func (h *Handler) assignEntity(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r, permdomain.CapWrite) {
		return
	}
	var req struct {
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	et, ok := permdomain.ParseEntityType(req.EntityType)
	if !ok {
		httputil.WriteError(w, h.log, apperr.Validation("entity type must be PROJECT or THREAD"))
		return
	}
	if err := h.workspaces.AssignEntity(r.Context(), et, req.EntityID, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
