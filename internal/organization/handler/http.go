// Package handler exposes organizations and their memberships over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/organization/domain"
	"unified-ai/backend/internal/platform/httputil"
	"unified-ai/backend/internal/platform/rbac"
	"unified-ai/backend/internal/server/middleware"
)

// Organizations is the subset of rbac.Engine used by the handler.
type Organizations interface {
	CreateOrganization(ctx context.Context, in rbac.CreateOrganizationInput) (*domain.Organization, error)
	AddOrganizationMember(ctx context.Context, in rbac.AddOrganizationMemberInput) (*domain.Member, error)
	UpdateOrganizationMemberRole(ctx context.Context, orgID, userID, newRole, actorID string) error
	RemoveOrganizationMember(ctx context.Context, orgID, userID, actorID string) error
	ListOrganizationMembers(ctx context.Context, orgID string) ([]*domain.Member, error)
	RequireOrganizationRole(ctx context.Context, userID, orgID string, minRole domain.Role) error
}

type Handler struct {
	orgs Organizations
	log  logrus.FieldLogger
}

func NewHandler(orgs Organizations, log logrus.FieldLogger) *Handler {
	return &Handler{orgs: orgs, log: logging.OrDiscard(log)}
}

func (h *Handler) RegisterRoutes(_, protected *mux.Router) {
	protected.HandleFunc("/orgs", h.create).Methods(http.MethodPost)
	protected.HandleFunc("/orgs/{id}/members", h.listMembers).Methods(http.MethodGet)
	protected.HandleFunc("/orgs/{id}/members", h.addMember).Methods(http.MethodPost)
	protected.HandleFunc("/orgs/{id}/members/{user_id}", h.updateMember).Methods(http.MethodPatch)
	protected.HandleFunc("/orgs/{id}/members/{user_id}", h.removeMember).Methods(http.MethodDelete)
}

type orgResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	Plan      string    `json:"plan"`
	SeatLimit int       `json:"seat_limit"`
	CreatedAt time.Time `json:"created_at"`
}

type memberResponse struct {
	UserID      string          `json:"user_id"`
	Role        string          `json:"role"`
	Permissions map[string]bool `json:"permissions,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toMember(m *domain.Member) memberResponse {
	return memberResponse{UserID: m.UserID, Role: string(m.Role), Permissions: m.Permissions, CreatedAt: m.CreatedAt}
}

// authorize writes the error response and returns false unless the caller
// holds at least minRole in the organization.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, minRole domain.Role) bool {
	err := h.orgs.RequireOrganizationRole(r.Context(), middleware.UserID(r.Context()), mux.Vars(r)["id"], minRole)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return false
	}
	return true
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		Plan      string `json:"plan"`
		SeatLimit int    `json:"seat_limit"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	org, err := h.orgs.CreateOrganization(r.Context(), rbac.CreateOrganizationInput{
		Name:      req.Name,
		OwnerID:   middleware.UserID(r.Context()),
		Plan:      req.Plan,
		SeatLimit: req.SeatLimit,
	})
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, orgResponse{
		ID: org.ID, Name: org.Name, OwnerID: org.OwnerID, Plan: org.Plan, SeatLimit: org.SeatLimit, CreatedAt: org.CreatedAt,
	})
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, domain.RoleViewer) {
		return
	}
	members, err := h.orgs.ListOrganizationMembers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, toMember(m))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, domain.RoleAdmin) {
		return
	}
	var req struct {
		UserID      string          `json:"user_id"`
		Role        string          `json:"role"`
		Permissions map[string]bool `json:"permissions"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	m, err := h.orgs.AddOrganizationMember(r.Context(), rbac.AddOrganizationMemberInput{
		OrgID:       mux.Vars(r)["id"],
		UserID:      req.UserID,
		Role:        req.Role,
		Permissions: req.Permissions,
		AddedBy:     middleware.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toMember(m))
}

func (h *Handler) updateMember(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, domain.RoleAdmin) {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	vars := mux.Vars(r)
	if err := h.orgs.UpdateOrganizationMemberRole(r.Context(), vars["id"], vars["user_id"], req.Role, middleware.UserID(r.Context())); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, domain.RoleAdmin) {
		return
	}
	vars := mux.Vars(r)
	if err := h.orgs.RemoveOrganizationMember(r.Context(), vars["id"], vars["user_id"], middleware.UserID(r.Context())); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
