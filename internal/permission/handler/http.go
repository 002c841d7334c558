// Package handler exposes permission grants and checks over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/permission/domain"
	"unified-ai/backend/internal/permission/service"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/platform/httputil"
	"unified-ai/backend/internal/server/middleware"
)

// Permissions is the subset of service.Engine used by the handler.
type Permissions interface {
	GrantPermission(ctx context.Context, in service.GrantInput) (*domain.PermissionSet, error)
	RevokePermission(ctx context.Context, in service.RevokeInput) error
	ListGrants(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.PermissionSet, error)
	CheckPermission(ctx context.Context, userID string, entityType domain.EntityType, entityID string, capability domain.Capability) (bool, error)
}

type Handler struct {
	perms Permissions
	log   logrus.FieldLogger
}

func NewHandler(perms Permissions, log logrus.FieldLogger) *Handler {
	return &Handler{perms: perms, log: logging.OrDiscard(log)}
}

func (h *Handler) RegisterRoutes(_, protected *mux.Router) {
	protected.HandleFunc("/permissions/grants", h.grant).Methods(http.MethodPost)
	protected.HandleFunc("/permissions/grants", h.revoke).Methods(http.MethodDelete)
	protected.HandleFunc("/permissions/grants", h.list).Methods(http.MethodGet)
	protected.HandleFunc("/permissions/check", h.check).Methods(http.MethodGet)
}

type grantResponse struct {
	ID          string          `json:"id"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	UserID      string          `json:"user_id,omitempty"`
	RoleID      string          `json:"role_id,omitempty"`
	Permissions map[string]bool `json:"permissions"`
	GrantedBy   string          `json:"granted_by,omitempty"`
	GrantedAt   time.Time       `json:"granted_at"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
}

func toGrant(p *domain.PermissionSet) grantResponse {
	perms := make(map[string]bool, len(p.Permissions))
	for c, v := range p.Permissions {
		perms[string(c)] = v
	}
	return grantResponse{
		ID:          p.ID,
		EntityType:  string(p.EntityType),
		EntityID:    p.EntityID,
		UserID:      p.UserID,
		RoleID:      p.RoleID,
		Permissions: perms,
		GrantedBy:   p.GrantedBy,
		GrantedAt:   p.GrantedAt,
		ExpiresAt:   p.ExpiresAt,
	}
}

// canShare writes the response and returns false unless the caller holds
// share on the entity. Denials are reported as not found.
func (h *Handler) canShare(w http.ResponseWriter, r *http.Request, entityType, entityID string) bool {
	et, ok := domain.ParseEntityType(entityType)
	if !ok {
		httputil.WriteError(w, h.log, apperr.Validation("entity type must be WORKSPACE, PROJECT or THREAD"))
		return false
	}
	allowed, err := h.perms.CheckPermission(r.Context(), middleware.UserID(r.Context()), et, entityID, domain.CapShare)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return false
	}
	if !allowed {
		httputil.NotFound(w)
		return false
	}
	return true
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityType  string          `json:"entity_type"`
		EntityID    string          `json:"entity_id"`
		UserID      string          `json:"user_id"`
		RoleID      string          `json:"role_id"`
		Permissions map[string]bool `json:"permissions"`
		ExpiresAt   *time.Time      `json:"expires_at"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if !h.canShare(w, r, req.EntityType, req.EntityID) {
		return
	}
	p, err := h.perms.GrantPermission(r.Context(), service.GrantInput{
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		UserID:      req.UserID,
		RoleID:      req.RoleID,
		Permissions: req.Permissions,
		ExpiresAt:   req.ExpiresAt,
		GrantedBy:   middleware.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toGrant(p))
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
		UserID     string `json:"user_id"`
		RoleID     string `json:"role_id"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if !h.canShare(w, r, req.EntityType, req.EntityID) {
		return
	}
	err := h.perms.RevokePermission(r.Context(), service.RevokeInput{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		RevokedBy:  middleware.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !h.canShare(w, r, q.Get("entity_type"), q.Get("entity_id")) {
		return
	}
	et, _ := domain.ParseEntityType(q.Get("entity_type"))
	sets, err := h.perms.ListGrants(r.Context(), et, q.Get("entity_id"))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	out := make([]grantResponse, 0, len(sets))
	for _, p := range sets {
		out = append(out, toGrant(p))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"grants": out})
}

// check answers whether the caller holds capability on the entity.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	et, ok := domain.ParseEntityType(q.Get("entity_type"))
	if !ok {
		httputil.WriteError(w, h.log, apperr.Validation("entity type must be WORKSPACE, PROJECT or THREAD"))
		return
	}
	capability, ok := domain.ParseCapability(q.Get("capability"))
	if !ok || q.Get("entity_id") == "" {
		httputil.WriteError(w, h.log, apperr.Validation("entity_id and capability are required"))
		return
	}
	allowed, err := h.perms.CheckPermission(r.Context(), middleware.UserID(r.Context()), et, q.Get("entity_id"), capability)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}
