// Package handler exposes the device registry over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/device/domain"
	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/platform/httputil"
	"unified-ai/backend/internal/server/middleware"
)

// Registry is the subset of service.Registry used by the handler.
type Registry interface {
	RegisterDevice(ctx context.Context, userID, name, platform string) (*domain.Device, error)
	GetUserDevices(ctx context.Context, userID string) ([]*domain.Device, error)
	DeactivateDevice(ctx context.Context, userID, deviceID string) error
}

type Handler struct {
	devices Registry
	log     logrus.FieldLogger
}

func NewHandler(devices Registry, log logrus.FieldLogger) *Handler {
	return &Handler{devices: devices, log: logging.OrDiscard(log)}
}

// RegisterRoutes mounts the device routes. All of them require a session.
func (h *Handler) RegisterRoutes(_, protected *mux.Router) {
	protected.HandleFunc("/devices", h.list).Methods(http.MethodGet)
	protected.HandleFunc("/devices", h.register).Methods(http.MethodPost)
	protected.HandleFunc("/devices/{id}", h.deactivate).Methods(http.MethodDelete)
}

type deviceResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Platform   string     `json:"platform"`
	IsActive   bool       `json:"is_active"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toResponse(d *domain.Device) deviceResponse {
	return deviceResponse{
		ID:         d.ID,
		Name:       d.Name,
		Platform:   string(d.Platform),
		IsActive:   d.IsActive,
		LastSyncAt: d.LastSyncAt,
		CreatedAt:  d.CreatedAt,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.GetUserDevices(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toResponse(d))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"devices": out})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Platform string `json:"platform"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	d, err := h.devices.RegisterDevice(r.Context(), middleware.UserID(r.Context()), req.Name, req.Platform)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(d))
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.devices.DeactivateDevice(r.Context(), middleware.UserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
