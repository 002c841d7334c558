// Package handler exposes the sync engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	devicedomain "unified-ai/backend/internal/device/domain"
	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/platform/httputil"
	"unified-ai/backend/internal/server/middleware"
	"unified-ai/backend/internal/sync/domain"
	"unified-ai/backend/internal/sync/service"
)

// Engine is the subset of service.Engine used by the handler.
type Engine interface {
	RecordSyncEvent(ctx context.Context, in service.RecordInput) (*domain.Event, error)
	GetSyncEventsSince(ctx context.Context, deviceID string, since time.Time) ([]*domain.Event, error)
	DetectConflictsByIDs(ctx context.Context, userID string, eventIDs []string) ([]*domain.Conflict, error)
	ListOpenConflicts(ctx context.Context, userID string) ([]*domain.Conflict, error)
	ResolveConflict(ctx context.Context, conflictID string, strategy domain.Strategy, opts service.ResolveOptions) (*domain.Conflict, error)
}

// Devices resolves device ids so the handler can check ownership.
type Devices interface {
	Resolve(ctx context.Context, deviceID string) (*devicedomain.Device, error)
}

type Handler struct {
	engine  Engine
	devices Devices
	log     logrus.FieldLogger
}

func NewHandler(engine Engine, devices Devices, log logrus.FieldLogger) *Handler {
	return &Handler{engine: engine, devices: devices, log: logging.OrDiscard(log)}
}

func (h *Handler) RegisterRoutes(_, protected *mux.Router) {
	protected.HandleFunc("/sync/events", h.record).Methods(http.MethodPost)
	protected.HandleFunc("/sync/events", h.pull).Methods(http.MethodGet)
	protected.HandleFunc("/sync/conflicts", h.listConflicts).Methods(http.MethodGet)
	protected.HandleFunc("/sync/conflicts/detect", h.detect).Methods(http.MethodPost)
	protected.HandleFunc("/sync/conflicts/{id}/resolve", h.resolve).Methods(http.MethodPost)
}

// ownDevice returns apperr.ErrNotFound for devices of other users so their
// existence is not disclosed.
func (h *Handler) ownDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return apperr.Validation("device_id is required")
	}
	d, err := h.devices.Resolve(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.UserID != middleware.UserID(ctx) {
		return apperr.ErrNotFound
	}
	return nil
}

type eventResponse struct {
	ID                 string             `json:"id"`
	DeviceID           string             `json:"device_id"`
	EntityType         string             `json:"entity_type"`
	EntityID           string             `json:"entity_id"`
	Operation          string             `json:"operation"`
	VectorClock        domain.VectorClock `json:"vector_clock"`
	Payload            json.RawMessage    `json:"payload,omitempty"`
	ConflictResolved   bool               `json:"conflict_resolved"`
	ResolutionStrategy string             `json:"resolution_strategy,omitempty"`
	RecordedAt         time.Time          `json:"recorded_at"`
}

func toEvent(e *domain.Event) eventResponse {
	return eventResponse{
		ID:                 e.ID,
		DeviceID:           e.DeviceID,
		EntityType:         e.EntityType,
		EntityID:           e.EntityID,
		Operation:          string(e.Operation),
		VectorClock:        e.VectorClock,
		Payload:            e.Payload,
		ConflictResolved:   e.ConflictResolved,
		ResolutionStrategy: string(e.ResolutionStrategy),
		RecordedAt:         e.RecordedAt,
	}
}

type conflictResponse struct {
	ID                string          `json:"id"`
	EntityType        string          `json:"entity_type"`
	EntityID          string          `json:"entity_id"`
	EventIDs          []string        `json:"event_ids"`
	Status            string          `json:"status"`
	Strategy          string          `json:"strategy,omitempty"`
	WinningEventID    string          `json:"winning_event_id,omitempty"`
	MergedPayload     json.RawMessage `json:"merged_payload,omitempty"`
	ExplicitSelection bool            `json:"explicit_selection"`
	CreatedAt         time.Time       `json:"created_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
}

func toConflict(c *domain.Conflict) conflictResponse {
	return conflictResponse{
		ID:                c.ID,
		EntityType:        c.EntityType,
		EntityID:          c.EntityID,
		EventIDs:          c.EventIDs,
		Status:            string(c.Status),
		Strategy:          string(c.Strategy),
		WinningEventID:    c.WinningEventID,
		MergedPayload:     c.MergedPayload,
		ExplicitSelection: c.ExplicitSelection,
		CreatedAt:         c.CreatedAt,
		ResolvedAt:        c.ResolvedAt,
	}
}

func toConflicts(cs []*domain.Conflict) []conflictResponse {
	out := make([]conflictResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, toConflict(c))
	}
	return out
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID    string             `json:"device_id"`
		EntityType  string             `json:"entity_type"`
		EntityID    string             `json:"entity_id"`
		Operation   string             `json:"operation"`
		Payload     json.RawMessage    `json:"payload"`
		VectorClock domain.VectorClock `json:"vector_clock"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if err := h.ownDevice(r.Context(), req.DeviceID); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	ev, err := h.engine.RecordSyncEvent(r.Context(), service.RecordInput{
		DeviceID:    req.DeviceID,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		Operation:   req.Operation,
		Payload:     req.Payload,
		VectorClock: req.VectorClock,
	})
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toEvent(ev))
}

// pull answers GET /sync/events?device_id=&since=. since is RFC 3339 and
// defaults to the beginning of time.
func (h *Handler) pull(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID := q.Get("device_id")
	var since time.Time
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			httputil.WriteError(w, h.log, apperr.Validation("since must be an RFC 3339 timestamp"))
			return
		}
		since = t
	}
	if err := h.ownDevice(r.Context(), deviceID); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	events, err := h.engine.GetSyncEventsSince(r.Context(), deviceID, since)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEvent(ev))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (h *Handler) detect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventIDs []string `json:"event_ids"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	conflicts, err := h.engine.DetectConflictsByIDs(r.Context(), middleware.UserID(r.Context()), req.EventIDs)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"conflicts": toConflicts(conflicts)})
}

func (h *Handler) listConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.engine.ListOpenConflicts(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"conflicts": toConflicts(conflicts)})
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy        string          `json:"strategy"`
		SelectedEventID string          `json:"selected_event_id"`
		MergedPayload   json.RawMessage `json:"merged_payload"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	c, err := h.engine.ResolveConflict(r.Context(), mux.Vars(r)["id"], domain.Strategy(req.Strategy), service.ResolveOptions{
		SelectedEventID: req.SelectedEventID,
		MergedPayload:   req.MergedPayload,
		ResolvedBy:      middleware.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toConflict(c))
}
