package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	devicedomain "unified-ai/backend/internal/device/domain"
	devicerepo "unified-ai/backend/internal/device/repository"
	deviceservice "unified-ai/backend/internal/device/service"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/server/middleware"
	sessionservice "unified-ai/backend/internal/session/service"
	"unified-ai/backend/internal/sync/domain"
	syncrepo "unified-ai/backend/internal/sync/repository"
	"unified-ai/backend/internal/sync/service"
	userdomain "unified-ai/backend/internal/user/domain"
)

type fakeEngine struct {
	recorded []service.RecordInput
	pulled   []time.Time
	resolve  service.ResolveOptions
}

func (f *fakeEngine) RecordSyncEvent(_ context.Context, in service.RecordInput) (*domain.Event, error) {
	f.recorded = append(f.recorded, in)
	return &domain.Event{
		ID: "e1", DeviceID: in.DeviceID, UserID: "u1", EntityType: in.EntityType, EntityID: in.EntityID,
		Operation: domain.Operation(in.Operation), VectorClock: in.VectorClock, Payload: in.Payload,
	}, nil
}

func (f *fakeEngine) GetSyncEventsSince(_ context.Context, _ string, since time.Time) ([]*domain.Event, error) {
	f.pulled = append(f.pulled, since)
	return nil, nil
}

func (f *fakeEngine) DetectConflictsByIDs(_ context.Context, _ string, ids []string) ([]*domain.Conflict, error) {
	if len(ids) == 0 {
		return nil, apperr.Validation("event ids are required")
	}
	return []*domain.Conflict{{ID: "c1", EventIDs: ids, Status: domain.ConflictOpen}}, nil
}

func (f *fakeEngine) ListOpenConflicts(context.Context, string) ([]*domain.Conflict, error) {
	return nil, nil
}

func (f *fakeEngine) ResolveConflict(_ context.Context, id string, st domain.Strategy, opts service.ResolveOptions) (*domain.Conflict, error) {
	f.resolve = opts
	if id != "c1" {
		return nil, apperr.ErrNotFound
	}
	return &domain.Conflict{ID: id, Status: domain.ConflictResolved, Strategy: st, WinningEventID: opts.SelectedEventID, ExplicitSelection: true}, nil
}

type fakeDevices map[string]*devicedomain.Device

func (f fakeDevices) Resolve(_ context.Context, id string) (*devicedomain.Device, error) {
	d, ok := f[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return d, nil
}

func newRouter(engine *fakeEngine) *mux.Router {
	return routerFor(engine, fakeDevices{
		"d1": {ID: "d1", UserID: "u1", IsActive: true},
		"d9": {ID: "d9", UserID: "u9", IsActive: true},
	})
}

// routerFor authenticates every request as u1.
func routerFor(engine Engine, devices Devices) *mux.Router {
	r := mux.NewRouter()
	protected := r.PathPrefix("/v1").Subrouter()
	protected.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p := &sessionservice.Principal{User: &userdomain.User{ID: "u1"}}
			next.ServeHTTP(w, req.WithContext(middleware.WithPrincipal(req.Context(), p)))
		})
	})
	NewHandler(engine, devices, nil).RegisterRoutes(nil, protected)
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestRecordEvent(t *testing.T) {
	engine := &fakeEngine{}
	r := newRouter(engine)

	rec := serve(r, http.MethodPost, "/v1/sync/events",
		`{"device_id":"d1","entity_type":"thread","entity_id":"t1","operation":"UPDATE","payload":{"title":"x"},"vector_clock":{"d1":3}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, engine.recorded, 1)
	assert.Equal(t, uint64(3), engine.recorded[0].VectorClock.Get("d1"))

	var out eventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "e1", out.ID)
	assert.JSONEq(t, `{"title":"x"}`, string(out.Payload))
}

func TestForeignDeviceIsNotFound(t *testing.T) {
	engine := &fakeEngine{}
	r := newRouter(engine)

	rec := serve(r, http.MethodPost, "/v1/sync/events",
		`{"device_id":"d9","entity_type":"thread","entity_id":"t1","operation":"UPDATE","vector_clock":{"d9":1}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, engine.recorded)

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/v1/sync/events?device_id=d9", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/v1/sync/events?device_id=nope", "").Code)
	assert.Empty(t, engine.pulled)
}

func TestPullSince(t *testing.T) {
	engine := &fakeEngine{}
	r := newRouter(engine)

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/v1/sync/events?device_id=d1&since=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/v1/sync/events", "").Code)

	rec := serve(r, http.MethodGet, "/v1/sync/events?device_id=d1&since=2026-05-01T10:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[]}`, rec.Body.String())
	require.Len(t, engine.pulled, 1)
	assert.True(t, engine.pulled[0].Equal(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestDetectAndResolve(t *testing.T) {
	engine := &fakeEngine{}
	r := newRouter(engine)

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/v1/sync/conflicts/detect", `{"event_ids":[]}`).Code)
	rec := serve(r, http.MethodPost, "/v1/sync/conflicts/detect", `{"event_ids":["e1","e2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"c1"`)

	rec = serve(r, http.MethodPost, "/v1/sync/conflicts/c1/resolve", `{"strategy":"MANUAL","selected_event_id":"e2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", engine.resolve.ResolvedBy)
	var out conflictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "e2", out.WinningEventID)
	assert.True(t, out.ExplicitSelection)

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/v1/sync/conflicts/zzz/resolve", `{"strategy":"MANUAL"}`).Code)
}

func TestMalformedIDsAreNotFoundWithoutQuerying(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	devices := deviceservice.NewRegistry(devicerepo.NewPostgresRepository(conn), 0, 0, nil, nil)
	r := routerFor(service.NewEngine(syncrepo.NewPostgresRepository(conn), devices, service.Options{}), devices)

	for _, id := range []string{"x", "d1", "1 OR 1=1"} {
		body := `{"device_id":"` + id + `","entity_type":"THREAD","entity_id":"t1","operation":"UPDATE","vector_clock":{"` + id + `":1}}`
		assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/v1/sync/events", body).Code, id)
	}
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/v1/sync/events?device_id=x", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/v1/sync/conflicts/x/resolve", `{"strategy":"LAST_WRITE_WINS"}`).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
