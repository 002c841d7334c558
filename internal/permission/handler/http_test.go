package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified-ai/backend/internal/permission/domain"
	"unified-ai/backend/internal/permission/service"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/server/middleware"
	sessionservice "unified-ai/backend/internal/session/service"
	userdomain "unified-ai/backend/internal/user/domain"
)

// fakePerms lets "owner" do everything and "viewer" only read.
type fakePerms struct {
	granted []service.GrantInput
	revoked []service.RevokeInput
}

func (f *fakePerms) GrantPermission(_ context.Context, in service.GrantInput) (*domain.PermissionSet, error) {
	f.granted = append(f.granted, in)
	perms := map[domain.Capability]bool{}
	for k, v := range in.Permissions {
		perms[domain.Capability(k)] = v
	}
	return &domain.PermissionSet{
		ID: "p1", EntityType: domain.EntityType(in.EntityType), EntityID: in.EntityID, UserID: in.UserID,
		Permissions: perms, GrantedBy: in.GrantedBy, ExpiresAt: in.ExpiresAt,
	}, nil
}

func (f *fakePerms) RevokePermission(_ context.Context, in service.RevokeInput) error {
	if in.UserID != "bob" {
		return apperr.ErrNotFound
	}
	f.revoked = append(f.revoked, in)
	return nil
}

func (f *fakePerms) ListGrants(context.Context, domain.EntityType, string) ([]*domain.PermissionSet, error) {
	return []*domain.PermissionSet{{ID: "p1", EntityType: domain.EntityThread, EntityID: "t1", UserID: "bob",
		Permissions: map[domain.Capability]bool{domain.CapRead: true}}}, nil
}

func (f *fakePerms) CheckPermission(_ context.Context, userID string, _ domain.EntityType, _ string, c domain.Capability) (bool, error) {
	switch userID {
	case "owner":
		return true, nil
	case "viewer":
		return c == domain.CapRead, nil
	}
	return false, nil
}

func newRouter(perms *fakePerms) *mux.Router {
	r := mux.NewRouter()
	protected := r.PathPrefix("/v1").Subrouter()
	protected.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p := &sessionservice.Principal{User: &userdomain.User{ID: req.Header.Get("X-User")}}
			next.ServeHTTP(w, req.WithContext(middleware.WithPrincipal(req.Context(), p)))
		})
	})
	NewHandler(perms, nil).RegisterRoutes(nil, protected)
	return r
}

func call(r http.Handler, user, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-User", user)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGrantRequiresShare(t *testing.T) {
	perms := &fakePerms{}
	r := newRouter(perms)
	body := `{"entity_type":"THREAD","entity_id":"t1","user_id":"bob","permissions":{"read":true},"expires_at":"2026-06-01T00:00:00Z"}`

	assert.Equal(t, http.StatusNotFound, call(r, "viewer", http.MethodPost, "/v1/permissions/grants", body).Code)
	assert.Empty(t, perms.granted)

	rec := call(r, "owner", http.MethodPost, "/v1/permissions/grants", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, perms.granted, 1)
	assert.Equal(t, "owner", perms.granted[0].GrantedBy)
	require.NotNil(t, perms.granted[0].ExpiresAt)
	assert.True(t, perms.granted[0].ExpiresAt.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))

	var out grantResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, map[string]bool{"read": true}, out.Permissions)

	assert.Equal(t, http.StatusBadRequest, call(r, "owner", http.MethodPost, "/v1/permissions/grants", `{"entity_type":"FOLDER","entity_id":"x"}`).Code)
}

func TestRevokeAndList(t *testing.T) {
	perms := &fakePerms{}
	r := newRouter(perms)

	assert.Equal(t, http.StatusNoContent, call(r, "owner", http.MethodDelete, "/v1/permissions/grants", `{"entity_type":"THREAD","entity_id":"t1","user_id":"bob"}`).Code)
	assert.Equal(t, http.StatusNotFound, call(r, "owner", http.MethodDelete, "/v1/permissions/grants", `{"entity_type":"THREAD","entity_id":"t1","user_id":"carol"}`).Code)
	require.Len(t, perms.revoked, 1)
	assert.Equal(t, "owner", perms.revoked[0].RevokedBy)

	rec := call(r, "owner", http.MethodGet, "/v1/permissions/grants?entity_type=THREAD&entity_id=t1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":"bob"`)
	assert.Equal(t, http.StatusNotFound, call(r, "viewer", http.MethodGet, "/v1/permissions/grants?entity_type=THREAD&entity_id=t1", "").Code)
}

func TestCheck(t *testing.T) {
	r := newRouter(&fakePerms{})

	rec := call(r, "viewer", http.MethodGet, "/v1/permissions/check?entity_type=THREAD&entity_id=t1&capability=read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"allowed":true}`, rec.Body.String())

	rec = call(r, "viewer", http.MethodGet, "/v1/permissions/check?entity_type=THREAD&entity_id=t1&capability=write", "")
	assert.JSONEq(t, `{"allowed":false}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, call(r, "viewer", http.MethodGet, "/v1/permissions/check?entity_type=THREAD&entity_id=t1", "").Code)
	assert.Equal(t, http.StatusBadRequest, call(r, "viewer", http.MethodGet, "/v1/permissions/check?entity_type=nope&entity_id=t1&capability=read", "").Code)
}
