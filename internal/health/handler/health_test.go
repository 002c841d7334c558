package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.pingErr
}

// mockPolicyChecker implements PolicyChecker for tests.
type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func grpcStatus(t *testing.T, c *Checker) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.GRPCServer().Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return resp.GetStatus()
}

func TestRefresh_NilDependencies(t *testing.T) {
	c := NewChecker(nil, nil, nil)
	if got := c.Refresh(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", got)
	}
	if got := grpcStatus(t, c); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("grpc status = %v, want SERVING", got)
	}
}

func TestRefresh_PingerFailure(t *testing.T) {
	c := NewChecker(&mockPinger{pingErr: errors.New("connection refused")}, &mockPolicyChecker{}, nil)
	if got := c.Refresh(context.Background()); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}
	if got := grpcStatus(t, c); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("grpc status = %v, want NOT_SERVING", got)
	}
}

func TestRefresh_PolicyFailure(t *testing.T) {
	c := NewChecker(&mockPinger{}, &mockPolicyChecker{healthErr: errors.New("owner lacks read")}, nil)
	err := c.Check(context.Background())
	if err == nil || err.Error() != "policy: owner lacks read" {
		t.Fatalf("Check = %v, want policy error", err)
	}
}

func TestServeHTTP(t *testing.T) {
	tests := []struct {
		name    string
		pingErr error
		want    int
	}{
		{"serving", nil, http.StatusOK},
		{"db down", errors.New("down"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(&mockPinger{pingErr: tt.pingErr}, &mockPolicyChecker{}, nil)
			rec := httptest.NewRecorder()
			c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
