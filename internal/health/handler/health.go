// Package handler reports service readiness over gRPC health checking and
// HTTP /healthz.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/platform/httputil"
)

const checkTimeout = 3 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is satisfied by the OPA capability evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker reports SERVING once the database answers and the capability
// policy evaluates. Nil dependencies are skipped.
type Checker struct {
	db     Pinger
	policy PolicyChecker
	grpc   *health.Server
	log    logrus.FieldLogger
}

// NewChecker returns a Checker backed by a fresh gRPC health server.
func NewChecker(db Pinger, policy PolicyChecker, log logrus.FieldLogger) *Checker {
	return &Checker{db: db, policy: policy, grpc: health.NewServer(), log: logging.OrDiscard(log)}
}

// GRPCServer returns the health server to register with grpc.Server.
func (c *Checker) GRPCServer() *health.Server { return c.grpc }

// Check runs every dependency check and returns the first failure.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	return nil
}

// Refresh runs Check and publishes the result as the overall ("") serving status.
func (c *Checker) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if err := c.Check(ctx); err != nil {
		c.log.WithError(err).Warn("health: not serving")
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.grpc.SetServingStatus("", st)
	return st
}

// Run refreshes the status every interval until ctx is done, then marks the
// server NOT_SERVING for shutdown.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	c.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.grpc.Shutdown()
			return
		case <-t.C:
			c.Refresh(ctx)
		}
	}
}

// ServeHTTP answers /healthz with 200 or 503.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.Refresh(r.Context()) != healthpb.HealthCheckResponse_SERVING {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "NOT_SERVING"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "SERVING"})
}
