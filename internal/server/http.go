package server

import (
	"net/http"
	"net/netip"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/platform/httputil"
	"unified-ai/backend/internal/platform/metrics"
	"unified-ai/backend/internal/server/middleware"
)

// Routes is implemented by every domain handler.
type Routes interface {
	RegisterRoutes(public, protected *mux.Router)
}

// HTTPDeps holds the cross-cutting collaborators of the HTTP API.
type HTTPDeps struct {
	// Sessions validates bearer tokens on protected routes.
	Sessions middleware.SessionValidator
	// Metrics records request metrics and serves /metrics. Optional.
	Metrics *metrics.Metrics
	// RateLimiter throttles requests per client IP. Optional.
	RateLimiter *middleware.RateLimiter
	// Health serves /healthz. Optional.
	Health http.Handler
	// TrustedProxies are the peers whose forwarding headers name the client.
	TrustedProxies []netip.Prefix
	Log            logrus.FieldLogger
}

// NewHTTPHandler builds the /v1 API: handlers mount unauthenticated routes on
// the public subrouter and session-protected routes on the protected one.
func NewHTTPHandler(deps HTTPDeps, routes ...Routes) http.Handler {
	log := logging.OrDiscard(deps.Log)
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { httputil.NotFound(w) })
	r.Use(middleware.Metrics(deps.Metrics))

	if deps.Health != nil {
		r.Handle("/healthz", deps.Health).Methods(http.MethodGet)
	}
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/v1").Subrouter()
	if deps.RateLimiter != nil {
		api.Use(deps.RateLimiter.Middleware)
	}
	public := api.NewRoute().Subrouter()
	protected := api.NewRoute().Subrouter()
	protected.Use(middleware.Auth(deps.Sessions, log))
	for _, rt := range routes {
		rt.RegisterRoutes(public, protected)
	}

	var h http.Handler = r
	h = middleware.Logging(log)(h)
	h = middleware.Recover(log)(h)
	h = middleware.ClientIPs(deps.TrustedProxies)(h)
	h = middleware.RequestID(h)
	return otelhttp.NewHandler(h, "unified-ai-http")
}
