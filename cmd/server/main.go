// Server runs the JSON API and the gRPC health listener.
package main

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"unified-ai/backend/internal/audit"
	auditrepo "unified-ai/backend/internal/audit/repository"
	"unified-ai/backend/internal/config"
	"unified-ai/backend/internal/db"
	devicehandler "unified-ai/backend/internal/device/handler"
	devicerepo "unified-ai/backend/internal/device/repository"
	deviceservice "unified-ai/backend/internal/device/service"
	healthhandler "unified-ai/backend/internal/health/handler"
	identityhandler "unified-ai/backend/internal/identity/handler"
	identityservice "unified-ai/backend/internal/identity/service"
	"unified-ai/backend/internal/identity/throttle"
	"unified-ai/backend/internal/logging"
	orghandler "unified-ai/backend/internal/organization/handler"
	orgrepo "unified-ai/backend/internal/organization/repository"
	permhandler "unified-ai/backend/internal/permission/handler"
	permrepo "unified-ai/backend/internal/permission/repository"
	permservice "unified-ai/backend/internal/permission/service"
	"unified-ai/backend/internal/platform/clock"
	"unified-ai/backend/internal/platform/metrics"
	"unified-ai/backend/internal/platform/otel"
	"unified-ai/backend/internal/platform/rbac"
	policyengine "unified-ai/backend/internal/policy/engine"
	"unified-ai/backend/internal/security"
	"unified-ai/backend/internal/server"
	"unified-ai/backend/internal/server/middleware"
	sessionrepo "unified-ai/backend/internal/session/repository"
	sessionservice "unified-ai/backend/internal/session/service"
	synchandler "unified-ai/backend/internal/sync/handler"
	"unified-ai/backend/internal/sync/publisher"
	syncrepo "unified-ai/backend/internal/sync/repository"
	syncservice "unified-ai/backend/internal/sync/service"
	userrepo "unified-ai/backend/internal/user/repository"
	workspacehandler "unified-ai/backend/internal/workspace/handler"
	workspacerepo "unified-ai/backend/internal/workspace/repository"
)

const (
	serviceName     = "unified-ai-backend"
	shutdownTimeout = 15 * time.Second
	healthInterval  = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server: exited")
	}
	log.Info("server: stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer conn.Close()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			log.WithError(err).Warn("otel: shutdown")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	clk := clock.Real()

	tokens, err := newTokenProvider(cfg, clk, log)
	if err != nil {
		return err
	}
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn), middleware.ClientIP, clk, log)

	users := userrepo.NewPostgresRepository(conn)
	devices := deviceservice.NewRegistry(devicerepo.NewPostgresRepository(conn), cfg.DeviceCacheSize, cfg.DeviceOwnerCacheTTL(), clk, log)
	sessions := sessionservice.NewManager(sessionrepo.NewPostgresRepository(conn), users, tokens, clk, auditLogger, m, log)

	authOpts := identityservice.Options{
		Mailer:   identityservice.NewLogMailer(log),
		Audit:    auditLogger,
		Clock:    clk,
		ResetTTL: cfg.PasswordResetTTL(),
		Metrics:  m,
		Log:      log,
	}
	if cfg.RedisURL != "" && cfg.LoginMaxAttempts > 0 {
		rdb, err := throttle.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		authOpts.Throttle = throttle.NewRedisLimiter(rdb, "login", cfg.LoginMaxAttempts, cfg.LoginWindow())
	}
	auth := identityservice.NewAuthService(users, devices, sessions, security.NewHasher(cfg.BcryptCost), authOpts)

	var pub publisher.Publisher = publisher.Noop{}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kp, err := publisher.NewKafkaPublisher(brokers, cfg.SyncKafkaTopic)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		pub = publisher.NewAsync(kp, log, m)
	}
	defer pub.Close()
	syncEngine := syncservice.NewEngine(syncrepo.NewPostgresRepository(conn), devices, syncservice.Options{
		Publisher: pub,
		Audit:     auditLogger,
		Clock:     clk,
		Metrics:   m,
		Log:       log,
	})

	roles := rbac.NewEngine(orgrepo.NewPostgresRepository(conn), workspacerepo.NewPostgresRepository(conn), rbac.Options{
		Audit: auditLogger,
		Clock: clk,
		Log:   log,
	})
	evaluator, err := newEvaluator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("capability policy: %w", err)
	}
	perms := permservice.NewEngine(permrepo.NewPostgresRepository(conn), roles, evaluator, permservice.Options{
		Audit:   auditLogger,
		Clock:   clk,
		Metrics: m,
		Log:     log,
	})

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	checker := healthhandler.NewChecker(conn, evaluator, log)
	httpHandler := server.NewHTTPHandler(server.HTTPDeps{
		Sessions:       sessions,
		Metrics:        m,
		RateLimiter:    middleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
		Health:         checker,
		TrustedProxies: proxies,
		Log:            log,
	},
		identityhandler.NewHandler(auth, sessions, log),
		devicehandler.NewHandler(devices, log),
		synchandler.NewHandler(syncEngine, devices, log),
		orghandler.NewHandler(roles, log),
		workspacehandler.NewHandler(roles, perms, log),
		permhandler.NewHandler(perms, log),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := server.NewGRPCServer(server.GRPCDeps{Health: checker.GRPCServer(), Log: log})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		checker.Run(gctx, healthInterval)
		return nil
	})
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("http: listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		log.WithField("addr", cfg.GRPCAddr).Info("grpc: listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("server: shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(sctx)
	})
	return g.Wait()
}

// newTokenProvider loads the configured signing keys, or generates an
// ephemeral key outside production.
func newTokenProvider(cfg *config.Config, clk clock.Clock, log logrus.FieldLogger) (*security.TokenProvider, error) {
	var (
		priv crypto.Signer
		pub  crypto.PublicKey
		err  error
	)
	if cfg.JWTPrivateKey != "" {
		if priv, err = security.ParsePrivateKey(cfg.JWTPrivateKey); err != nil {
			return nil, fmt.Errorf("jwt private key: %w", err)
		}
		if pub, err = security.ParsePublicKey(cfg.JWTPublicKey); err != nil {
			return nil, fmt.Errorf("jwt public key: %w", err)
		}
	} else {
		log.Warn("jwt: no keys configured, using an ephemeral signing key")
		if priv, err = security.GenerateEphemeralKey(); err != nil {
			return nil, err
		}
		pub = priv.Public()
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL(), clk)
}

func newEvaluator(ctx context.Context, cfg *config.Config) (*policyengine.OPAEvaluator, error) {
	if cfg.CapabilityPolicyFile != "" {
		return policyengine.NewOPAEvaluatorFromFile(ctx, cfg.CapabilityPolicyFile)
	}
	return policyengine.NewOPAEvaluator(ctx, policyengine.DefaultPolicy)
}
