// Worker runs the hygiene sweeps on SWEEP_SCHEDULE: expired permission sets
// and expired or revoked sessions older than SWEEP_RETENTION are deleted.
// With --once it sweeps a single time and exits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"unified-ai/backend/internal/config"
	"unified-ai/backend/internal/db"
	"unified-ai/backend/internal/logging"
	permrepo "unified-ai/backend/internal/permission/repository"
	permservice "unified-ai/backend/internal/permission/service"
	"unified-ai/backend/internal/platform/clock"
	sessionrepo "unified-ai/backend/internal/session/repository"
	sessionservice "unified-ai/backend/internal/session/service"
)

const sweepTimeout = 5 * time.Minute

// sweeper is satisfied by the session manager and the permission engine.
type sweeper interface {
	Sweep(ctx context.Context, retention time.Duration) (int64, error)
}

func main() {
	once := flag.Bool("once", false, "Run every sweep once and exit")
	retentionFlag := flag.Duration("retention", 0, "Override SWEEP_RETENTION")
	flag.Parse()

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
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("worker: database")
	}
	defer conn.Close()

	clk := clock.Real()
	// Sweeping never issues tokens, so the manager gets no token provider.
	sessions := sessionservice.NewManager(sessionrepo.NewPostgresRepository(conn), nil, nil, clk, nil, nil, log)
	perms := permservice.NewEngine(permrepo.NewPostgresRepository(conn), nil, nil, permservice.Options{Clock: clk, Log: log})

	retention := cfg.Retention()
	if *retentionFlag > 0 {
		retention = *retentionFlag
	}
	jobs := map[string]sweeper{"sessions": sessions, "permission_sets": perms}

	if *once {
		for name, job := range jobs {
			runSweep(ctx, log.WithField("job", name), job, retention)
		}
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err = c.AddFunc(cfg.SweepSchedule, func() {
		for name, job := range jobs {
			runSweep(ctx, log.WithField("job", name), job, retention)
		}
	})
	if err != nil {
		log.WithError(err).Fatalf("worker: invalid SWEEP_SCHEDULE %q", cfg.SweepSchedule)
	}

	log.WithFields(logrus.Fields{"schedule": cfg.SweepSchedule, "retention": retention.String()}).Info("worker: started")
	c.Start()
	<-ctx.Done()
	log.Info("worker: shutting down...")
	<-c.Stop().Done()
	log.Info("worker: stopped")
}

func runSweep(ctx context.Context, log logrus.FieldLogger, job sweeper, retention time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	n, err := job.Sweep(ctx, retention)
	if err != nil {
		log.WithError(err).Error("worker: sweep failed")
		return
	}
	log.WithField("deleted", n).Debug("worker: sweep done")
}
