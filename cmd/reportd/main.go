package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finworks/reportd/internal/api"
	"github.com/finworks/reportd/internal/audit"
	"github.com/finworks/reportd/internal/config"
	"github.com/finworks/reportd/internal/engine"
	"github.com/finworks/reportd/internal/executor"
	"github.com/finworks/reportd/internal/filestore"
	"github.com/finworks/reportd/internal/registry"
	"github.com/finworks/reportd/internal/render"
	"github.com/finworks/reportd/internal/sweeper"
)

// shutdownGrace bounds how long running jobs may keep draining after the
// process receives a termination signal.
const shutdownGrace = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("REPORTD_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	logger.Info("reportd: starting",
		"listen_addr", cfg.ListenAddr,
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
		"artifact_dir", cfg.ArtifactDir,
		"audit_db_path", cfg.AuditDBPath,
	)

	files, err := filestore.New(cfg.ArtifactDir)
	if err != nil {
		log.Fatalf("failed to open artifact store: %v", err)
	}

	history, err := audit.New(cfg.AuditDBPath, logger)
	if err != nil {
		log.Fatalf("failed to open audit store: %v", err)
	}
	defer history.Close()

	execs := executor.NewRegistry()
	execs.Register("builtin", render.New())

	reg := registry.New()
	eng := engine.New(engine.Config{
		Workers:         cfg.Workers,
		QueueSize:       cfg.QueueSize,
		DefaultTimeout:  time.Duration(cfg.DefaultTimeoutS) * time.Second,
		CancelGrace:     time.Duration(cfg.CancelGraceS) * time.Second,
		DefaultPriority: cfg.DefaultPriority,
	}, reg, files, execs, logger)
	eng.Start()

	events, _ := eng.Events().Subscribe()

	sw := sweeper.New(sweeper.Config{
		Interval:       time.Duration(cfg.SweepIntervalS) * time.Second,
		FileRetention:  time.Duration(cfg.FileRetentionDays) * 24 * time.Hour,
		AuditRetention: time.Duration(cfg.AuditRetentionHours) * time.Hour,
	}, reg, files, logger)

	// Reclaim artifacts left behind by a previous run before taking traffic.
	sw.RunOnce()
	if err := sw.Start(); err != nil {
		log.Fatalf("failed to start sweeper: %v", err)
	}

	srv := api.NewServer(api.Config{
		Addr:        cfg.ListenAddr,
		AuthSecret:  cfg.AuthSecret,
		SubmitRate:  cfg.SubmitRate,
		SubmitBurst: cfg.SubmitBurst,
	}, eng, execs, history, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gCtx)
	})

	// The archive loop exits once the engine closes its event broker.
	g.Go(func() error {
		history.Run(events)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("reportd: shutting down")
		sw.Stop()

		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return eng.Close(closeCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("reportd: %v", err)
	}
	logger.Info("reportd: stopped")
}
