// Package sweeper reclaims disk and memory held by finished jobs. On a
// fixed schedule it deletes artifact directories past the file retention
// window, clears the artifact listing of the affected job records, and
// evicts terminal records older than the audit window from the registry.
package sweeper

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/finworks/reportd/internal/filestore"
	"github.com/finworks/reportd/internal/registry"
)

// Config holds the sweeper's tunables. A zero Interval falls back to the
// default; zero retention values are meaningful and mean "expire now".
type Config struct {
	Interval       time.Duration
	FileRetention  time.Duration
	AuditRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	return c
}

// Sweeper runs the retention sweep on a cron schedule.
type Sweeper struct {
	cfg      Config
	registry *registry.Registry
	files    *filestore.Store
	logger   *slog.Logger
	cron     *cron.Cron
}

// New creates a sweeper. Call Start to begin periodic sweeping.
func New(cfg Config, reg *registry.Registry, files *filestore.Store, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cfg:      cfg.withDefaults(),
		registry: reg,
		files:    files,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start schedules periodic sweeps and returns immediately.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.Interval), s.RunOnce); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("retention sweeper started",
		"interval", s.cfg.Interval.String(),
		"file_retention", s.cfg.FileRetention.String(),
		"audit_retention", s.cfg.AuditRetention.String())
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("retention sweeper stopped")
}

// RunOnce performs a single sweep pass. The sweep is best-effort and
// idempotent: one job's failure never aborts the pass for the others.
// Exposed for the start-up sweep and for tests.
func (s *Sweeper) RunOnce() {
	purged, err := s.files.PurgeOlderThan(s.cfg.FileRetention)
	if err != nil {
		// PurgeOlderThan still reports the directories it managed to
		// delete, so clear those records before surfacing the failure.
		s.logger.Warn("artifact purge incomplete", "error", err)
	}
	if len(purged) > 0 {
		cleared := s.registry.ClearArtifacts(purged)
		s.logger.Info("purged expired artifacts", "directories", len(purged), "records_cleared", cleared)
	}

	cutoff := time.Now().UTC().Add(-s.cfg.AuditRetention)
	if evicted := s.registry.EvictTerminalBefore(cutoff); len(evicted) > 0 {
		s.logger.Info("evicted aged-out job records", "count", len(evicted))
	}
}
