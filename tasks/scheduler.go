package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron"

	"ip-tracker/config"
)

const (
	AnomalySweepTag = "detect-anomalies"
	LogCleanupTag   = "cleanup-old-logs"

	jobTimeout = 30 * time.Minute
)

// Scheduler runs the sweeps on their cron schedules. Each job is in
// singleton mode, so a run never starts while the previous one is going.
type Scheduler struct {
	cron   *gocron.Scheduler
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(cfg config.Schedule, logger *log.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", cfg.Timezone, err)
	}
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   gocron.NewScheduler(loc),
		logger: logger.WithPrefix("tasks"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Register adds the anomaly sweep and the log cleanup jobs.
func (s *Scheduler) Register(cfg config.Schedule, sweeper *AnomalySweeper, retention *RetentionSweeper) error {
	if _, err := s.cron.Cron(cfg.AnomalySweep).SingletonMode().Tag(AnomalySweepTag).Do(func() {
		s.RunAnomalySweep(sweeper)
	}); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", AnomalySweepTag, cfg.AnomalySweep, err)
	}

	if _, err := s.cron.Cron(cfg.LogCleanup).SingletonMode().Tag(LogCleanupTag).Do(func() {
		s.RunLogCleanup(retention)
	}); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", LogCleanupTag, cfg.LogCleanup, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.StartAsync()
}

// Stop cancels in-flight jobs and stops scheduling new ones.
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
}

func (s *Scheduler) Jobs() []*gocron.Job {
	return s.cron.Jobs()
}

// RunAnomalySweep runs one sweep and logs its outcome. Failures wait for the
// next tick.
func (s *Scheduler) RunAnomalySweep(sweeper *AnomalySweeper) {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("Anomaly sweep failed", "run_id", report.RunID, "error", err)
		return
	}
	s.logger.Info("Anomaly sweep completed",
		"run_id", report.RunID,
		"high_rate_ips_flagged", report.HighRateFlagged,
		"sensitive_path_ips_flagged", report.SensitivePathFlagged,
		"deactivated", report.Deactivated,
		"duration", time.Since(start),
	)
}

func (s *Scheduler) RunLogCleanup(retention *RetentionSweeper) {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	report, err := retention.Cleanup(ctx)
	if err != nil {
		s.logger.Error("Log cleanup failed", "error", err)
		return
	}
	s.logger.Info("Log cleanup completed", "logs_deleted", report.Deleted)
}
