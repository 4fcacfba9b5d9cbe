// Package tasks holds the periodic jobs that turn request logs into
// suspicious IP classifications and keep the log table bounded.
package tasks

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"ip-tracker/config"
	"ip-tracker/models"
)

type ClassificationStore interface {
	CountByIP(ctx context.Context, since time.Time, paths []string, above int64) (map[string]int64, error)
	UpsertClassification(ctx context.Context, ip string, reason models.Reason, count int64, now time.Time) (models.SuspiciousIP, bool, error)
	DeactivateStale(ctx context.Context, threshold, now time.Time) (int64, error)
}

// SweepReport counts what one sweep flagged; the numbers are per run.
type SweepReport struct {
	RunID                string    `json:"run_id"`
	HighRateFlagged      int       `json:"high_rate_ips_flagged"`
	SensitivePathFlagged int       `json:"sensitive_path_ips_flagged"`
	Deactivated          int64     `json:"deactivated"`
	Timestamp            time.Time `json:"timestamp"`
}

type options struct {
	now    func() time.Time
	logger *log.Logger
}

type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type AnomalySweeper struct {
	store ClassificationStore
	cfg   config.Detection
	options
}

func NewAnomalySweeper(store ClassificationStore, cfg config.Detection, opts ...Option) *AnomalySweeper {
	return &AnomalySweeper{store: store, cfg: cfg, options: buildOptions(opts)}
}

// Sweep flags IPs over the trailing window and deactivates classifications
// that have not been touched within the inactivity threshold. The first
// store error aborts the remaining passes.
func (s *AnomalySweeper) Sweep(ctx context.Context) (SweepReport, error) {
	now := s.now().UTC()
	report := SweepReport{RunID: uuid.NewString()}
	logger := s.logger.With("run_id", report.RunID)
	since := now.Add(-s.cfg.Window)

	flagged, err := s.flag(ctx, since, nil, s.cfg.HighRequestThreshold, models.ReasonHighRequestRate, now)
	if err != nil {
		return report, fmt.Errorf("high request rate pass: %w", err)
	}
	report.HighRateFlagged = flagged

	if len(s.cfg.SensitivePaths) > 0 {
		flagged, err = s.flag(ctx, since, s.cfg.SensitivePaths, s.cfg.SensitivePathThreshold, models.ReasonSensitivePathAccess, now)
		if err != nil {
			return report, fmt.Errorf("sensitive path pass: %w", err)
		}
		report.SensitivePathFlagged = flagged
	}

	report.Deactivated, err = s.store.DeactivateStale(ctx, now.Add(-s.cfg.InactivityThreshold), now)
	if err != nil {
		return report, fmt.Errorf("deactivation pass: %w", err)
	}

	report.Timestamp = s.now().UTC()
	logger.Debug("Anomaly sweep finished",
		"high_rate", report.HighRateFlagged,
		"sensitive_path", report.SensitivePathFlagged,
		"deactivated", report.Deactivated,
	)
	return report, nil
}

func (s *AnomalySweeper) flag(ctx context.Context, since time.Time, paths []string, threshold int64, reason models.Reason, now time.Time) (int, error) {
	counts, err := s.store.CountByIP(ctx, since, paths, threshold)
	if err != nil {
		return 0, err
	}

	for _, ip := range slices.Sorted(maps.Keys(counts)) {
		row, created, err := s.store.UpsertClassification(ctx, ip, reason, counts[ip], now)
		if err != nil {
			return 0, fmt.Errorf("flag %s: %w", ip, err)
		}
		if created {
			s.logger.Info("Flagged suspicious IP", "ip", ip, "reason", row.Reason, "requests", row.RequestCount)
		}
	}
	return len(counts), nil
}
