package tasks

import (
	"context"
	"fmt"
	"time"
)

type LogPurger interface {
	DeleteLogsOlderThan(ctx context.Context, threshold time.Time) (int64, error)
}

type CleanupReport struct {
	Deleted   int64     `json:"logs_deleted"`
	Timestamp time.Time `json:"timestamp"`
}

// RetentionSweeper deletes request logs older than the retention horizon.
type RetentionSweeper struct {
	store  LogPurger
	maxAge time.Duration
	options
}

func NewRetentionSweeper(store LogPurger, maxAge time.Duration, opts ...Option) *RetentionSweeper {
	return &RetentionSweeper{store: store, maxAge: maxAge, options: buildOptions(opts)}
}

func (r *RetentionSweeper) Cleanup(ctx context.Context) (CleanupReport, error) {
	threshold := r.now().UTC().Add(-r.maxAge)

	deleted, err := r.store.DeleteLogsOlderThan(ctx, threshold)
	if err != nil {
		return CleanupReport{}, fmt.Errorf("cleanup old logs: %w", err)
	}
	return CleanupReport{Deleted: deleted, Timestamp: r.now().UTC()}, nil
}
