package screening

import (
	"context"
	"log/slog"
	"time"
)

// SessionPurger deletes sessions that have not been updated since cutoff.
type SessionPurger interface {
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionWorker periodically deletes sessions older than the retention
// period, along with their messages and scored responses.
type RetentionWorker struct {
	repo      SessionPurger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewRetentionWorker creates a worker. A zero retention disables it.
func NewRetentionWorker(repo SessionPurger, retention, interval time.Duration) *RetentionWorker {
	return &RetentionWorker{
		repo:      repo,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Enabled reports whether the worker has anything to do.
func (w *RetentionWorker) Enabled() bool {
	return w.retention > 0 && w.interval > 0
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *RetentionWorker) Run(ctx context.Context) error {
	if !w.Enabled() {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("Retention worker started", "interval", w.interval, "retention", w.retention)

	w.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-ctx.Done():
			slog.Info("Retention worker shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep deletes expired sessions once and returns how many were removed.
func (w *RetentionWorker) Sweep(ctx context.Context) int64 {
	cutoff := w.now().Add(-w.retention)
	deleted, err := w.repo.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention sweep interrupted by shutdown", "error", err)
			return 0
		}
		slog.Error("Retention worker failed to delete expired sessions", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Retention worker deleted expired sessions", "count", deleted, "cutoff", cutoff)
	}
	return deleted
}
