package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"presence/internal/metrics"
)

// ReaperStore is the slice of the session store the reaper needs.
type ReaperStore interface {
	ListActiveOlderThan(ctx context.Context, cutoff time.Time) ([]Session, error)
	BatchEnd(ctx context.Context, ids []string, endedAt time.Time) error
}

// Reaper deactivates sessions whose start time has exceeded a hard ceiling.
// It is a safety net independent of token rotation: no session outlives
// maxAge even if a client never ends it.
type Reaper struct {
	store  ReaperStore
	maxAge time.Duration
	log    *zap.Logger
	now    func() time.Time
}

// NewReaper builds a reaper with the given maximum session lifetime.
func NewReaper(store ReaperStore, maxAge time.Duration, log *zap.Logger) *Reaper {
	if maxAge <= 0 {
		maxAge = 2 * time.Hour
	}
	return &Reaper{store: store, maxAge: maxAge, log: log, now: time.Now}
}

// RunOnce performs one reap sweep: active sessions older than the ceiling are
// marked inactive, stamped with an end time and the auto-ended flag, as one
// atomic batch.
func (r *Reaper) RunOnce(ctx context.Context) error {
	now := r.now().UTC()
	stale, err := r.store.ListActiveOlderThan(ctx, now.Add(-r.maxAge))
	if err != nil {
		metrics.SweepErrors.WithLabelValues("reap").Inc()
		return fmt.Errorf("list stale sessions: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make([]string, 0, len(stale))
	for _, s := range stale {
		ids = append(ids, s.ID)
	}
	if err := r.store.BatchEnd(ctx, ids, now); err != nil {
		metrics.SweepErrors.WithLabelValues("reap").Inc()
		return fmt.Errorf("commit reap batch: %w", err)
	}

	metrics.SessionsReaped.Add(float64(len(ids)))
	r.log.Info("reaped stale sessions", zap.Int("count", len(ids)))
	return nil
}
