package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"presence/internal/metrics"
)

// RotatorStore is the slice of the session store the rotator needs.
type RotatorStore interface {
	ListActive(ctx context.Context) ([]Session, error)
	BatchRotate(ctx context.Context, updates []TokenUpdate) error
}

// Rotator replaces every active session's token on a fixed interval, bounding
// the useful lifetime of a leaked or shared QR image to one interval.
type Rotator struct {
	store    RotatorStore
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewRotator builds a rotator. interval is both the sweep cadence and the
// validity window stamped onto fresh tokens.
func NewRotator(store RotatorStore, interval time.Duration, log *zap.Logger) *Rotator {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Rotator{store: store, interval: interval, log: log, now: time.Now}
}

// Interval returns the sweep cadence for scheduler registration.
func (r *Rotator) Interval() time.Duration { return r.interval }

// RunOnce performs one rotation sweep. Every active session gets a fresh token
// with issued-at now and expiry now+interval, applied as one atomic batch;
// inactive sessions are untouched. A failed sweep is reported and left for the
// next tick.
func (r *Rotator) RunOnce(ctx context.Context) error {
	active, err := r.store.ListActive(ctx)
	if err != nil {
		metrics.SweepErrors.WithLabelValues("rotate").Inc()
		return fmt.Errorf("list active sessions: %w", err)
	}
	if len(active) == 0 {
		r.log.Debug("no active sessions to rotate")
		return nil
	}

	now := r.now().UTC()
	expiresAt := now.Add(r.interval)
	updates := make([]TokenUpdate, 0, len(active))
	for _, s := range active {
		token, err := NewToken()
		if err != nil {
			metrics.SweepErrors.WithLabelValues("rotate").Inc()
			return err
		}
		updates = append(updates, TokenUpdate{
			SessionID: s.ID,
			Token:     token,
			IssuedAt:  now,
			ExpiresAt: expiresAt,
		})
	}

	if err := r.store.BatchRotate(ctx, updates); err != nil {
		metrics.SweepErrors.WithLabelValues("rotate").Inc()
		return fmt.Errorf("commit rotation batch: %w", err)
	}

	metrics.SessionsRotated.Add(float64(len(updates)))
	r.log.Info("rotated active sessions",
		zap.Int("count", len(updates)),
		zap.Time("expires_at", expiresAt))
	return nil
}
