package claim

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"presence/internal/metrics"
	"presence/internal/queue"
)

// PendingLister is the slice of the claim store the requeue sweep needs.
type PendingLister interface {
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Claim, error)
}

// Requeuer re-publishes creation events for claims stuck in pending. Both
// queue backends pop destructively, so a claim whose verdict write failed, or
// whose creation event was never published, has no event left in flight; this
// sweep is what makes the pipeline effectively at-least-once. The verifier's
// status guard keeps the resulting duplicate deliveries harmless.
type Requeuer struct {
	store PendingLister
	q     queue.Queue
	grace time.Duration
	log   *zap.Logger
	now   func() time.Time
}

// NewRequeuer builds a requeue sweep. grace is how long a claim may sit
// pending before it is considered stuck; it must comfortably exceed normal
// queue latency so in-flight claims are not double-published on every tick.
func NewRequeuer(store PendingLister, q queue.Queue, grace time.Duration, log *zap.Logger) *Requeuer {
	if grace <= 0 {
		grace = time.Minute
	}
	return &Requeuer{store: store, q: q, grace: grace, log: log, now: time.Now}
}

// RunOnce re-publishes one batch of stuck claims. A failed sweep is reported
// and left for the next tick.
func (r *Requeuer) RunOnce(ctx context.Context) error {
	cutoff := r.now().UTC().Add(-r.grace)
	stuck, err := r.store.ListPendingOlderThan(ctx, cutoff, 100)
	if err != nil {
		metrics.SweepErrors.WithLabelValues("requeue").Inc()
		return fmt.Errorf("list stuck claims: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	requeued := 0
	for _, c := range stuck {
		if err := r.q.Publish(ctx, queue.Message{Type: queue.TypeClaimCreated, ClaimID: c.ID}); err != nil {
			metrics.SweepErrors.WithLabelValues("requeue").Inc()
			return fmt.Errorf("requeue claim %s: %w", c.ID, err)
		}
		requeued++
	}

	metrics.ClaimsRequeued.Add(float64(requeued))
	r.log.Info("requeued stuck claims", zap.Int("count", requeued))
	return nil
}
