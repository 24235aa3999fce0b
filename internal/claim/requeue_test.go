package claim

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"presence/internal/queue"
	"presence/internal/session"
)

type fakePendingLister struct {
	pending []Claim
	err     error
}

func (f *fakePendingLister) ListPendingOlderThan(_ context.Context, _ time.Time, _ int) ([]Claim, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pending, nil
}

// flakyClaims fails the first failures finalize calls, then succeeds.
type flakyClaims struct {
	failures  int
	finalized []Verdict
}

func (f *flakyClaims) Finalize(_ context.Context, v Verdict) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("db down")
	}
	f.finalized = append(f.finalized, v)
	return nil
}

func TestRequeuer_RepublishesStuckClaims(t *testing.T) {
	q := queue.NewInMemory(4)
	store := &fakePendingLister{pending: []Claim{
		{ID: "claim-1", SessionID: "sess-1", Status: StatusPending},
		{ID: "claim-2", SessionID: "sess-1", Status: StatusPending},
	}}
	r := NewRequeuer(store, q, time.Minute, zap.NewNop())

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-msgs:
			if msg.Type != queue.TypeClaimCreated {
				t.Fatalf("message type = %s, want %s", msg.Type, queue.TypeClaimCreated)
			}
			got[msg.ClaimID] = true
		case <-time.After(time.Second):
			t.Fatalf("only %d of 2 stuck claims republished", len(got))
		}
	}
	if !got["claim-1"] || !got["claim-2"] {
		t.Fatalf("republished ids = %v, want claim-1 and claim-2", got)
	}
}

func TestRequeuer_NothingStuckIsNoop(t *testing.T) {
	q := queue.NewInMemory(1)
	r := NewRequeuer(&fakePendingLister{}, q, time.Minute, zap.NewNop())
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce on empty store: %v", err)
	}
}

func TestRequeuer_ListFailureIsReturned(t *testing.T) {
	q := queue.NewInMemory(1)
	r := NewRequeuer(&fakePendingLister{err: errors.New("db down")}, q, time.Minute, zap.NewNop())
	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error from failed list")
	}
}

// A transient verdict-write failure must not strand the claim: it stays
// pending, the requeue sweep republishes its creation event, and the retried
// verification reaches the terminal state.
func TestVerify_TransientWriteFailureRecoversViaRequeue(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*session.Session{"sess-1": testSession()}}
	claims := &flakyClaims{failures: 1}
	auditLog := &fakeAudit{}
	v := NewVerifier(sessions, claims, auditLog, zap.NewNop())
	v.now = func() time.Time { return testNow }

	c := validClaim()
	v.Verify(context.Background(), c)
	if len(claims.finalized) != 0 {
		t.Fatalf("failed write should leave the claim pending")
	}
	if len(auditLog.entries) != 0 {
		t.Fatalf("no audit entry may exist before the verdict is persisted")
	}

	// The claim is still pending, so the sweep picks it up and republishes.
	q := queue.NewInMemory(1)
	r := NewRequeuer(&fakePendingLister{pending: []Claim{c}}, q, time.Minute, zap.NewNop())
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.ClaimID != c.ID {
			t.Fatalf("republished claim = %s, want %s", msg.ClaimID, c.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("stuck claim never republished")
	}

	verdict := v.Verify(context.Background(), c)
	if verdict.Status != StatusPresent {
		t.Fatalf("retried verification = %s/%s, want present", verdict.Status, verdict.Reason)
	}
	if len(claims.finalized) != 1 || len(auditLog.entries) != 1 {
		t.Fatalf("retry finalized %d times with %d audit entries, want 1/1",
			len(claims.finalized), len(auditLog.entries))
	}
}
