package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestReaper_EndsOnlyStaleSessions(t *testing.T) {
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{sessions: map[string]*Session{
		"old":   activeSession("old", now.Add(-3*time.Hour)),
		"young": activeSession("young", now.Add(-30*time.Minute)),
	}}

	r := NewReaper(store, 2*time.Hour, zap.NewNop())
	r.now = func() time.Time { return now }

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	old := store.sessions["old"]
	if old.IsActive {
		t.Fatalf("stale session still active")
	}
	if !old.AutoEnded {
		t.Fatalf("stale session missing auto-ended flag")
	}
	if old.EndedAt == nil || !old.EndedAt.Equal(now) {
		t.Fatalf("stale session endedAt = %v, want %v", old.EndedAt, now)
	}

	young := store.sessions["young"]
	if !young.IsActive || young.AutoEnded || young.EndedAt != nil {
		t.Fatalf("young session was touched: %+v", young)
	}
}

func TestReaper_IgnoresAlreadyEnded(t *testing.T) {
	now := time.Now().UTC()
	s := activeSession("done", now.Add(-5*time.Hour))
	s.IsActive = false
	store := &fakeStore{sessions: map[string]*Session{"done": s}}

	r := NewReaper(store, 2*time.Hour, zap.NewNop())
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if s.AutoEnded {
		t.Fatalf("already-ended session flagged auto-ended")
	}
}

func TestReaper_ListFailureIsReturned(t *testing.T) {
	store := &fakeStore{listErr: errors.New("db down")}
	r := NewReaper(store, 2*time.Hour, zap.NewNop())
	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error from failed list")
	}
}
