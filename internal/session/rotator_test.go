package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeStore struct {
	sessions  map[string]*Session
	listErr   error
	batchErr  error
	rotations int
}

func (f *fakeStore) ListActive(_ context.Context) ([]Session, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var res []Session
	for _, s := range f.sessions {
		if s.IsActive {
			res = append(res, *s)
		}
	}
	return res, nil
}

func (f *fakeStore) BatchRotate(_ context.Context, updates []TokenUpdate) error {
	if f.batchErr != nil {
		return f.batchErr
	}
	for _, u := range updates {
		s := f.sessions[u.SessionID]
		s.Token = u.Token
		s.TokenIssuedAt = u.IssuedAt
		s.TokenExpiresAt = &u.ExpiresAt
		s.LastRotated = &u.IssuedAt
		f.rotations++
	}
	return nil
}

func (f *fakeStore) ListActiveOlderThan(_ context.Context, cutoff time.Time) ([]Session, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var res []Session
	for _, s := range f.sessions {
		if s.IsActive && s.CreatedAt.Before(cutoff) {
			res = append(res, *s)
		}
	}
	return res, nil
}

func (f *fakeStore) BatchEnd(_ context.Context, ids []string, endedAt time.Time) error {
	if f.batchErr != nil {
		return f.batchErr
	}
	for _, id := range ids {
		s := f.sessions[id]
		s.IsActive = false
		s.AutoEnded = true
		s.EndedAt = &endedAt
	}
	return nil
}

func activeSession(id string, createdAt time.Time) *Session {
	return &Session{
		ID:            id,
		CourseID:      "CS401-FALL25",
		TeacherID:     "t-1",
		Token:         "OLD" + id,
		TokenIssuedAt: createdAt,
		IsActive:      true,
		CreatedAt:     createdAt,
	}
}

func TestRotator_RotatesActiveOnly(t *testing.T) {
	now := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{sessions: map[string]*Session{
		"a": activeSession("a", now.Add(-time.Hour)),
		"b": activeSession("b", now.Add(-time.Hour)),
	}}
	ended := activeSession("c", now.Add(-time.Hour))
	ended.IsActive = false
	store.sessions["c"] = ended
	endedTokenBefore := ended.Token

	r := NewRotator(store, 5*time.Minute, zap.NewNop())
	r.now = func() time.Time { return now }

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		s := store.sessions[id]
		if s.Token == "OLD"+id {
			t.Fatalf("session %s token not rotated", id)
		}
		if len(s.Token) != TokenLength {
			t.Fatalf("session %s token %q has length %d, want %d", id, s.Token, len(s.Token), TokenLength)
		}
		if !s.TokenIssuedAt.Equal(now) {
			t.Fatalf("session %s issuedAt = %v, want %v", id, s.TokenIssuedAt, now)
		}
		if s.TokenExpiresAt == nil || !s.TokenExpiresAt.Equal(now.Add(5*time.Minute)) {
			t.Fatalf("session %s expiresAt = %v, want issuedAt+interval", id, s.TokenExpiresAt)
		}
	}
	if store.sessions["c"].Token != endedTokenBefore {
		t.Fatalf("inactive session was rotated")
	}
	if store.sessions["a"].Token == store.sessions["b"].Token {
		t.Fatalf("both sessions got the same token")
	}
}

func TestRotator_EmptySweepIsNoop(t *testing.T) {
	store := &fakeStore{sessions: map[string]*Session{}}
	r := NewRotator(store, 5*time.Minute, zap.NewNop())
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce on empty store: %v", err)
	}
	if store.rotations != 0 {
		t.Fatalf("rotations = %d, want 0", store.rotations)
	}
}

func TestRotator_BatchFailureLeavesTokensUntouched(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{
		sessions: map[string]*Session{"a": activeSession("a", now.Add(-time.Hour))},
		batchErr: errors.New("db down"),
	}
	r := NewRotator(store, 5*time.Minute, zap.NewNop())

	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error from failed batch")
	}
	if store.sessions["a"].Token != "OLDa" {
		t.Fatalf("token changed despite failed batch")
	}
}
