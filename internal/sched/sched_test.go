package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestScheduler_RunsOnInterval(t *testing.T) {
	var runs int32
	s := New(zap.NewNop())
	s.Register(Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()

	if n := atomic.LoadInt32(&runs); n < 2 {
		t.Fatalf("job ran %d times in 100ms at 10ms interval, want >= 2", n)
	}
}

func TestScheduler_ManualRun(t *testing.T) {
	var runs int32
	s := New(zap.NewNop())
	s.Register(Job{
		Name:     "manual",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	if err := s.Run(context.Background(), "manual"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if atomic.LoadInt32(&runs) != 1 {
		t.Fatalf("manual trigger did not run the job")
	}
	if err := s.Run(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}

func TestScheduler_RecordsFailure(t *testing.T) {
	s := New(zap.NewNop())
	s.Register(Job{
		Name:     "failing",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			return errors.New("sweep failed")
		},
	})

	_ = s.Run(context.Background(), "failing")
	status, msg, ok := s.Status("failing")
	if !ok {
		t.Fatalf("job not found")
	}
	if status != StatusReject || msg != "sweep failed" {
		t.Fatalf("status = %s/%q, want reject/sweep failed", status, msg)
	}
}

func TestScheduler_RecoversPanic(t *testing.T) {
	s := New(zap.NewNop())
	s.Register(Job{
		Name:     "panicky",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			panic("boom")
		},
	})

	_ = s.Run(context.Background(), "panicky")
	status, _, _ := s.Status("panicky")
	if status != StatusReject {
		t.Fatalf("panicking job status = %s, want reject", status)
	}
}
