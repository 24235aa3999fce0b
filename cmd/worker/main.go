package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"presence/internal/audit"
	"presence/internal/claim"
	"presence/internal/config"
	"presence/internal/logging"
	"presence/internal/queue"
	"presence/internal/sched"
	"presence/internal/session"
	"presence/internal/store"
)

// Worker consumes claim-created events and runs the verification rule chain,
// and hosts the scheduled token-rotation and session-reaping sweeps.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Production())
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	sessionRepo := session.NewRepository(db.Client)
	claimRepo := claim.NewRepository(db.Client)
	auditLog := audit.NewLog(db.Client)
	verifier := claim.NewVerifier(sessionRepo, claimRepo, auditLog, logger.Named("verifier"))

	rotator := session.NewRotator(sessionRepo, cfg.RotateInterval, logger.Named("rotator"))
	reaper := session.NewReaper(sessionRepo, cfg.MaxSessionAge, logger.Named("reaper"))
	requeuer := claim.NewRequeuer(claimRepo, q, cfg.RequeueGrace, logger.Named("requeuer"))

	scheduler := sched.New(logger.Named("sched"))
	scheduler.Register(sched.Job{Name: "rotate-sessions", Interval: cfg.RotateInterval, Fn: rotator.RunOnce})
	scheduler.Register(sched.Job{Name: "reap-sessions", Interval: cfg.ReapInterval, Fn: reaper.RunOnce})
	scheduler.Register(sched.Job{Name: "requeue-claims", Interval: cfg.RequeueInterval, Fn: requeuer.RunOnce})
	scheduler.Start(ctx)

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	logger.Info("worker started, waiting for claims")
	for msg := range messages {
		if msg.Type != queue.TypeClaimCreated {
			continue
		}

		cl, err := claimRepo.Get(ctx, msg.ClaimID)
		if err != nil {
			logger.Error("fetch claim failed", zap.String("claim_id", msg.ClaimID), zap.Error(err))
			continue
		}
		if cl == nil {
			logger.Warn("claim event without record", zap.String("claim_id", msg.ClaimID))
			continue
		}
		// Redelivered events for already-decided claims are dropped here.
		if cl.Terminal() {
			continue
		}

		verifier.Verify(ctx, *cl)
	}

	logger.Info("worker stopped")
}
