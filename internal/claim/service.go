package claim

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"presence/internal/metrics"
	"presence/internal/queue"
)

// Service records submitted claims and hands them to the verification
// pipeline via the claim-created event queue.
type Service struct {
	repo *Repository
	q    queue.Queue
	log  *zap.Logger
}

// NewService creates a service backed by a repository and an event queue.
func NewService(repo *Repository, q queue.Queue, log *zap.Logger) *Service {
	return &Service{repo: repo, q: q, log: log}
}

// SubmitParams is the client-supplied part of a claim. AuthSubject is the
// authenticated caller id when the submission carried a valid bearer token.
type SubmitParams struct {
	SessionID     string
	StudentID     *string
	AuthSubject   *string
	ScannedToken  string
	Latitude      float64
	Longitude     float64
	ScannedBeacon *string
	BeaconRSSI    *float64
	MockLocation  bool
	DeviceOK      bool
}

// Submit records a pending claim and publishes its creation event. The
// verdict is produced asynchronously by the verifier worker.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (Claim, error) {
	if p.SessionID == "" {
		return Claim{}, errors.New("session id required")
	}
	if p.ScannedToken == "" {
		return Claim{}, errors.New("scanned token required")
	}

	c, err := s.repo.Insert(ctx, Claim{
		SessionID:     p.SessionID,
		StudentID:     p.StudentID,
		AuthSubject:   p.AuthSubject,
		ScannedToken:  p.ScannedToken,
		Latitude:      p.Latitude,
		Longitude:     p.Longitude,
		ScannedBeacon: p.ScannedBeacon,
		BeaconRSSI:    p.BeaconRSSI,
		MockLocation:  p.MockLocation,
		DeviceOK:      p.DeviceOK,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return Claim{}, err
	}

	if err := s.q.Publish(ctx, queue.Message{Type: queue.TypeClaimCreated, ClaimID: c.ID}); err != nil {
		// The claim is durably pending; the requeue sweep re-publishes its
		// creation event, so the submission itself still succeeds.
		s.log.Error("claim event publish failed",
			zap.String("claim_id", c.ID), zap.Error(err))
	}
	metrics.ClaimsSubmitted.Inc()
	return c, nil
}

// Get returns a claim by id, nil when absent.
func (s *Service) Get(ctx context.Context, id string) (*Claim, error) {
	return s.repo.Get(ctx, id)
}

// ListBySession returns a session's claims for the teacher view.
func (s *Service) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]Claim, error) {
	return s.repo.ListBySession(ctx, sessionID, limit, offset)
}
