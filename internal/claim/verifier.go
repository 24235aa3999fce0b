package claim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"presence/internal/audit"
	"presence/internal/geo"
	"presence/internal/metrics"
	"presence/internal/session"
)

// SessionGetter is the slice of the session store the verifier needs. One
// consistent read of the session record at the start of verification; the
// whole rule chain evaluates against that snapshot, so a concurrent rotation
// cannot invalidate a token mid-check.
type SessionGetter interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// VerdictWriter records the terminal verdict on the claim record.
type VerdictWriter interface {
	Finalize(ctx context.Context, v Verdict) error
}

// Verifier classifies submitted claims. Verify is total: every claim reaches
// a terminal present/rejected state exactly once, even under internal faults.
type Verifier struct {
	sessions SessionGetter
	claims   VerdictWriter
	audit    audit.Appender
	log      *zap.Logger
	now      func() time.Time
}

// NewVerifier wires the verifier to its collaborators.
func NewVerifier(sessions SessionGetter, claims VerdictWriter, auditLog audit.Appender, log *zap.Logger) *Verifier {
	return &Verifier{
		sessions: sessions,
		claims:   claims,
		audit:    auditLog,
		log:      log,
		now:      time.Now,
	}
}

// Verify runs the rule chain on one claim, persists the verdict and mirrors
// it to the audit log. Checks are ordered; the first failing check produces
// the terminal verdict and no later check runs.
func (v *Verifier) Verify(ctx context.Context, c Claim) Verdict {
	start := time.Now()
	verdict := v.evaluate(ctx, c)

	if err := v.claims.Finalize(ctx, verdict); err != nil {
		if errors.Is(err, ErrAlreadyFinal) {
			// Redelivered event lost the race with an earlier verification.
			// The first pass already wrote the audit entry.
			v.log.Warn("claim already finalized, skipping",
				zap.String("claim_id", c.ID))
			return verdict
		}
		// The claim stays pending; the requeue sweep re-publishes its
		// creation event after the grace period.
		v.log.Error("verdict write failed, claim left for requeue sweep",
			zap.String("claim_id", c.ID), zap.Error(err))
		return verdict
	}

	v.appendAudit(ctx, c, verdict)
	metrics.VerdictsTotal.WithLabelValues(verdict.Status, verdict.Reason).Inc()
	metrics.VerifyDuration.Observe(time.Since(start).Seconds())
	v.log.Info("claim verified",
		zap.String("claim_id", c.ID),
		zap.String("session_id", c.SessionID),
		zap.String("status", verdict.Status),
		zap.String("reason", verdict.Reason))
	return verdict
}

func (v *Verifier) evaluate(ctx context.Context, c Claim) (verdict Verdict) {
	defer func() {
		if p := recover(); p != nil {
			verdict = v.internalError(c, fmt.Errorf("panic during verification: %v", p))
		}
	}()

	now := v.now().UTC()

	s, err := v.sessions.Get(ctx, c.SessionID)
	if err != nil {
		return v.internalError(c, err)
	}
	if s == nil {
		return reject(c, ReasonSessionNotFound)
	}

	// Token comparison is exact: case-sensitive, byte for byte.
	if c.ScannedToken != s.Token {
		return reject(c, ReasonInvalidQR)
	}

	if !s.IsActive {
		return reject(c, ReasonSessionInactive)
	}
	if !s.TokenWindowContains(now) {
		return reject(c, ReasonSessionExpired)
	}

	if !c.DeviceOK {
		return reject(c, ReasonDeviceIntegrityFailed)
	}
	if c.MockLocation {
		return reject(c, ReasonMockLocationDetected)
	}

	var submittedRSSI *float64
	if s.RequiredBeaconID != nil {
		if c.ScannedBeacon == nil || c.BeaconRSSI == nil {
			return reject(c, ReasonBeaconDataMissing)
		}
		if *c.ScannedBeacon != *s.RequiredBeaconID {
			return reject(c, ReasonInvalidBeaconID)
		}
		rssi := *c.BeaconRSSI
		submittedRSSI = &rssi
		if rssi < s.MinRequiredRSSI {
			vd := reject(c, ReasonBeaconTooFar)
			vd.SubmittedRSSI = submittedRSSI
			return vd
		}
	}

	if !s.HasLocation() {
		vd := reject(c, ReasonSessionLocationMissing)
		vd.SubmittedRSSI = submittedRSSI
		return vd
	}

	dist := geo.DistanceMeters(*s.Latitude, *s.Longitude, c.Latitude, c.Longitude)
	rounded := int(math.Round(dist))
	if dist > s.AllowedRadiusM {
		vd := reject(c, ReasonOutOfRange)
		vd.DistanceM = &rounded
		vd.SubmittedRSSI = submittedRSSI
		return vd
	}

	studentID := c.AuthSubject
	if studentID == nil || *studentID == "" {
		studentID = c.StudentID
	}
	if studentID == nil || *studentID == "" {
		vd := reject(c, ReasonMissingStudentID)
		vd.DistanceM = &rounded
		vd.SubmittedRSSI = submittedRSSI
		return vd
	}

	verifiedAt := now
	return Verdict{
		ClaimID:       c.ID,
		Status:        StatusPresent,
		Reason:        ReasonVerifiedPresent,
		StudentID:     studentID,
		DistanceM:     &rounded,
		SubmittedRSSI: submittedRSSI,
		VerifiedAt:    &verifiedAt,
	}
}

func (v *Verifier) internalError(c Claim, err error) Verdict {
	v.log.Error("verification failed internally",
		zap.String("claim_id", c.ID),
		zap.String("session_id", c.SessionID),
		zap.Error(err))
	detail := err.Error()
	vd := reject(c, ReasonInternalError)
	vd.errDetail = &detail
	return vd
}

func reject(c Claim, reason string) Verdict {
	return Verdict{ClaimID: c.ID, Status: StatusRejected, Reason: reason}
}

// appendAudit mirrors the verdict to the append-only trail. Failures are
// surfaced via logging only; the verdict already stands.
func (v *Verifier) appendAudit(ctx context.Context, c Claim, vd Verdict) {
	snapshot, err := json.Marshal(c)
	if err != nil {
		snapshot = []byte("{}")
	}
	entry := audit.Entry{
		ClaimID:       c.ID,
		SessionID:     c.SessionID,
		Reason:        vd.Reason,
		ClaimSnapshot: snapshot,
		DistanceM:     vd.DistanceM,
		SubmittedRSSI: vd.SubmittedRSSI,
		ErrorDetail:   vd.errDetail,
		CreatedAt:     v.now().UTC(),
	}
	if err := v.audit.Append(ctx, entry); err != nil {
		metrics.AuditAppendFailures.Inc()
		v.log.Error("audit append failed",
			zap.String("claim_id", c.ID), zap.Error(err))
	}
}
