package claim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists claims in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const claimColumns = `id, session_id, student_id, auth_subject, scanned_token, latitude,
	longitude, scanned_beacon_id, beacon_rssi, mock_location, device_integrity,
	status, reason, distance_m, submitted_rssi, verified_at, created_at`

// Insert writes a new pending claim.
func (r *Repository) Insert(ctx context.Context, c Claim) (Claim, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO claims (`+claimColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, c.ID, c.SessionID, c.StudentID, c.AuthSubject, c.ScannedToken, c.Latitude,
		c.Longitude, c.ScannedBeacon, c.BeaconRSSI, c.MockLocation, c.DeviceOK,
		c.Status, c.Reason, c.DistanceM, c.SubmittedRSSI, c.VerifiedAt, c.CreatedAt)
	if err != nil {
		return Claim{}, fmt.Errorf("insert claim: %w", err)
	}
	return c, nil
}

// Get returns a claim by id, or nil when no record matches.
func (r *Repository) Get(ctx context.Context, id string) (*Claim, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id)
	c, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get claim %s: %w", id, err)
	}
	return &c, nil
}

// Finalize writes a verdict onto a pending claim. The status guard keeps
// verdict writes idempotent under at-least-once event delivery.
func (r *Repository) Finalize(ctx context.Context, v Verdict) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE claims
		SET status = $2, reason = $3, student_id = COALESCE($4, student_id),
			distance_m = $5, submitted_rssi = $6, verified_at = $7
		WHERE id = $1 AND status = $8
	`, v.ClaimID, v.Status, nullable(v.Reason), v.StudentID, v.DistanceM,
		v.SubmittedRSSI, v.VerifiedAt, StatusPending)
	if err != nil {
		return fmt.Errorf("finalize claim %s: %w", v.ClaimID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyFinal
	}
	return nil
}

// ErrAlreadyFinal is returned when a verdict write finds the claim already terminal.
var ErrAlreadyFinal = errors.New("claim already finalized")

// ListPendingOlderThan returns claims still pending past cutoff, oldest
// first. The requeue sweep uses it to recover claims whose verdict write or
// creation event was lost.
func (r *Repository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Claim, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at LIMIT $3
	`, StatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stuck claims: %w", err)
	}
	defer rows.Close()
	var res []Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListBySession returns a session's claims, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]Claim, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE session_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.SessionID, &c.StudentID, &c.AuthSubject, &c.ScannedToken,
		&c.Latitude, &c.Longitude, &c.ScannedBeacon, &c.BeaconRSSI, &c.MockLocation,
		&c.DeviceOK, &c.Status, &c.Reason, &c.DistanceM, &c.SubmittedRSSI,
		&c.VerifiedAt, &c.CreatedAt)
	return c, err
}
