// Package audit keeps the append-only trail of verification verdicts used for
// dispute resolution. Entries are written once by the verifier and never
// mutated.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry mirrors one terminal verdict.
type Entry struct {
	ID            string          `json:"id"`
	ClaimID       string          `json:"claim_id"`
	SessionID     string          `json:"session_id"`
	Reason        string          `json:"reason"`
	ClaimSnapshot json.RawMessage `json:"claim_snapshot"`
	DistanceM     *int            `json:"distance_m,omitempty"`
	SubmittedRSSI *float64        `json:"submitted_rssi,omitempty"`
	ErrorDetail   *string         `json:"error_detail,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Appender is the write side of the audit trail.
type Appender interface {
	Append(ctx context.Context, e Entry) error
}

// Log persists entries in Postgres.
type Log struct {
	db *sql.DB
}

// NewLog creates a Postgres-backed audit log.
func NewLog(db *sql.DB) *Log {
	return &Log{db: db}
}

// Append writes one entry.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, claim_id, session_id, reason, claim_snapshot,
			distance_m, submitted_rssi, error_detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.ClaimID, e.SessionID, e.Reason, []byte(e.ClaimSnapshot),
		e.DistanceM, e.SubmittedRSSI, e.ErrorDetail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry for claim %s: %w", e.ClaimID, err)
	}
	return nil
}

// ListBySession returns entries for one session, newest first.
func (l *Log) ListBySession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, claim_id, session_id, reason, claim_snapshot, distance_m,
			submitted_rssi, error_detail, created_at
		FROM audit_log WHERE session_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		var e Entry
		var snapshot []byte
		if err := rows.Scan(&e.ID, &e.ClaimID, &e.SessionID, &e.Reason, &snapshot,
			&e.DistanceM, &e.SubmittedRSSI, &e.ErrorDetail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ClaimSnapshot = snapshot
		res = append(res, e)
	}
	return res, rows.Err()
}
