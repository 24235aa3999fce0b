package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, course_id, teacher_id, token, token_issued_at, token_expires_at,
	last_rotated, latitude, longitude, allowed_radius_m, required_beacon_id,
	min_required_rssi, is_active, auto_ended, created_at, ended_at`

// Insert writes a new session record.
func (r *Repository) Insert(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, s.ID, s.CourseID, s.TeacherID, s.Token, s.TokenIssuedAt, s.TokenExpiresAt,
		s.LastRotated, s.Latitude, s.Longitude, s.AllowedRadiusM, s.RequiredBeaconID,
		s.MinRequiredRSSI, s.IsActive, s.AutoEnded, s.CreatedAt, s.EndedAt)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// Get returns a session by id, or nil when no record matches.
func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &s, nil
}

// ListActive returns all sessions currently marked active.
func (r *Repository) ListActive(ctx context.Context) ([]Session, error) {
	return r.listActive(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE is_active = TRUE`)
}

// ListActiveOlderThan returns active sessions whose start time predates cutoff.
func (r *Repository) ListActiveOlderThan(ctx context.Context, cutoff time.Time) ([]Session, error) {
	return r.listActive(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE is_active = TRUE AND created_at < $1`, cutoff)
}

func (r *Repository) listActive(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// End marks a session inactive with an end timestamp.
func (r *Repository) End(ctx context.Context, id string, endedAt time.Time, autoEnded bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET is_active = FALSE, ended_at = $2, auto_ended = $3
		WHERE id = $1 AND is_active = TRUE
	`, id, endedAt, autoEnded)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotActive
	}
	return nil
}

// ErrNotActive is returned when ending a session that is missing or already ended.
var ErrNotActive = errors.New("session not active")

// TokenUpdate carries one session's fresh credential for a rotation batch.
type TokenUpdate struct {
	SessionID string
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// BatchRotate applies a rotation sweep as a single transaction. Either every
// session in the batch gets its fresh token or none does.
func (r *Repository) BatchRotate(ctx context.Context, updates []TokenUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation tx: %w", err)
	}
	defer tx.Rollback()
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET token = $2, token_issued_at = $3, token_expires_at = $4, last_rotated = $3
			WHERE id = $1
		`, u.SessionID, u.Token, u.IssuedAt, u.ExpiresAt); err != nil {
			return fmt.Errorf("rotate session %s: %w", u.SessionID, err)
		}
	}
	return tx.Commit()
}

// BatchEnd deactivates a set of sessions atomically, flagging them auto-ended.
func (r *Repository) BatchEnd(ctx context.Context, ids []string, endedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reap tx: %w", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET is_active = FALSE, auto_ended = TRUE, ended_at = $2
			WHERE id = $1
		`, id, endedAt); err != nil {
			return fmt.Errorf("reap session %s: %w", id, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.CourseID, &s.TeacherID, &s.Token, &s.TokenIssuedAt,
		&s.TokenExpiresAt, &s.LastRotated, &s.Latitude, &s.Longitude, &s.AllowedRadiusM,
		&s.RequiredBeaconID, &s.MinRequiredRSSI, &s.IsActive, &s.AutoEnded,
		&s.CreatedAt, &s.EndedAt)
	return s, err
}
