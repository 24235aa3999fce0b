package session

import (
	"context"
	"errors"
	"time"
)

// Service coordinates session lifecycle for the API layer.
type Service struct {
	repo     *Repository
	tokenTTL time.Duration
}

// NewService creates a service backed by a repository. tokenTTL is the
// validity window stamped onto the initial token; the rotator takes over from
// there.
func NewService(repo *Repository, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 5 * time.Minute
	}
	return &Service{repo: repo, tokenTTL: tokenTTL}
}

// CreateParams is the teacher-supplied part of a new session.
type CreateParams struct {
	CourseID         string
	TeacherID        string
	Latitude         *float64
	Longitude        *float64
	AllowedRadiusM   float64
	RequiredBeaconID *string
	MinRequiredRSSI  float64
}

// Create starts a new active session with an immediately valid first token.
func (s *Service) Create(ctx context.Context, p CreateParams) (Session, error) {
	if p.CourseID == "" || p.TeacherID == "" {
		return Session{}, errors.New("course and teacher required")
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return Session{}, errors.New("latitude and longitude must both be set or both omitted")
	}
	if p.AllowedRadiusM <= 0 {
		p.AllowedRadiusM = DefaultAllowedRadiusM
	}
	if p.MinRequiredRSSI == 0 {
		p.MinRequiredRSSI = DefaultMinRequiredRSSI
	}

	token, err := NewToken()
	if err != nil {
		return Session{}, err
	}
	now := time.Now().UTC()
	expires := now.Add(s.tokenTTL)
	return s.repo.Insert(ctx, Session{
		CourseID:         p.CourseID,
		TeacherID:        p.TeacherID,
		Token:            token,
		TokenIssuedAt:    now,
		TokenExpiresAt:   &expires,
		Latitude:         p.Latitude,
		Longitude:        p.Longitude,
		AllowedRadiusM:   p.AllowedRadiusM,
		RequiredBeaconID: p.RequiredBeaconID,
		MinRequiredRSSI:  p.MinRequiredRSSI,
		IsActive:         true,
		CreatedAt:        now,
	})
}

// Get returns a session by id, nil when absent.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.repo.Get(ctx, id)
}

// End explicitly closes a session.
func (s *Service) End(ctx context.Context, id string) error {
	return s.repo.End(ctx, id, time.Now().UTC(), false)
}
