package session

import "time"

// Session is one class meeting's attendance window. The token fields rotate
// independently of the session's overall lifetime: CreatedAt/EndedAt bound the
// session itself, TokenIssuedAt/TokenExpiresAt bound the currently valid token.
type Session struct {
	ID               string     `json:"id"`
	CourseID         string     `json:"course_id"`
	TeacherID        string     `json:"teacher_id"`
	Token            string     `json:"-"`
	TokenIssuedAt    time.Time  `json:"token_issued_at"`
	TokenExpiresAt   *time.Time `json:"token_expires_at,omitempty"`
	LastRotated      *time.Time `json:"last_rotated,omitempty"`
	Latitude         *float64   `json:"latitude,omitempty"`
	Longitude        *float64   `json:"longitude,omitempty"`
	AllowedRadiusM   float64    `json:"allowed_radius_m"`
	RequiredBeaconID *string    `json:"required_beacon_id,omitempty"`
	MinRequiredRSSI  float64    `json:"min_required_rssi"`
	IsActive         bool       `json:"is_active"`
	AutoEnded        bool       `json:"auto_ended"`
	CreatedAt        time.Time  `json:"created_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

const (
	// DefaultAllowedRadiusM is the geofence radius applied when a session is
	// created without one.
	DefaultAllowedRadiusM = 50.0

	// DefaultMinRequiredRSSI is the weakest beacon signal accepted when a
	// session requires the beacon factor but sets no threshold.
	DefaultMinRequiredRSSI = -85.0

	// FallbackTokenTTL caps token validity when a session record carries no
	// explicit expiry. Safety default, not a normal path.
	FallbackTokenTTL = 2 * time.Hour
)

// TokenWindowContains reports whether t falls inside the session's current
// token validity window, boundaries inclusive. A missing expiry falls back to
// TokenIssuedAt + FallbackTokenTTL.
func (s *Session) TokenWindowContains(t time.Time) bool {
	expires := s.TokenIssuedAt.Add(FallbackTokenTTL)
	if s.TokenExpiresAt != nil {
		expires = *s.TokenExpiresAt
	}
	return !t.Before(s.TokenIssuedAt) && !t.After(expires)
}

// HasLocation reports whether the session carries a reference coordinate.
func (s *Session) HasLocation() bool {
	return s.Latitude != nil && s.Longitude != nil
}
