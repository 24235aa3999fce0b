package claim

import "time"

// Claim statuses. A claim is created pending and moved to exactly one
// terminal status by the verifier.
const (
	StatusPending  = "pending"
	StatusPresent  = "present"
	StatusRejected = "rejected"
)

// Rejection reason codes. These are classification outcomes, not errors;
// collaborators reading claim or audit records match on them exactly.
const (
	ReasonSessionNotFound        = "session_not_found"
	ReasonInvalidQR              = "invalid_qr"
	ReasonSessionInactive        = "session_inactive"
	ReasonSessionExpired         = "session_expired"
	ReasonDeviceIntegrityFailed  = "device_integrity_failed"
	ReasonMockLocationDetected   = "mock_location_detected"
	ReasonBeaconDataMissing      = "beacon_data_missing"
	ReasonInvalidBeaconID        = "invalid_beacon_id"
	ReasonBeaconTooFar           = "beacon_too_far"
	ReasonSessionLocationMissing = "session_location_missing"
	ReasonOutOfRange             = "out_of_range"
	ReasonMissingStudentID       = "missing_student_id"
	ReasonInternalError          = "internal_error"

	// ReasonVerifiedPresent is the audit reason recorded for accepted claims.
	ReasonVerifiedPresent = "verified_present"
)

// Claim is one student's submitted presence evidence. The submission path
// writes it pending; the verifier writes the terminal fields exactly once.
type Claim struct {
	ID            string   `json:"id"`
	SessionID     string   `json:"session_id"`
	StudentID     *string  `json:"student_id,omitempty"`
	AuthSubject   *string  `json:"auth_subject,omitempty"`
	ScannedToken  string   `json:"scanned_token"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	ScannedBeacon *string  `json:"scanned_beacon_id,omitempty"`
	BeaconRSSI    *float64 `json:"beacon_rssi,omitempty"`
	MockLocation  bool     `json:"mock_location_detected"`
	DeviceOK      bool     `json:"device_integrity"`

	Status        string     `json:"status"`
	Reason        *string    `json:"reason,omitempty"`
	DistanceM     *int       `json:"distance_m,omitempty"`
	SubmittedRSSI *float64   `json:"submitted_rssi,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Terminal reports whether the claim already carries a verdict.
func (c *Claim) Terminal() bool {
	return c.Status == StatusPresent || c.Status == StatusRejected
}

// Verdict is the terminal classification of one claim.
type Verdict struct {
	ClaimID       string
	Status        string
	Reason        string
	StudentID     *string
	DistanceM     *int
	SubmittedRSSI *float64
	VerifiedAt    *time.Time

	// errDetail carries the raw internal failure for the audit record only.
	errDetail *string
}
