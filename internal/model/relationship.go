package model

import "time"

// StrengthTier buckets contact frequency.
type StrengthTier string

const (
	TierLow    StrengthTier = "LOW"
	TierMedium StrengthTier = "MEDIUM"
	TierHigh   StrengthTier = "HIGH"
)

// TierForFrequency maps a contact count to its strength tier. Exactly 5 is
// LOW, exactly 10 is MEDIUM, 11 and above is HIGH.
func TierForFrequency(frequency int) StrengthTier {
	switch {
	case frequency > 10:
		return TierHigh
	case frequency > 5:
		return TierMedium
	default:
		return TierLow
	}
}

// RelationshipEdge is the aggregated contact between a subject identifier
// and one counterpart network address. Edges are computed on demand and
// never persisted.
type RelationshipEdge struct {
	Subject     string `json:"subject"`
	Counterpart string `json:"counterpart"`
	Depth       int    `json:"depth"`

	Frequency     int           `json:"frequency"`
	TotalDuration int64         `json:"total_duration_ms"`
	TotalVolume   int64         `json:"total_volume_bytes"`
	FirstContact  time.Time     `json:"first_contact"`
	LastContact   time.Time     `json:"last_contact"`
	StrengthTier  StrengthTier  `json:"strength_tier"`

	SuspiciousObserved bool `json:"suspicious_observed"`

	// BParties holds other subscriber numbers seen contacting the same
	// counterpart address in the window, capped to bound output size.
	BParties []string `json:"b_parties,omitempty"`
}
