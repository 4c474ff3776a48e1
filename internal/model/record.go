package model

import (
	"time"
)

// AccessType is the radio access technology a session used.
type AccessType string

const (
	Access2G AccessType = "2G"
	Access3G AccessType = "3G"
	Access4G AccessType = "4G"
	Access5G AccessType = "5G"
)

// AccessTypes lists every supported radio access technology.
var AccessTypes = []AccessType{Access2G, Access3G, Access4G, Access5G}

// ParseAccessType returns the AccessType for s, or false if s is not a
// recognized radio access technology.
func ParseAccessType(s string) (AccessType, bool) {
	for _, at := range AccessTypes {
		if string(at) == s {
			return at, true
		}
	}
	return "", false
}

// Point is a geographic location in (longitude, latitude) order.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// DetailRecord is one network session: endpoints, subscriber identity,
// time window, geolocation, data volume, and the fields derived from them.
// Derived fields are recomputed on every normalization and are never
// accepted from callers.
type DetailRecord struct {
	ID string `json:"id"`

	PrivateAddress string `json:"private_address"`
	PrivatePort    int    `json:"private_port"`
	PublicAddress  string `json:"public_address"`
	PublicPort     int    `json:"public_port"`
	DestAddress    string `json:"dest_address"`
	DestPort       int    `json:"dest_port"`

	SubscriberNumber string `json:"subscriber_number"`
	DeviceID         string `json:"device_id"`
	SubscriberID     string `json:"subscriber_id"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	CellID    string  `json:"cell_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	UplinkBytes   int64      `json:"uplink_bytes"`
	DownlinkBytes int64      `json:"downlink_bytes"`
	AccessType    AccessType `json:"access_type"`

	// Derived.
	DurationMs int64        `json:"duration_ms"`
	TotalBytes int64        `json:"total_bytes"`
	Location   Point        `json:"location"`
	Suspicious bool         `json:"suspicious"`
	Reasons    []ReasonCode `json:"suspicious_reasons,omitempty"`
	Severity   Severity     `json:"severity,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	RiskScore  float64      `json:"risk_score,omitempty"`

	// Provenance. CreatedBy is the ingestion actor, recorded as supplied.
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasReason reports whether the record was tagged with the given reason.
func (r *DetailRecord) HasReason(code ReasonCode) bool {
	for _, c := range r.Reasons {
		if c == code {
			return true
		}
	}
	return false
}
