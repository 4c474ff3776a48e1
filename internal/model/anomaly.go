package model

import "time"

// AnomalyStatus is the case-workflow state of an anomaly event. The core
// creates events as NEW and never mutates status afterwards; transitions are
// driven by the external case workflow.
type AnomalyStatus string

const (
	StatusNew                AnomalyStatus = "NEW"
	StatusFlagged            AnomalyStatus = "FLAGGED"
	StatusUnderInvestigation AnomalyStatus = "UNDER_INVESTIGATION"
	StatusResolved           AnomalyStatus = "RESOLVED"
	StatusFalsePositive      AnomalyStatus = "FALSE_POSITIVE"
)

// AnomalyStatuses lists every workflow state.
var AnomalyStatuses = []AnomalyStatus{
	StatusNew,
	StatusFlagged,
	StatusUnderInvestigation,
	StatusResolved,
	StatusFalsePositive,
}

// AnomalyEvent is one detected-reason instance tied to a record. A record
// that trips several reasons produces one event per reason.
type AnomalyEvent struct {
	ID         string        `json:"id"`
	ReasonCode ReasonCode    `json:"reason_code"`
	Severity   Severity      `json:"severity"`
	Confidence float64       `json:"confidence"`
	RiskScore  float64       `json:"risk_score"`

	SubscriberNumber string `json:"subscriber_number"`
	DeviceID         string `json:"device_id"`
	SubscriberID     string `json:"subscriber_id"`

	FirstSeen time.Time     `json:"first_seen"`
	LastSeen  time.Time     `json:"last_seen"`
	Status    AnomalyStatus `json:"status"`

	RecordID string `json:"record_id"`
	CaseID   string `json:"case_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Case is the thin association the core keeps with the external case
// workflow. Case semantics live outside the core; only the open/closed flag
// and the event linkage matter here.
type Case struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Open      bool      `json:"open"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
