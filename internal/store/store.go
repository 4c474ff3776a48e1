// Package store persists detail records and anomaly events. Two backends
// implement the same interface: embedded SQLite for local work and Postgres
// for shared deployments. Writes rely on the backend's per-row atomicity;
// the core never takes cross-record transactions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lattice-intel/cdrscope/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write violates the record natural key
	// (subscriber number, start time, dest address, dest port).
	ErrConflict = errors.New("store: duplicate natural key")
	// ErrUnavailable is returned when the backend cannot be reached. It
	// marks a systemic failure: batches abort instead of skipping rows.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Rect is a geographic bounding rectangle.
type Rect struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// RecordFilter selects detail records. Zero-valued fields are ignored.
type RecordFilter struct {
	SubscriberNumber string
	DestAddress      string
	CellID           string
	AccessType       model.AccessType
	From             time.Time
	To               time.Time
	Suspicious       *bool
	Bounds           *Rect
	Limit            int
	Offset           int
	// NewestFirst orders by start time descending instead of ascending.
	NewestFirst bool
}

// EventFilter selects anomaly events. Zero-valued fields are ignored.
type EventFilter struct {
	ReasonCode       model.ReasonCode
	Status           model.AnomalyStatus
	ExcludeStatus    model.AnomalyStatus
	SubscriberNumber string
	From             time.Time
	To               time.Time
	Limit            int
}

// Store is the persistence interface for records, anomaly events, and the
// thin case association.
type Store interface {
	// Records.
	CreateRecord(ctx context.Context, rec *model.DetailRecord) error
	GetRecord(ctx context.Context, id string) (*model.DetailRecord, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]model.DetailRecord, error)
	CountRecords(ctx context.Context, f RecordFilter) (int, error)
	SumVolume(ctx context.Context, f RecordFilter) (int64, error)
	DistinctSubscribers(ctx context.Context, f RecordFilter) (int, error)
	DistinctAddresses(ctx context.Context, f RecordFilter) (int, error)
	CountByAccessType(ctx context.Context, f RecordFilter) (map[model.AccessType]int, error)
	// CounterpartNumbers returns distinct subscriber numbers other than
	// exclude that contacted destAddress inside the window.
	CounterpartNumbers(ctx context.Context, destAddress string, from, to time.Time, exclude string, limit int) ([]string, error)

	// Anomaly events.
	CreateEvent(ctx context.Context, ev *model.AnomalyEvent) error
	ListEvents(ctx context.Context, f EventFilter) ([]model.AnomalyEvent, error)
	CountEvents(ctx context.Context, f EventFilter) (int, error)
	// UpdateEventStatus applies an external case-workflow transition. The
	// ingestion path never calls it.
	UpdateEventStatus(ctx context.Context, id string, status model.AnomalyStatus) error
	AttachEventToCase(ctx context.Context, eventID, caseID string) error

	// Cases.
	CreateCase(ctx context.Context, c *model.Case) error
	CountOpenCases(ctx context.Context) (int, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
