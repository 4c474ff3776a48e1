// Package analytics computes read-side summaries over stored records and
// anomaly events: the dashboard, activity trends, top communicators, geo
// clusters, and the anomaly report. Aggregations run on demand; nothing here
// writes to the store.
package analytics

import (
	"time"

	"github.com/lattice-intel/cdrscope/internal/store"
)

// defaultWindow is the trailing period used when a query gives no bounds.
const defaultWindow = 30 * 24 * time.Hour

// Window bounds an aggregation in time. Zero fields fall back to the
// trailing default period ending now.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (w Window) resolve(now time.Time) Window {
	if w.To.IsZero() {
		w.To = now
	}
	if w.From.IsZero() {
		w.From = w.To.Add(-defaultWindow)
	}
	return w
}

func (w Window) recordFilter() store.RecordFilter {
	return store.RecordFilter{From: w.From, To: w.To}
}

// Aggregator computes analytics over a store.
type Aggregator struct {
	store store.Store
	now   func() time.Time
}

// New creates an aggregator over the given store.
func New(st store.Store) *Aggregator {
	return &Aggregator{store: st, now: time.Now}
}
