// Package storetest provides an in-memory Store for tests. It mirrors the
// SQL backends' filter semantics, including natural-key conflicts, so
// pipeline and analytics tests run without a database.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lattice-intel/cdrscope/internal/model"
	"github.com/lattice-intel/cdrscope/internal/store"
)

// Memory is an in-memory store.Store. Error hooks let tests inject
// per-operation failures.
type Memory struct {
	mu      sync.Mutex
	records []model.DetailRecord
	events  []model.AnomalyEvent
	cases   []model.Case

	// Hooks. When non-nil and returning a non-nil error, the operation
	// fails with that error before mutating state.
	CreateRecordErr func(rec *model.DetailRecord) error
	CreateEventErr  func(ev *model.AnomalyEvent) error
}

// New returns an empty in-memory store.
func New() *Memory {
	return &Memory{}
}

// Records returns a copy of all stored records.
func (m *Memory) Records() []model.DetailRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.DetailRecord(nil), m.records...)
}

// Events returns a copy of all stored events.
func (m *Memory) Events() []model.AnomalyEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AnomalyEvent(nil), m.events...)
}

// Cases returns a copy of all stored cases.
func (m *Memory) Cases() []model.Case {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Case(nil), m.cases...)
}

// Seed loads records without conflict checks.
func (m *Memory) Seed(recs ...model.DetailRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recs...)
}

// SeedEvents loads events directly.
func (m *Memory) SeedEvents(evs ...model.AnomalyEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evs...)
}

func (m *Memory) CreateRecord(ctx context.Context, rec *model.DetailRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.CreateRecordErr != nil {
		if err := m.CreateRecordErr(rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.SubscriberNumber == rec.SubscriberNumber &&
			existing.StartTime.Equal(rec.StartTime) &&
			existing.DestAddress == rec.DestAddress &&
			existing.DestPort == rec.DestPort {
			return eris.Wrap(store.ErrConflict, "storetest: duplicate record")
		}
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *Memory) GetRecord(ctx context.Context, id string) (*model.DetailRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID == id {
			out := rec
			return &out, nil
		}
	}
	return nil, eris.Wrapf(store.ErrNotFound, "storetest: record %s", id)
}

func matches(rec model.DetailRecord, f store.RecordFilter) bool {
	if f.SubscriberNumber != "" && rec.SubscriberNumber != f.SubscriberNumber {
		return false
	}
	if f.DestAddress != "" && rec.DestAddress != f.DestAddress {
		return false
	}
	if f.CellID != "" && rec.CellID != f.CellID {
		return false
	}
	if f.AccessType != "" && rec.AccessType != f.AccessType {
		return false
	}
	if !f.From.IsZero() && rec.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !rec.StartTime.Before(f.To) {
		return false
	}
	if f.Suspicious != nil && rec.Suspicious != *f.Suspicious {
		return false
	}
	if f.Bounds != nil {
		b := f.Bounds
		if rec.Latitude < b.MinLat || rec.Latitude > b.MaxLat ||
			rec.Longitude < b.MinLng || rec.Longitude > b.MaxLng {
			return false
		}
	}
	return true
}

func (m *Memory) filtered(f store.RecordFilter) []model.DetailRecord {
	var out []model.DetailRecord
	for _, rec := range m.records {
		if matches(rec, f) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if f.NewestFirst {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (m *Memory) ListRecords(ctx context.Context, f store.RecordFilter) ([]model.DetailRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filtered(f), nil
}

func (m *Memory) CountRecords(ctx context.Context, f store.RecordFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.filtered(store.RecordFilter{
		SubscriberNumber: f.SubscriberNumber, DestAddress: f.DestAddress, CellID: f.CellID,
		AccessType: f.AccessType, From: f.From, To: f.To, Suspicious: f.Suspicious, Bounds: f.Bounds,
	})), nil
}

func (m *Memory) SumVolume(ctx context.Context, f store.RecordFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, rec := range m.filtered(f) {
		total += rec.TotalBytes
	}
	return total, nil
}

func (m *Memory) DistinctSubscribers(ctx context.Context, f store.RecordFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, rec := range m.filtered(f) {
		seen[rec.SubscriberNumber] = struct{}{}
	}
	return len(seen), nil
}

func (m *Memory) DistinctAddresses(ctx context.Context, f store.RecordFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, rec := range m.filtered(f) {
		seen[rec.PrivateAddress] = struct{}{}
		seen[rec.PublicAddress] = struct{}{}
		seen[rec.DestAddress] = struct{}{}
	}
	return len(seen), nil
}

func (m *Memory) CountByAccessType(ctx context.Context, f store.RecordFilter) (map[model.AccessType]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.AccessType]int)
	for _, rec := range m.filtered(f) {
		counts[rec.AccessType]++
	}
	return counts, nil
}

func (m *Memory) CounterpartNumbers(ctx context.Context, destAddress string, from, to time.Time, exclude string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, rec := range m.records {
		if rec.DestAddress != destAddress || rec.SubscriberNumber == exclude {
			continue
		}
		if !from.IsZero() && rec.StartTime.Before(from) {
			continue
		}
		if !to.IsZero() && !rec.StartTime.Before(to) {
			continue
		}
		seen[rec.SubscriberNumber] = struct{}{}
	}
	numbers := make([]string, 0, len(seen))
	for n := range seen {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)
	if limit > 0 && len(numbers) > limit {
		numbers = numbers[:limit]
	}
	return numbers, nil
}

func (m *Memory) CreateEvent(ctx context.Context, ev *model.AnomalyEvent) error {
	if m.CreateEventErr != nil {
		if err := m.CreateEventErr(ev); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func eventMatches(ev model.AnomalyEvent, f store.EventFilter) bool {
	if f.ReasonCode != "" && ev.ReasonCode != f.ReasonCode {
		return false
	}
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	if f.ExcludeStatus != "" && ev.Status == f.ExcludeStatus {
		return false
	}
	if f.SubscriberNumber != "" && ev.SubscriberNumber != f.SubscriberNumber {
		return false
	}
	if !f.From.IsZero() && ev.FirstSeen.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !ev.FirstSeen.Before(f.To) {
		return false
	}
	return true
}

func (m *Memory) ListEvents(ctx context.Context, f store.EventFilter) ([]model.AnomalyEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AnomalyEvent
	for _, ev := range m.events {
		if eventMatches(ev, f) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) CountEvents(ctx context.Context, f store.EventFilter) (int, error) {
	evs, err := m.ListEvents(ctx, store.EventFilter{
		ReasonCode: f.ReasonCode, Status: f.Status, ExcludeStatus: f.ExcludeStatus,
		SubscriberNumber: f.SubscriberNumber, From: f.From, To: f.To,
	})
	if err != nil {
		return 0, err
	}
	return len(evs), nil
}

func (m *Memory) UpdateEventStatus(ctx context.Context, id string, status model.AnomalyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].Status = status
			return nil
		}
	}
	return eris.Wrapf(store.ErrNotFound, "storetest: event %s", id)
}

func (m *Memory) AttachEventToCase(ctx context.Context, eventID, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == eventID {
			m.events[i].CaseID = caseID
			return nil
		}
	}
	return eris.Wrapf(store.ErrNotFound, "storetest: event %s", eventID)
}

func (m *Memory) CreateCase(ctx context.Context, c *model.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases = append(m.cases, *c)
	return nil
}

func (m *Memory) CountOpenCases(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.cases {
		if c.Open {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Migrate(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
