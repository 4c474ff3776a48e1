package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-intel/cdrscope/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

var testBase = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

// testRecord builds a persisted-shape record; i perturbs the natural key so
// records do not collide unless a test wants them to.
func testRecord(i int) *model.DetailRecord {
	start := testBase.Add(time.Duration(i) * time.Hour)
	return &model.DetailRecord{
		ID:               uuid.New().String(),
		PrivateAddress:   "10.0.0.5",
		PrivatePort:      40000 + i,
		PublicAddress:    "203.0.113.7",
		PublicPort:       443,
		DestAddress:      fmt.Sprintf("198.51.100.%d", i%250+1),
		DestPort:         8080,
		SubscriberNumber: "254722000111",
		DeviceID:         "356938035643809",
		SubscriberID:     "639020000000001",
		StartTime:        start,
		EndTime:          start.Add(5 * time.Minute),
		CellID:           "KNBO-0412",
		Latitude:         -1.2921,
		Longitude:        36.8219,
		UplinkBytes:      1000,
		DownlinkBytes:    2000,
		AccessType:       model.Access4G,
		DurationMs:       300_000,
		TotalBytes:       3000,
		CreatedBy:        "analyst-7",
		CreatedAt:        testBase,
	}
}

func TestSQLite_RecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(1)
	rec.Suspicious = true
	rec.Reasons = []model.ReasonCode{model.ReasonHighNightActivity, model.ReasonUnusualDataVolume}
	rec.Severity = model.SeverityHigh
	rec.Confidence = 0.8
	rec.RiskScore = 60

	require.NoError(t, s.CreateRecord(ctx, rec))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.SubscriberNumber, got.SubscriberNumber)
	assert.Equal(t, rec.Reasons, got.Reasons)
	assert.Equal(t, model.SeverityHigh, got.Severity)
	assert.True(t, got.Suspicious)
	assert.True(t, got.StartTime.Equal(rec.StartTime))
	assert.Equal(t, model.Point{Lng: 36.8219, Lat: -1.2921}, got.Location)
}

func TestSQLite_GetRecord_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_DuplicateNaturalKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testRecord(1)
	require.NoError(t, s.CreateRecord(ctx, first))

	// Same subscriber, start time, dest address, and dest port: conflict,
	// even with a fresh ID.
	dup := testRecord(1)
	dup.ID = uuid.New().String()
	err := s.CreateRecord(ctx, dup)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSQLite_ListRecords_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := testRecord(i)
		if i == 0 {
			rec.Suspicious = true
		}
		if i == 4 {
			rec.SubscriberNumber = "254733999888"
		}
		require.NoError(t, s.CreateRecord(ctx, rec))
	}

	all, err := s.ListRecords(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	bySub, err := s.ListRecords(ctx, RecordFilter{SubscriberNumber: "254733999888"})
	require.NoError(t, err)
	assert.Len(t, bySub, 1)

	sus := true
	flagged, err := s.ListRecords(ctx, RecordFilter{Suspicious: &sus})
	require.NoError(t, err)
	assert.Len(t, flagged, 1)

	windowed, err := s.ListRecords(ctx, RecordFilter{
		From: testBase.Add(90 * time.Minute),
		To:   testBase.Add(210 * time.Minute),
	})
	require.NoError(t, err)
	assert.Len(t, windowed, 2) // records at +2h and +3h

	newest, err := s.ListRecords(ctx, RecordFilter{NewestFirst: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.True(t, newest[0].StartTime.After(newest[1].StartTime))
}

func TestSQLite_ListRecords_BoundsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inside := testRecord(1)
	outside := testRecord(2)
	outside.Latitude = 51.5
	outside.Longitude = -0.12
	require.NoError(t, s.CreateRecord(ctx, inside))
	require.NoError(t, s.CreateRecord(ctx, outside))

	got, err := s.ListRecords(ctx, RecordFilter{
		Bounds: &Rect{MinLat: -2, MaxLat: 0, MinLng: 36, MaxLng: 38},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inside.ID, got[0].ID)
}

func TestSQLite_Aggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		rec := testRecord(i)
		if i == 3 {
			rec.SubscriberNumber = "254733999888"
			rec.AccessType = model.Access5G
		}
		require.NoError(t, s.CreateRecord(ctx, rec))
	}

	n, err := s.CountRecords(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	vol, err := s.SumVolume(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(12000), vol)

	subs, err := s.DistinctSubscribers(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, subs)

	// 1 private + 1 public + 4 distinct dest addresses.
	addrs, err := s.DistinctAddresses(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, 6, addrs)

	byAT, err := s.CountByAccessType(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, byAT[model.Access4G])
	assert.Equal(t, 1, byAT[model.Access5G])
}

func TestSQLite_CounterpartNumbers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dest := "198.51.100.50"
	numbers := []string{"254722000111", "254733999888", "254744555666"}
	for i, num := range numbers {
		rec := testRecord(i)
		rec.SubscriberNumber = num
		rec.DestAddress = dest
		require.NoError(t, s.CreateRecord(ctx, rec))
	}

	got, err := s.CounterpartNumbers(ctx, dest, time.Time{}, time.Time{}, "254722000111", 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"254733999888", "254744555666"}, got)

	capped, err := s.CounterpartNumbers(ctx, dest, time.Time{}, time.Time{}, "", 1)
	require.NoError(t, err)
	assert.Len(t, capped, 1)
}

func testEvent(recordID string, code model.ReasonCode) *model.AnomalyEvent {
	return &model.AnomalyEvent{
		ID:               uuid.New().String(),
		ReasonCode:       code,
		Severity:         model.SeverityMedium,
		Confidence:       0.8,
		RiskScore:        40,
		SubscriberNumber: "254722000111",
		DeviceID:         "356938035643809",
		SubscriberID:     "639020000000001",
		FirstSeen:        testBase,
		LastSeen:         testBase.Add(5 * time.Minute),
		Status:           model.StatusNew,
		RecordID:         recordID,
		CreatedAt:        testBase,
	}
}

func TestSQLite_Events(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(1)
	require.NoError(t, s.CreateRecord(ctx, rec))

	ev1 := testEvent(rec.ID, model.ReasonHighNightActivity)
	ev2 := testEvent(rec.ID, model.ReasonUnusualDataVolume)
	require.NoError(t, s.CreateEvent(ctx, ev1))
	require.NoError(t, s.CreateEvent(ctx, ev2))

	all, err := s.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byReason, err := s.ListEvents(ctx, EventFilter{ReasonCode: model.ReasonUnusualDataVolume})
	require.NoError(t, err)
	require.Len(t, byReason, 1)
	assert.Equal(t, ev2.ID, byReason[0].ID)

	require.NoError(t, s.UpdateEventStatus(ctx, ev1.ID, model.StatusResolved))
	open, err := s.CountEvents(ctx, EventFilter{ExcludeStatus: model.StatusResolved})
	require.NoError(t, err)
	assert.Equal(t, 1, open)

	err = s.UpdateEventStatus(ctx, "missing", model.StatusResolved)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_CasesAndAttachment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(1)
	require.NoError(t, s.CreateRecord(ctx, rec))
	ev := testEvent(rec.ID, model.ReasonShortDurationFreq)
	require.NoError(t, s.CreateEvent(ctx, ev))

	openCase := &model.Case{ID: uuid.New().String(), Title: "sim-box review", Open: true, CreatedAt: testBase}
	closedCase := &model.Case{ID: uuid.New().String(), Title: "closed", Open: false, CreatedAt: testBase}
	require.NoError(t, s.CreateCase(ctx, openCase))
	require.NoError(t, s.CreateCase(ctx, closedCase))

	n, err := s.CountOpenCases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.AttachEventToCase(ctx, ev.ID, openCase.ID))
	got, err := s.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, openCase.ID, got[0].CaseID)
}
