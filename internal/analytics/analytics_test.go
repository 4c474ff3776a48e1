package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/lattice-intel/cdrscope/internal/model"
	"github.com/lattice-intel/cdrscope/internal/store/storetest"
)

var testNow = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

func newAggregator(mem *storetest.Memory) *Aggregator {
	a := New(mem)
	a.now = func() time.Time { return testNow }
	return a
}

type recOpts struct {
	subscriber string
	dest       string
	start      time.Time
	bytes      int64
	suspicious bool
	cellID     string
	lat, lng   float64
	access     model.AccessType
}

func seedRecord(mem *storetest.Memory, i int, o recOpts) {
	if o.subscriber == "" {
		o.subscriber = "46701111111"
	}
	if o.start.IsZero() {
		o.start = testNow.Add(-time.Duration(i+1) * time.Hour)
	}
	if o.cellID == "" {
		o.cellID = "SE-STO-0042"
	}
	if o.access == "" {
		o.access = model.Access4G
	}
	if o.dest == "" {
		o.dest = fmt.Sprintf("198.51.100.%d", 30+i)
	}
	mem.Seed(model.DetailRecord{
		ID:               fmt.Sprintf("rec-%d", i),
		SubscriberNumber: o.subscriber,
		PrivateAddress:   "10.0.0.5",
		PublicAddress:    "203.0.113.9",
		DestAddress:      o.dest,
		DestPort:         443,
		StartTime:        o.start,
		EndTime:          o.start.Add(time.Minute),
		CellID:           o.cellID,
		Latitude:         o.lat,
		Longitude:        o.lng,
		TotalBytes:       o.bytes,
		AccessType:       o.access,
		Suspicious:       o.suspicious,
	})
}

func TestDashboardEmptyStore(t *testing.T) {
	a := newAggregator(storetest.New())

	d, err := a.Dashboard(context.Background(), Window{}, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, d.TotalRecords)
	assert.Equal(t, 0, d.SuspiciousRecords)
	assert.Equal(t, int64(0), d.TotalVolumeBytes)
	assert.Equal(t, 0, d.OpenAnomalies)
	assert.Equal(t, 0, d.OpenCases)
	assert.Empty(t, d.Recent)
	// Default trailing window ends at now.
	assert.Equal(t, testNow, d.Window.To)
	assert.Equal(t, testNow.Add(-defaultWindow), d.Window.From)
}

func TestDashboardCounts(t *testing.T) {
	mem := storetest.New()
	seedRecord(mem, 0, recOpts{bytes: 1000})
	seedRecord(mem, 1, recOpts{bytes: 2000, suspicious: true})
	seedRecord(mem, 2, recOpts{subscriber: "46702222222", bytes: 500, access: model.Access5G})
	mem.SeedEvents(
		model.AnomalyEvent{ID: "ev-1", Status: model.StatusNew, FirstSeen: testNow.Add(-time.Hour)},
		model.AnomalyEvent{ID: "ev-2", Status: model.StatusResolved, FirstSeen: testNow.Add(-time.Hour)},
		model.AnomalyEvent{ID: "ev-3", Status: model.StatusFalsePositive, FirstSeen: testNow.Add(-time.Hour)},
	)

	a := newAggregator(mem)
	d, err := a.Dashboard(context.Background(), Window{}, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, d.TotalRecords)
	assert.Equal(t, 1, d.SuspiciousRecords)
	assert.Equal(t, int64(3500), d.TotalVolumeBytes)
	assert.Equal(t, "3.5 kB", d.TotalVolume)
	assert.Equal(t, 2, d.DistinctSubscribers)
	assert.Equal(t, 2, d.ByAccessType[model.Access4G])
	assert.Equal(t, 1, d.ByAccessType[model.Access5G])

	// RESOLVED is the only closed status; FALSE_POSITIVE still counts open.
	assert.Equal(t, 2, d.OpenAnomalies)

	require.Len(t, d.Recent, 2)
	assert.True(t, d.Recent[0].StartTime.After(d.Recent[1].StartTime))
}

func TestTrendDailyBuckets(t *testing.T) {
	mem := storetest.New()
	day1 := time.Date(2026, 3, 18, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 19, 23, 0, 0, 0, time.UTC)
	seedRecord(mem, 0, recOpts{start: day1, bytes: 100})
	seedRecord(mem, 1, recOpts{start: day1.Add(time.Hour), bytes: 200, suspicious: true})
	seedRecord(mem, 2, recOpts{start: day2, bytes: 300})

	a := newAggregator(mem)
	points, err := a.Trend(context.Background(), Window{}, Daily)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, "2026-03-18", points[0].Label)
	assert.Equal(t, 2, points[0].Records)
	assert.Equal(t, 1, points[0].Suspicious)
	assert.Equal(t, int64(300), points[0].VolumeBytes)
	assert.Equal(t, "2026-03-19", points[1].Label)
}

func TestTrendBucketTruncation(t *testing.T) {
	// 2026-03-19 is a Thursday; its ISO week starts Monday 2026-03-16.
	ts := time.Date(2026, 3, 19, 14, 35, 0, 0, time.UTC)

	tests := []struct {
		g     Granularity
		want  time.Time
		label string
	}{
		{Hourly, time.Date(2026, 3, 19, 14, 0, 0, 0, time.UTC), "2026-03-19 14:00"},
		{Daily, time.Date(2026, 3, 19, 0, 0, 0, 0, time.UTC), "2026-03-19"},
		{Weekly, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), "2026-W12"},
		{Monthly, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), "2026-03"},
	}
	for _, tt := range tests {
		t.Run(string(tt.g), func(t *testing.T) {
			bucket := truncateToBucket(ts, tt.g)
			assert.Equal(t, tt.want, bucket)
			assert.Equal(t, tt.label, bucketLabel(bucket, tt.g))
		})
	}
}

func TestTrendEmptyStore(t *testing.T) {
	a := newAggregator(storetest.New())
	points, err := a.Trend(context.Background(), Window{}, Hourly)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestParseGranularity(t *testing.T) {
	g, ok := ParseGranularity("weekly")
	assert.True(t, ok)
	assert.Equal(t, Weekly, g)
	_, ok = ParseGranularity("yearly")
	assert.False(t, ok)
}

func TestTopCommunicatorsSuspiciousOutranksVolume(t *testing.T) {
	mem := storetest.New()
	// A: 3 sessions, 1 suspicious. B: 5 clean sessions.
	for i := 0; i < 3; i++ {
		seedRecord(mem, i, recOpts{subscriber: "46701111111", suspicious: i == 0})
	}
	for i := 3; i < 8; i++ {
		seedRecord(mem, i, recOpts{subscriber: "46702222222"})
	}

	a := newAggregator(mem)
	ranked, err := a.TopCommunicators(context.Background(), Window{}, 0)
	require.NoError(t, err)
	require.Len(t, ranked, 2)

	assert.Equal(t, "46701111111", ranked[0].SubscriberNumber)
	assert.InDelta(t, 10.03, ranked[0].RiskScore, 1e-9)
	assert.Equal(t, "46702222222", ranked[1].SubscriberNumber)
	assert.InDelta(t, 0.05, ranked[1].RiskScore, 1e-9)
}

func TestTopCommunicatorsLimitAndTies(t *testing.T) {
	mem := storetest.New()
	for s := 0; s < 4; s++ {
		for i := 0; i < 2; i++ {
			seedRecord(mem, s*10+i, recOpts{subscriber: fmt.Sprintf("4670%07d", s)})
		}
	}

	a := newAggregator(mem)
	ranked, err := a.TopCommunicators(context.Background(), Window{}, 3)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	// Equal risk and sessions: subscriber number breaks the tie.
	assert.Equal(t, "46700000000", ranked[0].SubscriberNumber)
}

func TestTopCommunicatorsCounterpartsAndSeenBounds(t *testing.T) {
	mem := storetest.New()
	seedRecord(mem, 0, recOpts{dest: "198.51.100.30", start: testNow.Add(-3 * time.Hour)})
	seedRecord(mem, 1, recOpts{dest: "198.51.100.30", start: testNow.Add(-time.Hour)})
	seedRecord(mem, 2, recOpts{dest: "198.51.100.31", start: testNow.Add(-2 * time.Hour)})

	a := newAggregator(mem)
	ranked, err := a.TopCommunicators(context.Background(), Window{}, 0)
	require.NoError(t, err)
	require.Len(t, ranked, 1)

	c := ranked[0]
	assert.Equal(t, 3, c.Sessions)
	assert.Equal(t, 2, c.DistinctCounterparts)
	assert.Equal(t, testNow.Add(-3*time.Hour), c.FirstSeen)
	assert.Equal(t, testNow.Add(-time.Hour), c.LastSeen)
}

func TestGeoClustersGroupByCell(t *testing.T) {
	mem := storetest.New()
	seedRecord(mem, 0, recOpts{cellID: "SE-STO-0042", lat: 59.0, lng: 18.0})
	seedRecord(mem, 1, recOpts{cellID: "SE-STO-0042", lat: 60.0, lng: 19.0, suspicious: true})
	seedRecord(mem, 2, recOpts{cellID: "SE-GOT-0007", lat: 57.7, lng: 11.97, access: model.Access5G})

	a := newAggregator(mem)
	clusters, err := a.GeoClusters(context.Background(), GeoOptions{})
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	sto := clusters[0]
	assert.Equal(t, "SE-STO-0042", sto.CellID)
	assert.Equal(t, 2, sto.Records)
	assert.Equal(t, 1, sto.Suspicious)
	assert.InDelta(t, 59.5, sto.Center.Lat, 1e-9)
	assert.InDelta(t, 18.5, sto.Center.Lng, 1e-9)
	assert.Equal(t, 2, sto.ByAccess[model.Access4G])

	assert.Equal(t, "SE-GOT-0007", clusters[1].CellID)
	assert.Equal(t, 1, clusters[1].ByAccess[model.Access5G])
}

func TestGeoClustersAccessTypeFilter(t *testing.T) {
	mem := storetest.New()
	seedRecord(mem, 0, recOpts{cellID: "SE-STO-0042", access: model.Access4G})
	seedRecord(mem, 1, recOpts{cellID: "SE-GOT-0007", access: model.Access5G})

	a := newAggregator(mem)
	clusters, err := a.GeoClusters(context.Background(), GeoOptions{AccessType: model.Access5G})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, "SE-GOT-0007", clusters[0].CellID)
}

func TestGeoClustersBounds(t *testing.T) {
	mem := storetest.New()
	seedRecord(mem, 0, recOpts{cellID: "SE-STO-0042", lat: 59.33, lng: 18.07})
	seedRecord(mem, 1, recOpts{cellID: "SE-GOT-0007", lat: 57.7, lng: 11.97})

	bounds := geom.NewBounds(geom.XY)
	bounds.SetCoords(geom.Coord{17.0, 59.0}, geom.Coord{19.0, 60.0})

	a := newAggregator(mem)
	clusters, err := a.GeoClusters(context.Background(), GeoOptions{Bounds: bounds})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, "SE-STO-0042", clusters[0].CellID)
}

func TestGeoClustersEmptyStore(t *testing.T) {
	a := newAggregator(storetest.New())
	clusters, err := a.GeoClusters(context.Background(), GeoOptions{})
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func seedEvent(mem *storetest.Memory, id, subscriber string, code model.ReasonCode, risk float64, day int, status model.AnomalyStatus) {
	mem.SeedEvents(model.AnomalyEvent{
		ID:               id,
		ReasonCode:       code,
		Severity:         model.SeverityHigh,
		RiskScore:        risk,
		SubscriberNumber: subscriber,
		FirstSeen:        time.Date(2026, 3, 10+day, 10, 0, 0, 0, time.UTC),
		Status:           status,
	})
}

func TestAnomalyReport(t *testing.T) {
	mem := storetest.New()
	seedEvent(mem, "ev-1", "46701111111", model.ReasonUnusualDataVolume, 60, 0, model.StatusNew)
	seedEvent(mem, "ev-2", "46701111111", model.ReasonUnusualDataVolume, 80, 0, model.StatusFlagged)
	seedEvent(mem, "ev-3", "46702222222", model.ReasonHighNightActivity, 40, 1, model.StatusResolved)

	a := newAggregator(mem)
	report, err := a.Anomalies(context.Background(), Window{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	require.Len(t, report.ByReason, 2)
	assert.Equal(t, model.ReasonUnusualDataVolume, report.ByReason[0].Code)
	assert.Equal(t, 2, report.ByReason[0].Count)
	assert.InDelta(t, 70.0, report.ByReason[0].MeanRisk, 1e-9)

	assert.Equal(t, 1, report.ByStatus[model.StatusNew])
	assert.Equal(t, 1, report.ByStatus[model.StatusResolved])
	assert.Equal(t, 3, report.BySeverity[model.SeverityHigh])

	require.Len(t, report.Daily, 2)
	assert.Equal(t, 2, report.Daily[0].Events)
	assert.Equal(t, 1, report.Daily[1].Events)

	require.Len(t, report.TopSubjects, 2)
	assert.Equal(t, "46701111111", report.TopSubjects[0].SubscriberNumber)
	assert.Equal(t, 2, report.TopSubjects[0].Events)
	assert.InDelta(t, 70.0, report.TopSubjects[0].MeanRisk, 1e-9)
}

func TestAnomalyReportEmptyStore(t *testing.T) {
	a := newAggregator(storetest.New())
	report, err := a.Anomalies(context.Background(), Window{})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Total)
	assert.NotNil(t, report.BySeverity)
	assert.NotNil(t, report.ByStatus)
	assert.Empty(t, report.ByReason)
	assert.Empty(t, report.Daily)
	assert.Empty(t, report.TopSubjects)
}
