package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-intel/cdrscope/internal/classify"
	"github.com/lattice-intel/cdrscope/internal/model"
	"github.com/lattice-intel/cdrscope/internal/normalize"
	"github.com/lattice-intel/cdrscope/internal/store"
	"github.com/lattice-intel/cdrscope/internal/store/storetest"
)

// cleanRow returns a row that passes validation and trips no rules. The
// subscriber suffix keeps natural keys distinct across rows.
func cleanRow(i int) normalize.Row {
	return normalize.Row{
		"privateAddress":   "10.0.0.5",
		"privatePort":      "40000",
		"publicAddress":    "203.0.113.9",
		"publicPort":       "40001",
		"destAddress":      "198.51.100.30",
		"destPort":         "443",
		"subscriberNumber": fmt.Sprintf("46701%07d", i),
		"deviceId":         "490154203237518",
		"subscriberId":     "240011234567890",
		"startTime":        "2026-03-10T14:00:00Z",
		"endTime":          "2026-03-10T14:05:00Z",
		"cellId":           "SE-STO-0042",
		"latitude":         "59.3293",
		"longitude":        "18.0686",
		"uplinkBytes":      "1000",
		"downlinkBytes":    "2000",
		"accessType":       "4G",
	}
}

func newPipeline(st store.Store) *Pipeline {
	return New(st, classify.New(classify.DefaultThresholds()))
}

func TestRunCleanBatch(t *testing.T) {
	mem := storetest.New()
	p := newPipeline(mem)

	rows := []normalize.Row{cleanRow(1), cleanRow(2), cleanRow(3)}
	sum, err := p.Run(context.Background(), rows, Options{Actor: "analyst-7"})
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 3, sum.Created)
	assert.Empty(t, sum.Failures)
	assert.Len(t, sum.CreatedIDs, 3)

	recs := mem.Records()
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, "analyst-7", rec.CreatedBy)
		assert.False(t, rec.Suspicious)
		assert.False(t, rec.CreatedAt.IsZero())
	}
	assert.Empty(t, mem.Events())
}

func TestRunEmitsEventPerReason(t *testing.T) {
	mem := storetest.New()
	p := newPipeline(mem)

	// Night start, oversized transfer, and a sub-30s window: three reasons.
	row := cleanRow(1)
	row["startTime"] = "2026-03-10T23:00:00Z"
	row["endTime"] = "2026-03-10T23:00:10Z"
	row["downlinkBytes"] = "10485761"

	sum, err := p.Run(context.Background(), []normalize.Row{row}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Created)

	recs := mem.Records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Suspicious)
	assert.Len(t, recs[0].Reasons, 3)

	evs := mem.Events()
	require.Len(t, evs, 3)
	seen := map[model.ReasonCode]model.AnomalyEvent{}
	for _, ev := range evs {
		seen[ev.ReasonCode] = ev
		assert.Equal(t, recs[0].ID, ev.RecordID)
		assert.Equal(t, model.StatusNew, ev.Status)
		assert.Equal(t, recs[0].SubscriberNumber, ev.SubscriberNumber)
		assert.Equal(t, recs[0].StartTime, ev.FirstSeen)
		assert.Equal(t, recs[0].EndTime, ev.LastSeen)
		assert.InDelta(t, 0.8, ev.Confidence, 1e-9)
	}

	// Event severity follows the reason, not the record aggregate.
	night := seen[model.ReasonHighNightActivity]
	assert.Equal(t, model.SeverityMedium, night.Severity)
	assert.InDelta(t, 40.0, night.RiskScore, 1e-9)
	volume := seen[model.ReasonUnusualDataVolume]
	assert.Equal(t, model.SeverityHigh, volume.Severity)
	assert.InDelta(t, 60.0, volume.RiskScore, 1e-9)
}

func TestRunRowIsolation(t *testing.T) {
	mem := storetest.New()
	p := newPipeline(mem)

	bad := cleanRow(2)
	bad["destPort"] = "70000"
	rows := []normalize.Row{cleanRow(1), bad, cleanRow(3)}

	sum, err := p.Run(context.Background(), rows, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 2, sum.Created)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, 1, sum.Failures[0].RowIndex)
	assert.Equal(t, bad, sum.Failures[0].Raw)

	// The failure keeps only the message; the field name must survive in it.
	assert.Contains(t, sum.Failures[0].Error, "destPort")
	assert.Len(t, mem.Records(), 2)
}

func TestRunDuplicateNaturalKey(t *testing.T) {
	mem := storetest.New()
	p := newPipeline(mem)

	rows := []normalize.Row{cleanRow(1), cleanRow(1)}
	sum, err := p.Run(context.Background(), rows, Options{Concurrency: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Created)
	require.Len(t, sum.Failures, 1)
	assert.Contains(t, sum.Failures[0].Error, "duplicate")
	assert.Len(t, mem.Records(), 1)
}

func TestRunStoreUnavailableAbortsBatch(t *testing.T) {
	mem := storetest.New()
	mem.CreateRecordErr = func(*model.DetailRecord) error {
		return eris.Wrap(store.ErrUnavailable, "storetest: down")
	}
	p := newPipeline(mem)

	sum, err := p.Run(context.Background(), []normalize.Row{cleanRow(1), cleanRow(2)}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Nil(t, sum)
}

func TestRunContextCancelAbortsBatch(t *testing.T) {
	mem := storetest.New()
	p := newPipeline(mem)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := p.Run(ctx, []normalize.Row{cleanRow(1)}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, sum)
}

func TestRunEventWriteFailureIsNonFatal(t *testing.T) {
	mem := storetest.New()
	mem.CreateEventErr = func(*model.AnomalyEvent) error {
		return eris.New("storetest: event write refused")
	}
	p := newPipeline(mem)

	row := cleanRow(1)
	row["downlinkBytes"] = "10485761"

	sum, err := p.Run(context.Background(), []normalize.Row{row}, Options{})
	require.NoError(t, err)

	// The record survives even though its event was dropped.
	assert.Equal(t, 1, sum.Created)
	assert.Empty(t, sum.Failures)
	assert.Len(t, mem.Records(), 1)
	assert.Empty(t, mem.Events())
}

func TestRunFailuresKeyedByInputIndex(t *testing.T) {
	mem := storetest.New()
	p := newPipeline(mem)

	rows := make([]normalize.Row, 0, 8)
	for i := 0; i < 8; i++ {
		row := cleanRow(i)
		if i%3 == 0 {
			row["latitude"] = "95.0"
		}
		rows = append(rows, row)
	}

	sum, err := p.Run(context.Background(), rows, Options{Concurrency: 8})
	require.NoError(t, err)

	require.Len(t, sum.Failures, 3)
	idx := []int{sum.Failures[0].RowIndex, sum.Failures[1].RowIndex, sum.Failures[2].RowIndex}
	assert.Equal(t, []int{0, 3, 6}, idx)
	assert.Equal(t, 5, sum.Created)
}

func TestRunEmptyBatch(t *testing.T) {
	mem := storetest.New()
	p := newPipeline(mem)

	sum, err := p.Run(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, 0, sum.Created)
	assert.Empty(t, sum.Failures)
}

func TestRunCreatedAtIsSet(t *testing.T) {
	mem := storetest.New()
	p := newPipeline(mem)
	fixed := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	sum, err := p.Run(context.Background(), []normalize.Row{cleanRow(1)}, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Created)
	assert.Equal(t, fixed, mem.Records()[0].CreatedAt)
}
