package analytics

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"

	"github.com/lattice-intel/cdrscope/internal/model"
	"github.com/lattice-intel/cdrscope/internal/store"
)

const defaultRecentLimit = 10

// Dashboard is the operator landing view for one window. An empty store
// yields a zero-valued dashboard, not an error.
type Dashboard struct {
	Window Window `json:"window"`

	TotalRecords      int    `json:"total_records"`
	SuspiciousRecords int    `json:"suspicious_records"`
	TotalVolumeBytes  int64  `json:"total_volume_bytes"`
	TotalVolume       string `json:"total_volume"`

	DistinctSubscribers int                      `json:"distinct_subscribers"`
	DistinctAddresses   int                      `json:"distinct_addresses"`
	ByAccessType        map[model.AccessType]int `json:"by_access_type"`

	OpenAnomalies int `json:"open_anomalies"`
	OpenCases     int `json:"open_cases"`

	Recent []model.DetailRecord `json:"recent,omitempty"`
}

// Dashboard builds the landing view. recentLimit caps the recent-record
// list; zero means the default.
func (a *Aggregator) Dashboard(ctx context.Context, w Window, recentLimit int) (*Dashboard, error) {
	w = w.resolve(a.now())
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}

	d := &Dashboard{Window: w}
	filter := w.recordFilter()

	var err error
	if d.TotalRecords, err = a.store.CountRecords(ctx, filter); err != nil {
		return nil, eris.Wrap(err, "analytics: count records")
	}

	suspicious := true
	sf := filter
	sf.Suspicious = &suspicious
	if d.SuspiciousRecords, err = a.store.CountRecords(ctx, sf); err != nil {
		return nil, eris.Wrap(err, "analytics: count suspicious records")
	}

	if d.TotalVolumeBytes, err = a.store.SumVolume(ctx, filter); err != nil {
		return nil, eris.Wrap(err, "analytics: sum volume")
	}
	d.TotalVolume = humanize.Bytes(uint64(d.TotalVolumeBytes))

	if d.DistinctSubscribers, err = a.store.DistinctSubscribers(ctx, filter); err != nil {
		return nil, eris.Wrap(err, "analytics: distinct subscribers")
	}
	if d.DistinctAddresses, err = a.store.DistinctAddresses(ctx, filter); err != nil {
		return nil, eris.Wrap(err, "analytics: distinct addresses")
	}
	if d.ByAccessType, err = a.store.CountByAccessType(ctx, filter); err != nil {
		return nil, eris.Wrap(err, "analytics: count by access type")
	}

	// An anomaly is open until the workflow resolves it; FALSE_POSITIVE and
	// investigation states still need operator attention.
	if d.OpenAnomalies, err = a.store.CountEvents(ctx, store.EventFilter{
		ExcludeStatus: model.StatusResolved,
		From:          w.From,
		To:            w.To,
	}); err != nil {
		return nil, eris.Wrap(err, "analytics: count open anomalies")
	}
	if d.OpenCases, err = a.store.CountOpenCases(ctx); err != nil {
		return nil, eris.Wrap(err, "analytics: count open cases")
	}

	rf := filter
	rf.NewestFirst = true
	rf.Limit = recentLimit
	if d.Recent, err = a.store.ListRecords(ctx, rf); err != nil {
		return nil, eris.Wrap(err, "analytics: list recent records")
	}

	return d, nil
}
