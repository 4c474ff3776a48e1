package analytics

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/lattice-intel/cdrscope/internal/model"
	"github.com/lattice-intel/cdrscope/internal/store"
)

// maxGeoRecords caps the number of records one clustering query will scan.
const maxGeoRecords = 5000

// GeoOptions scope a clustering query. Bounds uses (x, y) = (lng, lat).
type GeoOptions struct {
	Window     Window
	Bounds     *geom.Bounds
	AccessType model.AccessType
}

// GeoCluster is the activity observed at one cell site. Center is the mean
// of the cluster's record coordinates, which can drift from the cell's
// nominal position when reported fixes vary.
type GeoCluster struct {
	CellID     string                   `json:"cell_id"`
	Center     model.Point              `json:"center"`
	Records    int                      `json:"records"`
	Suspicious int                      `json:"suspicious"`
	ByAccess   map[model.AccessType]int `json:"by_access_type"`
}

// GeoClusters groups windowed records by cell site, busiest first.
func (a *Aggregator) GeoClusters(ctx context.Context, opts GeoOptions) ([]GeoCluster, error) {
	w := opts.Window.resolve(a.now())

	filter := w.recordFilter()
	filter.AccessType = opts.AccessType
	filter.Limit = maxGeoRecords
	if opts.Bounds != nil {
		filter.Bounds = &store.Rect{
			MinLng: opts.Bounds.Min(0),
			MinLat: opts.Bounds.Min(1),
			MaxLng: opts.Bounds.Max(0),
			MaxLat: opts.Bounds.Max(1),
		}
	}

	recs, err := a.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: list records for clustering")
	}

	type accum struct {
		cluster GeoCluster
		sumLat  float64
		sumLng  float64
	}
	byCell := make(map[string]*accum)
	for _, rec := range recs {
		acc, ok := byCell[rec.CellID]
		if !ok {
			acc = &accum{cluster: GeoCluster{
				CellID:   rec.CellID,
				ByAccess: make(map[model.AccessType]int),
			}}
			byCell[rec.CellID] = acc
		}
		acc.cluster.Records++
		if rec.Suspicious {
			acc.cluster.Suspicious++
		}
		acc.cluster.ByAccess[rec.AccessType]++
		acc.sumLat += rec.Latitude
		acc.sumLng += rec.Longitude
	}

	clusters := make([]GeoCluster, 0, len(byCell))
	for _, acc := range byCell {
		n := float64(acc.cluster.Records)
		acc.cluster.Center = model.Point{Lat: acc.sumLat / n, Lng: acc.sumLng / n}
		clusters = append(clusters, acc.cluster)
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Records != clusters[j].Records {
			return clusters[i].Records > clusters[j].Records
		}
		return clusters[i].CellID < clusters[j].CellID
	})
	return clusters, nil
}
