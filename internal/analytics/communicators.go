package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

const defaultTopLimit = 10

// Communicator is one subscriber's activity ranking. RiskScore weights a
// suspicious session as worth a thousand clean ones: ten points per
// suspicious session against a hundredth of a point per session overall, so
// any flagged subscriber outranks any volume of clean traffic.
type Communicator struct {
	SubscriberNumber     string    `json:"subscriber_number"`
	Sessions             int       `json:"sessions"`
	SuspiciousSessions   int       `json:"suspicious_sessions"`
	VolumeBytes          int64     `json:"volume_bytes"`
	DistinctCounterparts int       `json:"distinct_counterparts"`
	FirstSeen            time.Time `json:"first_seen"`
	LastSeen             time.Time `json:"last_seen"`
	RiskScore            float64   `json:"risk_score"`
}

// TopCommunicators ranks subscribers by risk score, then sessions. limit
// zero means the default of 10.
func (a *Aggregator) TopCommunicators(ctx context.Context, w Window, limit int) ([]Communicator, error) {
	w = w.resolve(a.now())
	if limit <= 0 {
		limit = defaultTopLimit
	}

	recs, err := a.store.ListRecords(ctx, w.recordFilter())
	if err != nil {
		return nil, eris.Wrap(err, "analytics: list records for ranking")
	}

	bySubscriber := make(map[string]*Communicator)
	counterparts := make(map[string]map[string]struct{})
	for _, rec := range recs {
		c, ok := bySubscriber[rec.SubscriberNumber]
		if !ok {
			c = &Communicator{SubscriberNumber: rec.SubscriberNumber}
			bySubscriber[rec.SubscriberNumber] = c
			counterparts[rec.SubscriberNumber] = make(map[string]struct{})
		}
		c.Sessions++
		if rec.Suspicious {
			c.SuspiciousSessions++
		}
		c.VolumeBytes += rec.TotalBytes
		counterparts[rec.SubscriberNumber][rec.DestAddress] = struct{}{}
		if c.FirstSeen.IsZero() || rec.StartTime.Before(c.FirstSeen) {
			c.FirstSeen = rec.StartTime
		}
		if rec.StartTime.After(c.LastSeen) {
			c.LastSeen = rec.StartTime
		}
	}

	ranked := make([]Communicator, 0, len(bySubscriber))
	for _, c := range bySubscriber {
		c.DistinctCounterparts = len(counterparts[c.SubscriberNumber])
		c.RiskScore = float64(c.SuspiciousSessions)*10 + float64(c.Sessions)/100
		ranked = append(ranked, *c)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].RiskScore != ranked[j].RiskScore {
			return ranked[i].RiskScore > ranked[j].RiskScore
		}
		if ranked[i].Sessions != ranked[j].Sessions {
			return ranked[i].Sessions > ranked[j].Sessions
		}
		return ranked[i].SubscriberNumber < ranked[j].SubscriberNumber
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}
