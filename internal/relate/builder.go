// Package relate computes on-demand relationship graphs: for a subject
// subscriber number, the counterpart addresses it contacted, how often and
// how heavily, and which other subscribers touched the same counterparts.
package relate

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lattice-intel/cdrscope/internal/model"
	"github.com/lattice-intel/cdrscope/internal/store"
)

const (
	// MaxDepth bounds transitive expansion. Each level fans out through
	// B-parties, so the cost grows fast; three hops is the analysis limit.
	MaxDepth = 3

	defaultEdgeLimit   = 50
	defaultBPartyLimit = 5
)

// Options scope a graph build.
type Options struct {
	// From/To bound the contact window. Zero values leave the side open.
	From time.Time
	To   time.Time
	// Depth is the number of expansion hops, 1..MaxDepth. Zero means 1;
	// values above MaxDepth are clamped.
	Depth int
	// Limit caps edges kept per subject, strongest first. Zero means 50.
	Limit int
	// BPartyLimit caps B-parties listed per edge. Zero means 5.
	BPartyLimit int
}

func (o Options) normalized() Options {
	if o.Depth <= 0 {
		o.Depth = 1
	}
	if o.Depth > MaxDepth {
		o.Depth = MaxDepth
	}
	if o.Limit <= 0 {
		o.Limit = defaultEdgeLimit
	}
	if o.BPartyLimit <= 0 {
		o.BPartyLimit = defaultBPartyLimit
	}
	return o
}

// Graph is the result of one build: every edge discovered from the root
// subject out to the requested depth.
type Graph struct {
	Subject string                   `json:"subject"`
	Depth   int                      `json:"depth"`
	Edges   []model.RelationshipEdge `json:"edges"`
}

// Builder computes relationship graphs from stored records.
type Builder struct {
	store store.Store
}

// NewBuilder creates a graph builder over the given store.
func NewBuilder(st store.Store) *Builder {
	return &Builder{store: st}
}

// Build walks outward from subject breadth-first. Depth 1 is the subject's
// own contacts; deeper levels expand through each edge's B-parties. A
// subscriber is visited at most once, at its shallowest depth.
func (b *Builder) Build(ctx context.Context, subject string, opts Options) (*Graph, error) {
	opts = opts.normalized()

	graph := &Graph{Subject: subject, Depth: opts.Depth}
	visited := map[string]bool{subject: true}

	type frontier struct {
		subject string
		depth   int
	}
	queue := []frontier{{subject: subject, depth: 1}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		edges, err := b.subjectEdges(ctx, cur.subject, cur.depth, opts)
		if err != nil {
			return nil, err
		}
		graph.Edges = append(graph.Edges, edges...)

		if cur.depth >= opts.Depth {
			continue
		}
		for _, edge := range edges {
			for _, party := range edge.BParties {
				if visited[party] {
					continue
				}
				visited[party] = true
				queue = append(queue, frontier{subject: party, depth: cur.depth + 1})
			}
		}
	}

	return graph, nil
}

// subjectEdges aggregates one subject's records into per-counterpart edges,
// strongest first.
func (b *Builder) subjectEdges(ctx context.Context, subject string, depth int, opts Options) ([]model.RelationshipEdge, error) {
	recs, err := b.store.ListRecords(ctx, store.RecordFilter{
		SubscriberNumber: subject,
		From:             opts.From,
		To:               opts.To,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "relate: list records for %s", subject)
	}

	byCounterpart := make(map[string]*model.RelationshipEdge)
	for _, rec := range recs {
		edge, ok := byCounterpart[rec.DestAddress]
		if !ok {
			edge = &model.RelationshipEdge{
				Subject:      subject,
				Counterpart:  rec.DestAddress,
				Depth:        depth,
				FirstContact: rec.StartTime,
				LastContact:  rec.StartTime,
			}
			byCounterpart[rec.DestAddress] = edge
		}

		edge.Frequency++
		edge.TotalDuration += rec.DurationMs
		edge.TotalVolume += rec.TotalBytes
		if rec.StartTime.Before(edge.FirstContact) {
			edge.FirstContact = rec.StartTime
		}
		if rec.StartTime.After(edge.LastContact) {
			edge.LastContact = rec.StartTime
		}
		if rec.Suspicious {
			edge.SuspiciousObserved = true
		}
	}

	edges := make([]model.RelationshipEdge, 0, len(byCounterpart))
	for _, edge := range byCounterpart {
		edge.StrengthTier = model.TierForFrequency(edge.Frequency)
		parties, err := b.store.CounterpartNumbers(ctx, edge.Counterpart, opts.From, opts.To, subject, opts.BPartyLimit)
		if err != nil {
			return nil, eris.Wrapf(err, "relate: b-parties for %s", edge.Counterpart)
		}
		edge.BParties = parties
		edges = append(edges, *edge)
	}

	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Frequency != edges[j].Frequency {
			return edges[i].Frequency > edges[j].Frequency
		}
		return edges[i].LastContact.After(edges[j].LastContact)
	})
	if len(edges) > opts.Limit {
		edges = edges[:opts.Limit]
	}
	return edges, nil
}
