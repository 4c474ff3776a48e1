// Package ingest runs the batch pipeline: normalize each raw row, classify
// it, persist the record, and emit one anomaly event per triggered reason.
//
// Rows are isolated: a bad row is reported in the summary and never blocks
// its siblings. Only systemic failures (store unavailable, context
// cancellation) abort the batch.
package ingest

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-intel/cdrscope/internal/classify"
	"github.com/lattice-intel/cdrscope/internal/model"
	"github.com/lattice-intel/cdrscope/internal/normalize"
	"github.com/lattice-intel/cdrscope/internal/store"
)

const defaultConcurrency = 4

// RowFailure describes one rejected row, keyed by its position in the input
// batch. Raw carries the offending row verbatim for operator triage.
type RowFailure struct {
	RowIndex int           `json:"row_index"`
	Error    string        `json:"error"`
	Raw      normalize.Row `json:"raw"`
}

// Summary is the outcome of one batch run.
type Summary struct {
	Processed  int          `json:"processed"`
	Created    int          `json:"created"`
	Failures   []RowFailure `json:"failures,omitempty"`
	CreatedIDs []string     `json:"created_ids,omitempty"`
}

// Options tune a single batch run.
type Options struct {
	// Actor is recorded as CreatedBy on every persisted record.
	Actor string
	// Concurrency bounds parallel row processing. Zero means the default.
	Concurrency int
}

// Pipeline wires the normalizer, classifier, and store together.
type Pipeline struct {
	store  store.Store
	engine *classify.Engine
	now    func() time.Time
}

// New creates a pipeline over the given store and rule engine.
func New(st store.Store, engine *classify.Engine) *Pipeline {
	return &Pipeline{store: st, engine: engine, now: time.Now}
}

type rowOutcome struct {
	id      string
	failure *RowFailure
}

// Run processes the batch and returns a summary. The returned error is
// non-nil only for systemic failures; per-row problems land in
// Summary.Failures. Rows run concurrently but the summary is keyed and
// ordered by original row index.
func (p *Pipeline) Run(ctx context.Context, rows []normalize.Row, opts Options) (*Summary, error) {
	workers := opts.Concurrency
	if workers <= 0 {
		workers = defaultConcurrency
	}

	outcomes := make([]rowOutcome, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := p.processRow(gctx, i, row, opts.Actor)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "ingest: batch aborted")
	}

	summary := &Summary{Processed: len(rows)}
	for _, out := range outcomes {
		if out.failure != nil {
			summary.Failures = append(summary.Failures, *out.failure)
			continue
		}
		summary.Created++
		summary.CreatedIDs = append(summary.CreatedIDs, out.id)
	}
	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].RowIndex < summary.Failures[j].RowIndex
	})
	return summary, nil
}

// processRow handles one row end to end. A returned error aborts the whole
// batch; recoverable problems come back as a rowOutcome failure.
func (p *Pipeline) processRow(ctx context.Context, index int, row normalize.Row, actor string) (rowOutcome, error) {
	fail := func(err error) rowOutcome {
		return rowOutcome{failure: &RowFailure{
			RowIndex: index,
			Error:    err.Error(),
			Raw:      row,
		}}
	}

	rec, err := normalize.Record(row)
	if err != nil {
		return fail(err), nil
	}

	p.engine.Apply(rec)

	rec.ID = uuid.NewString()
	rec.CreatedBy = actor
	rec.CreatedAt = p.now().UTC()

	if err := p.store.CreateRecord(ctx, rec); err != nil {
		if fatal(ctx, err) {
			return rowOutcome{}, err
		}
		if errors.Is(err, store.ErrConflict) {
			return fail(eris.Wrapf(err, "ingest: duplicate record for %s at %s",
				rec.SubscriberNumber, rec.StartTime.Format(time.RFC3339))), nil
		}
		return fail(err), nil
	}

	// The record is committed; event emission failures are logged but do
	// not retract the row.
	for _, code := range rec.Reasons {
		ev := p.event(rec, code)
		if err := p.store.CreateEvent(ctx, ev); err != nil {
			if fatal(ctx, err) {
				return rowOutcome{}, err
			}
			zap.L().Warn("ingest: dropping anomaly event",
				zap.String("record_id", rec.ID),
				zap.String("reason", string(code)),
				zap.Error(err))
		}
	}

	return rowOutcome{id: rec.ID}, nil
}

// event builds the anomaly event for one triggered reason. Event severity is
// the reason's own catalog severity, not the record's aggregate.
func (p *Pipeline) event(rec *model.DetailRecord, code model.ReasonCode) *model.AnomalyEvent {
	severity := model.SeverityMedium
	if meta, ok := model.ReasonInfo(code); ok {
		severity = meta.Severity
	}
	return &model.AnomalyEvent{
		ID:         uuid.NewString(),
		ReasonCode: code,
		Severity:   severity,
		Confidence: rec.Confidence,
		RiskScore:  model.RiskScore(severity, rec.Confidence),

		SubscriberNumber: rec.SubscriberNumber,
		DeviceID:         rec.DeviceID,
		SubscriberID:     rec.SubscriberID,

		FirstSeen: rec.StartTime,
		LastSeen:  rec.EndTime,
		Status:    model.StatusNew,

		RecordID:  rec.ID,
		CreatedAt: p.now().UTC(),
	}
}

// fatal reports whether err is systemic rather than row-scoped.
func fatal(ctx context.Context, err error) bool {
	if errors.Is(err, store.ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx.Err() != nil
}
