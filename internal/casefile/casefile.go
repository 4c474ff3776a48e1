// Package casefile is the thin collaborator between anomaly events and the
// external case workflow. Cases themselves live outside the core; this
// package only opens the local association, links events to it, and reports
// how many associations are still open.
package casefile

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lattice-intel/cdrscope/internal/model"
	"github.com/lattice-intel/cdrscope/internal/store"
)

// Manager drives case associations against the store.
type Manager struct {
	store store.Store
	now   func() time.Time
}

func New(st store.Store) *Manager {
	return &Manager{store: st, now: time.Now}
}

// Open creates a new open case. Title is required; actor is provenance only.
func (m *Manager) Open(ctx context.Context, title, actor string) (*model.Case, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, eris.New("casefile: title is required")
	}
	c := &model.Case{
		ID:        uuid.NewString(),
		Title:     title,
		Open:      true,
		CreatedBy: actor,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.CreateCase(ctx, c); err != nil {
		return nil, eris.Wrap(err, "casefile: create case")
	}
	zap.L().Info("casefile: opened case", zap.String("case_id", c.ID), zap.String("title", c.Title))
	return c, nil
}

// Attach links an anomaly event to a case. Status transitions stay with the
// workflow; attaching changes only the linkage.
func (m *Manager) Attach(ctx context.Context, eventID, caseID string) error {
	if eventID == "" || caseID == "" {
		return eris.New("casefile: event id and case id are required")
	}
	if err := m.store.AttachEventToCase(ctx, eventID, caseID); err != nil {
		return eris.Wrapf(err, "casefile: attach event %s to case %s", eventID, caseID)
	}
	return nil
}

// ActiveCount reports how many cases are still open.
func (m *Manager) ActiveCount(ctx context.Context) (int, error) {
	n, err := m.store.CountOpenCases(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "casefile: count open cases")
	}
	return n, nil
}
