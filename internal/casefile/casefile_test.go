package casefile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-intel/cdrscope/internal/model"
	"github.com/lattice-intel/cdrscope/internal/store"
	"github.com/lattice-intel/cdrscope/internal/store/storetest"
)

func TestOpenCreatesOpenCase(t *testing.T) {
	mem := storetest.New()
	mgr := New(mem)
	mgr.now = func() time.Time { return time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC) }

	c, err := mgr.Open(context.Background(), "  burst ring around 46701000001  ", "analyst-7")
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "burst ring around 46701000001", c.Title)
	assert.True(t, c.Open)
	assert.Equal(t, "analyst-7", c.CreatedBy)
	assert.Equal(t, time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC), c.CreatedAt)

	cases := mem.Cases()
	require.Len(t, cases, 1)
	assert.Equal(t, c.ID, cases[0].ID)
}

func TestOpenRequiresTitle(t *testing.T) {
	mgr := New(storetest.New())

	_, err := mgr.Open(context.Background(), "   ", "analyst-7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title is required")
}

func TestAttachLinksEvent(t *testing.T) {
	mem := storetest.New()
	mem.SeedEvents(model.AnomalyEvent{ID: "ev-1", Status: model.StatusNew})
	mgr := New(mem)

	c, err := mgr.Open(context.Background(), "night activity review", "analyst-7")
	require.NoError(t, err)

	require.NoError(t, mgr.Attach(context.Background(), "ev-1", c.ID))

	events := mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, c.ID, events[0].CaseID)
	assert.Equal(t, model.StatusNew, events[0].Status, "attaching must not change workflow status")
}

func TestAttachUnknownEvent(t *testing.T) {
	mgr := New(storetest.New())

	err := mgr.Attach(context.Background(), "missing", "case-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestAttachRequiresIDs(t *testing.T) {
	mgr := New(storetest.New())

	assert.Error(t, mgr.Attach(context.Background(), "", "case-1"))
	assert.Error(t, mgr.Attach(context.Background(), "ev-1", ""))
}

func TestActiveCount(t *testing.T) {
	mem := storetest.New()
	mgr := New(mem)

	n, err := mgr.ActiveCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = mgr.Open(context.Background(), "first", "analyst-7")
	require.NoError(t, err)
	_, err = mgr.Open(context.Background(), "second", "analyst-7")
	require.NoError(t, err)

	n, err = mgr.ActiveCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
