package main

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/lattice-intel/cdrscope/internal/analytics"
)

var (
	queryFrom string
	queryTo   string
)

// queryWindow parses the shared --from/--to flags. Empty flags leave the
// aggregator's trailing default window in effect.
func queryWindow() (analytics.Window, error) {
	var w analytics.Window
	if queryFrom != "" {
		t, err := time.Parse(time.RFC3339, queryFrom)
		if err != nil {
			return w, eris.Wrapf(err, "parse --from %q", queryFrom)
		}
		w.From = t
	}
	if queryTo != "" {
		t, err := time.Parse(time.RFC3339, queryTo)
		if err != nil {
			return w, eris.Wrapf(err, "parse --to %q", queryTo)
		}
		w.To = t
	}
	return w, nil
}
