// Package api exposes the HTTP surface: batch ingestion, record lookup, and
// the analytics and relationship queries.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lattice-intel/cdrscope/internal/analytics"
	"github.com/lattice-intel/cdrscope/internal/casefile"
	"github.com/lattice-intel/cdrscope/internal/config"
	"github.com/lattice-intel/cdrscope/internal/ingest"
	"github.com/lattice-intel/cdrscope/internal/model"
	"github.com/lattice-intel/cdrscope/internal/normalize"
	"github.com/lattice-intel/cdrscope/internal/relate"
	"github.com/lattice-intel/cdrscope/internal/source"
	"github.com/lattice-intel/cdrscope/internal/store"
)

// Server holds the wired application components behind the HTTP API.
type Server struct {
	store    store.Store
	pipeline *ingest.Pipeline
	agg      *analytics.Aggregator
	graphs   *relate.Builder
	cases    *casefile.Manager
	cfg      config.ServerConfig

	ingestLimiter *rate.Limiter
}

// NewServer wires the API over an opened store and pipeline.
func NewServer(st store.Store, pl *ingest.Pipeline, cfg config.ServerConfig) *Server {
	rps := cfg.IngestRateRPS
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.IngestBurst
	if burst <= 0 {
		burst = 4
	}
	return &Server{
		store:         st,
		pipeline:      pl,
		agg:           analytics.New(st),
		graphs:        relate.NewBuilder(st),
		cases:         casefile.New(st),
		cfg:           cfg,
		ingestLimiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.With(s.throttleIngest).Post("/records", s.handleIngest)
		r.Get("/records/{id}", s.handleGetRecord)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/trend", s.handleTrend)
		r.Get("/top", s.handleTop)
		r.Get("/relations/{subscriber}", s.handleRelations)
		r.Get("/anomalies", s.handleAnomalies)
		r.Post("/anomalies/{id}/status", s.handleEventStatus)
		r.Get("/geoclusters", s.handleGeoClusters)
		r.Post("/cases", s.handleOpenCase)
		r.Post("/cases/{id}/events/{eventID}", s.handleAttachEvent)
	})

	return r
}

// throttleIngest sheds ingestion bursts. Batch writes are the expensive
// path; queries stay unthrottled.
func (s *Server) throttleIngest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ingestLimiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "ingest rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ingestRequest struct {
	Actor string              `json:"actor"`
	Rows  []map[string]string `json:"rows"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if isSpreadsheet(r.Header.Get("Content-Type")) {
		s.handleIngestXLSX(w, r)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "rows is required")
		return
	}

	rows := make([]normalize.Row, len(req.Rows))
	for i, raw := range req.Rows {
		rows[i] = canonicalRow(raw)
	}
	s.runIngest(w, r, rows, req.Actor)
}

// handleIngestXLSX ingests a spreadsheet posted as the request body. Actor
// and sheet selection come from query parameters.
func (s *Server) handleIngestXLSX(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}
	rows, err := source.ReadXLSXBytes(data, source.XLSXOptions{
		SheetName: r.URL.Query().Get("sheet"),
		TrimSpace: true,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "parse spreadsheet: "+err.Error())
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusBadRequest, "spreadsheet has no data rows")
		return
	}
	s.runIngest(w, r, rows, r.URL.Query().Get("actor"))
}

func (s *Server) runIngest(w http.ResponseWriter, r *http.Request, rows []normalize.Row, actor string) {
	summary, err := s.pipeline.Run(r.Context(), rows, ingest.Options{Actor: actor})
	if err != nil {
		zap.L().Error("api: batch ingest failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "batch aborted: "+err.Error())
		return
	}

	status := http.StatusCreated
	if summary.Created == 0 && summary.Processed > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, summary)
}

func isSpreadsheet(contentType string) bool {
	return strings.Contains(contentType, "spreadsheetml") ||
		strings.Contains(contentType, "ms-excel")
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.agg.Dashboard(r.Context(), windowFromQuery(r), intQuery(r, "recent", 0))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	g, ok := analytics.ParseGranularity(r.URL.Query().Get("granularity"))
	if !ok {
		writeError(w, http.StatusBadRequest, "granularity must be hourly, daily, weekly, or monthly")
		return
	}
	points, err := s.agg.Trend(r.Context(), windowFromQuery(r), g)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	ranked, err := s.agg.TopCommunicators(r.Context(), windowFromQuery(r), intQuery(r, "limit", 0))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (s *Server) handleRelations(w http.ResponseWriter, r *http.Request) {
	w2 := windowFromQuery(r)
	graph, err := s.graphs.Build(r.Context(), chi.URLParam(r, "subscriber"), relate.Options{
		From:  w2.From,
		To:    w2.To,
		Depth: intQuery(r, "depth", 0),
		Limit: intQuery(r, "limit", 0),
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	report, err := s.agg.Anomalies(r.Context(), windowFromQuery(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleEventStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, ok := parseStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}
	if err := s.store.UpdateEventStatus(r.Context(), chi.URLParam(r, "id"), status); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) handleGeoClusters(w http.ResponseWriter, r *http.Request) {
	opts := analytics.GeoOptions{
		Window:     windowFromQuery(r),
		AccessType: model.AccessType(r.URL.Query().Get("access_type")),
	}
	if b, ok := boundsFromQuery(r); ok {
		opts.Bounds = b
	}
	clusters, err := s.agg.GeoClusters(r.Context(), opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clusters)
}

func (s *Server) handleOpenCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c, err := s.cases.Open(r.Context(), req.Title, req.Actor)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			writeStoreError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleAttachEvent(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")
	eventID := chi.URLParam(r, "eventID")
	if err := s.cases.Attach(r.Context(), eventID, caseID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"case_id": caseID, "event_id": eventID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		zap.L().Error("api: store error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// canonicalRow maps request keys through the header aliases, so API clients
// may post either canonical field names or source headers.
func canonicalRow(raw map[string]string) normalize.Row {
	row := make(normalize.Row, len(raw))
	for key, value := range raw {
		if canonical, ok := normalize.CanonicalKey(key); ok {
			row[canonical] = value
			continue
		}
		row[key] = value
	}
	return row
}

func parseStatus(s string) (model.AnomalyStatus, bool) {
	for _, status := range model.AnomalyStatuses {
		if string(status) == s {
			return status, true
		}
	}
	return "", false
}

// boundsFromQuery reads min_lng/min_lat/max_lng/max_lat. All four must be
// present and numeric for the bounds to apply.
func boundsFromQuery(r *http.Request) (*geom.Bounds, bool) {
	q := r.URL.Query()
	vals := make([]float64, 4)
	for i, key := range []string{"min_lng", "min_lat", "max_lng", "max_lat"} {
		f, err := strconv.ParseFloat(q.Get(key), 64)
		if err != nil {
			return nil, false
		}
		vals[i] = f
	}
	b := geom.NewBounds(geom.XY)
	b.SetCoords(geom.Coord{vals[0], vals[1]}, geom.Coord{vals[2], vals[3]})
	return b, true
}

func windowFromQuery(r *http.Request) analytics.Window {
	var w analytics.Window
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			w.From = t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			w.To = t
		}
	}
	return w
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
