package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/lattice-intel/cdrscope/internal/db"
	"github.com/lattice-intel/cdrscope/internal/model"
	"github.com/lattice-intel/cdrscope/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	// Failovers surface here as refused connections; ping through the
	// retry policy before declaring the backend down.
	if err := resilience.Do(ctx, resilience.DefaultPolicy(), pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(ErrUnavailable, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS detail_records (
	id                TEXT PRIMARY KEY,
	private_address   TEXT NOT NULL,
	private_port      INTEGER NOT NULL,
	public_address    TEXT NOT NULL,
	public_port       INTEGER NOT NULL,
	dest_address      TEXT NOT NULL,
	dest_port         INTEGER NOT NULL,
	subscriber_number TEXT NOT NULL,
	device_id         TEXT NOT NULL,
	subscriber_id     TEXT NOT NULL,
	start_time        TIMESTAMPTZ NOT NULL,
	end_time          TIMESTAMPTZ NOT NULL,
	cell_id           TEXT NOT NULL,
	latitude          DOUBLE PRECISION NOT NULL,
	longitude         DOUBLE PRECISION NOT NULL,
	uplink_bytes      BIGINT NOT NULL,
	downlink_bytes    BIGINT NOT NULL,
	access_type       TEXT NOT NULL,
	duration_ms       BIGINT NOT NULL,
	total_bytes       BIGINT NOT NULL,
	suspicious        BOOLEAN NOT NULL DEFAULT false,
	reasons           JSONB,
	severity          TEXT,
	confidence        DOUBLE PRECISION,
	risk_score        DOUBLE PRECISION,
	created_by        TEXT,
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_natural_key
	ON detail_records(subscriber_number, start_time, dest_address, dest_port);
CREATE INDEX IF NOT EXISTS idx_records_subscriber ON detail_records(subscriber_number);
CREATE INDEX IF NOT EXISTS idx_records_start_time ON detail_records(start_time);
CREATE INDEX IF NOT EXISTS idx_records_dest ON detail_records(dest_address);
CREATE INDEX IF NOT EXISTS idx_records_cell ON detail_records(cell_id);
CREATE INDEX IF NOT EXISTS idx_records_suspicious ON detail_records(suspicious);
CREATE INDEX IF NOT EXISTS idx_records_geo ON detail_records(latitude, longitude);

CREATE TABLE IF NOT EXISTS anomaly_events (
	id                TEXT PRIMARY KEY,
	reason_code       TEXT NOT NULL,
	severity          TEXT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	risk_score        DOUBLE PRECISION NOT NULL,
	subscriber_number TEXT NOT NULL,
	device_id         TEXT NOT NULL,
	subscriber_id     TEXT NOT NULL,
	first_seen        TIMESTAMPTZ NOT NULL,
	last_seen         TIMESTAMPTZ NOT NULL,
	status            TEXT NOT NULL DEFAULT 'NEW',
	record_id         TEXT NOT NULL REFERENCES detail_records(id),
	case_id           TEXT,
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_reason ON anomaly_events(reason_code);
CREATE INDEX IF NOT EXISTS idx_events_status ON anomaly_events(status);
CREATE INDEX IF NOT EXISTS idx_events_subscriber ON anomaly_events(subscriber_number);
CREATE INDEX IF NOT EXISTS idx_events_first_seen ON anomaly_events(first_seen);

CREATE TABLE IF NOT EXISTS cases (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	open       BOOLEAN NOT NULL DEFAULT true,
	created_by TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_open ON cases(open);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(pgErr(err), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

// pgErr maps driver-level errors onto the store sentinels.
func pgErr(err error) error {
	if err == nil {
		return nil
	}
	var pge *pgconn.PgError
	if errors.As(err, &pge) && pge.Code == "23505" {
		return ErrConflict
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return ErrUnavailable
	}
	return err
}

// where builds a numbered-placeholder WHERE clause from clause templates
// containing %d markers.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(column, op string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf("%s %s $%d", column, op, len(w.args)))
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return "TRUE"
	}
	return strings.Join(w.clauses, " AND ")
}

func pgRecordWhere(f RecordFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.SubscriberNumber != "" {
		w.add("subscriber_number", "=", f.SubscriberNumber)
	}
	if f.DestAddress != "" {
		w.add("dest_address", "=", f.DestAddress)
	}
	if f.CellID != "" {
		w.add("cell_id", "=", f.CellID)
	}
	if f.AccessType != "" {
		w.add("access_type", "=", string(f.AccessType))
	}
	if !f.From.IsZero() {
		w.add("start_time", ">=", f.From.UTC())
	}
	if !f.To.IsZero() {
		w.add("start_time", "<", f.To.UTC())
	}
	if f.Suspicious != nil {
		w.add("suspicious", "=", *f.Suspicious)
	}
	if f.Bounds != nil {
		w.add("latitude", ">=", f.Bounds.MinLat)
		w.add("latitude", "<=", f.Bounds.MaxLat)
		w.add("longitude", ">=", f.Bounds.MinLng)
		w.add("longitude", "<=", f.Bounds.MaxLng)
	}
	return w
}

func pgEventWhere(f EventFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.ReasonCode != "" {
		w.add("reason_code", "=", string(f.ReasonCode))
	}
	if f.Status != "" {
		w.add("status", "=", string(f.Status))
	}
	if f.ExcludeStatus != "" {
		w.add("status", "!=", string(f.ExcludeStatus))
	}
	if f.SubscriberNumber != "" {
		w.add("subscriber_number", "=", f.SubscriberNumber)
	}
	if !f.From.IsZero() {
		w.add("first_seen", ">=", f.From.UTC())
	}
	if !f.To.IsZero() {
		w.add("first_seen", "<", f.To.UTC())
	}
	return w
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec *model.DetailRecord) error {
	reasonsJSON, err := json.Marshal(rec.Reasons)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal reasons")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO detail_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		         $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`,
		rec.ID, rec.PrivateAddress, rec.PrivatePort, rec.PublicAddress, rec.PublicPort,
		rec.DestAddress, rec.DestPort, rec.SubscriberNumber, rec.DeviceID, rec.SubscriberID,
		rec.StartTime.UTC(), rec.EndTime.UTC(), rec.CellID, rec.Latitude, rec.Longitude,
		rec.UplinkBytes, rec.DownlinkBytes, string(rec.AccessType), rec.DurationMs, rec.TotalBytes,
		rec.Suspicious, string(reasonsJSON), string(rec.Severity), rec.Confidence, rec.RiskScore,
		rec.CreatedBy, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(pgErr(err), "postgres: insert record %s", rec.ID)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.DetailRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM detail_records WHERE id = $1`, id)
	if err != nil {
		return nil, eris.Wrap(pgErr(err), "postgres: get record")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(pgErr(err), "postgres: get record")
		}
		return nil, eris.Wrapf(ErrNotFound, "postgres: record %s", id)
	}
	rec, err := scanPgRecord(rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan record")
	}
	return rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, f RecordFilter) ([]model.DetailRecord, error) {
	w := pgRecordWhere(f)
	query := `SELECT ` + recordColumns + ` FROM detail_records WHERE ` + w.sql()
	if f.NewestFirst {
		query += ` ORDER BY start_time DESC`
	} else {
		query += ` ORDER BY start_time ASC`
	}
	if f.Limit > 0 {
		w.args = append(w.args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(w.args))
	}
	if f.Offset > 0 {
		w.args = append(w.args, f.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(w.args))
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(pgErr(err), "postgres: list records")
	}
	defer rows.Close()

	var recs []model.DetailRecord
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(pgErr(rows.Err()), "postgres: iterate records")
}

func (s *PostgresStore) CountRecords(ctx context.Context, f RecordFilter) (int, error) {
	w := pgRecordWhere(f)
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM detail_records WHERE `+w.sql(), w.args...).Scan(&n)
	return n, eris.Wrap(pgErr(err), "postgres: count records")
}

func (s *PostgresStore) SumVolume(ctx context.Context, f RecordFilter) (int64, error) {
	w := pgRecordWhere(f)
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_bytes), 0) FROM detail_records WHERE `+w.sql(), w.args...).Scan(&total)
	return total, eris.Wrap(pgErr(err), "postgres: sum volume")
}

func (s *PostgresStore) DistinctSubscribers(ctx context.Context, f RecordFilter) (int, error) {
	w := pgRecordWhere(f)
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT subscriber_number) FROM detail_records WHERE `+w.sql(), w.args...).Scan(&n)
	return n, eris.Wrap(pgErr(err), "postgres: distinct subscribers")
}

func (s *PostgresStore) DistinctAddresses(ctx context.Context, f RecordFilter) (int, error) {
	w := pgRecordWhere(f)
	where := w.sql()
	query := `SELECT COUNT(*) FROM (
		SELECT private_address AS addr FROM detail_records WHERE ` + where + `
		UNION SELECT public_address FROM detail_records WHERE ` + where + `
		UNION SELECT dest_address FROM detail_records WHERE ` + where + `
	) addrs`
	var n int
	err := s.pool.QueryRow(ctx, query, w.args...).Scan(&n)
	return n, eris.Wrap(pgErr(err), "postgres: distinct addresses")
}

func (s *PostgresStore) CountByAccessType(ctx context.Context, f RecordFilter) (map[model.AccessType]int, error) {
	w := pgRecordWhere(f)
	rows, err := s.pool.Query(ctx,
		`SELECT access_type, COUNT(*) FROM detail_records WHERE `+w.sql()+` GROUP BY access_type`, w.args...)
	if err != nil {
		return nil, eris.Wrap(pgErr(err), "postgres: count by access type")
	}
	defer rows.Close()

	counts := make(map[model.AccessType]int)
	for rows.Next() {
		var at string
		var n int
		if err := rows.Scan(&at, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan access type count")
		}
		counts[model.AccessType(at)] = n
	}
	return counts, eris.Wrap(pgErr(rows.Err()), "postgres: iterate access type counts")
}

func (s *PostgresStore) CounterpartNumbers(ctx context.Context, destAddress string, from, to time.Time, exclude string, limit int) ([]string, error) {
	w := &whereBuilder{}
	w.add("dest_address", "=", destAddress)
	w.add("subscriber_number", "!=", exclude)
	if !from.IsZero() {
		w.add("start_time", ">=", from.UTC())
	}
	if !to.IsZero() {
		w.add("start_time", "<", to.UTC())
	}
	w.args = append(w.args, limit)
	query := `SELECT DISTINCT subscriber_number FROM detail_records WHERE ` + w.sql() +
		fmt.Sprintf(` ORDER BY subscriber_number LIMIT $%d`, len(w.args))

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(pgErr(err), "postgres: counterpart numbers")
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan counterpart number")
		}
		numbers = append(numbers, n)
	}
	return numbers, eris.Wrap(pgErr(rows.Err()), "postgres: iterate counterpart numbers")
}

func (s *PostgresStore) CreateEvent(ctx context.Context, ev *model.AnomalyEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO anomaly_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ev.ID, string(ev.ReasonCode), string(ev.Severity), ev.Confidence, ev.RiskScore,
		ev.SubscriberNumber, ev.DeviceID, ev.SubscriberID, ev.FirstSeen.UTC(), ev.LastSeen.UTC(),
		string(ev.Status), ev.RecordID, nullIfEmpty(ev.CaseID), ev.CreatedAt.UTC(),
	)
	return eris.Wrap(pgErr(err), "postgres: insert event")
}

func (s *PostgresStore) ListEvents(ctx context.Context, f EventFilter) ([]model.AnomalyEvent, error) {
	w := pgEventWhere(f)
	query := `SELECT ` + eventColumns + ` FROM anomaly_events WHERE ` + w.sql() + ` ORDER BY first_seen ASC`
	if f.Limit > 0 {
		w.args = append(w.args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(w.args))
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(pgErr(err), "postgres: list events")
	}
	defer rows.Close()

	var events []model.AnomalyEvent
	for rows.Next() {
		ev, err := scanPgEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		events = append(events, *ev)
	}
	return events, eris.Wrap(pgErr(rows.Err()), "postgres: iterate events")
}

func (s *PostgresStore) CountEvents(ctx context.Context, f EventFilter) (int, error) {
	w := pgEventWhere(f)
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM anomaly_events WHERE `+w.sql(), w.args...).Scan(&n)
	return n, eris.Wrap(pgErr(err), "postgres: count events")
}

func (s *PostgresStore) UpdateEventStatus(ctx context.Context, id string, status model.AnomalyStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE anomaly_events SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return eris.Wrapf(pgErr(err), "postgres: update event status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: event %s", id)
	}
	return nil
}

func (s *PostgresStore) AttachEventToCase(ctx context.Context, eventID, caseID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE anomaly_events SET case_id = $1 WHERE id = $2`, caseID, eventID)
	if err != nil {
		return eris.Wrapf(pgErr(err), "postgres: attach event %s to case", eventID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: event %s", eventID)
	}
	return nil
}

func (s *PostgresStore) CreateCase(ctx context.Context, c *model.Case) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cases (id, title, open, created_by, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Title, c.Open, c.CreatedBy, c.CreatedAt.UTC(),
	)
	return eris.Wrap(pgErr(err), "postgres: insert case")
}

func (s *PostgresStore) CountOpenCases(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cases WHERE open`).Scan(&n)
	return n, eris.Wrap(pgErr(err), "postgres: count open cases")
}

func scanPgRecord(rows pgx.Rows) (*model.DetailRecord, error) {
	var rec model.DetailRecord
	var accessType, severity string
	var createdBy, reasons *string

	err := rows.Scan(
		&rec.ID, &rec.PrivateAddress, &rec.PrivatePort, &rec.PublicAddress, &rec.PublicPort,
		&rec.DestAddress, &rec.DestPort, &rec.SubscriberNumber, &rec.DeviceID, &rec.SubscriberID,
		&rec.StartTime, &rec.EndTime, &rec.CellID, &rec.Latitude, &rec.Longitude,
		&rec.UplinkBytes, &rec.DownlinkBytes, &accessType, &rec.DurationMs, &rec.TotalBytes,
		&rec.Suspicious, &reasons, &severity, &rec.Confidence, &rec.RiskScore,
		&createdBy, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.AccessType = model.AccessType(accessType)
	rec.Severity = model.Severity(severity)
	if createdBy != nil {
		rec.CreatedBy = *createdBy
	}
	if reasons != nil && *reasons != "" && *reasons != "null" {
		if err := unmarshalReasons(*reasons, &rec.Reasons); err != nil {
			return nil, err
		}
	}
	rec.Location = model.Point{Lng: rec.Longitude, Lat: rec.Latitude}
	return &rec, nil
}

func scanPgEvent(rows pgx.Rows) (*model.AnomalyEvent, error) {
	var ev model.AnomalyEvent
	var reason, severity, status string
	var caseID *string

	err := rows.Scan(
		&ev.ID, &reason, &severity, &ev.Confidence, &ev.RiskScore,
		&ev.SubscriberNumber, &ev.DeviceID, &ev.SubscriberID, &ev.FirstSeen, &ev.LastSeen,
		&status, &ev.RecordID, &caseID, &ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.ReasonCode = model.ReasonCode(reason)
	ev.Severity = model.Severity(severity)
	ev.Status = model.AnomalyStatus(status)
	if caseID != nil {
		ev.CaseID = *caseID
	}
	return &ev, nil
}
