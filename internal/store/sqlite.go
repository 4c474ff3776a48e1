package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/lattice-intel/cdrscope/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	start_time        DATETIME NOT NULL,
	end_time          DATETIME NOT NULL,
	cell_id           TEXT NOT NULL,
	latitude          REAL NOT NULL,
	longitude         REAL NOT NULL,
	uplink_bytes      INTEGER NOT NULL,
	downlink_bytes    INTEGER NOT NULL,
	access_type       TEXT NOT NULL,
	duration_ms       INTEGER NOT NULL,
	total_bytes       INTEGER NOT NULL,
	suspicious        INTEGER NOT NULL DEFAULT 0,
	reasons           TEXT,
	severity          TEXT,
	confidence        REAL,
	risk_score        REAL,
	created_by        TEXT,
	created_at        DATETIME NOT NULL
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
	confidence        REAL NOT NULL,
	risk_score        REAL NOT NULL,
	subscriber_number TEXT NOT NULL,
	device_id         TEXT NOT NULL,
	subscriber_id     TEXT NOT NULL,
	first_seen        DATETIME NOT NULL,
	last_seen         DATETIME NOT NULL,
	status            TEXT NOT NULL DEFAULT 'NEW',
	record_id         TEXT NOT NULL REFERENCES detail_records(id),
	case_id           TEXT,
	created_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_reason ON anomaly_events(reason_code);
CREATE INDEX IF NOT EXISTS idx_events_status ON anomaly_events(status);
CREATE INDEX IF NOT EXISTS idx_events_subscriber ON anomaly_events(subscriber_number);
CREATE INDEX IF NOT EXISTS idx_events_first_seen ON anomaly_events(first_seen);

CREATE TABLE IF NOT EXISTS cases (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	open       INTEGER NOT NULL DEFAULT 1,
	created_by TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_open ON cases(open);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const recordColumns = `id, private_address, private_port, public_address, public_port,
	dest_address, dest_port, subscriber_number, device_id, subscriber_id,
	start_time, end_time, cell_id, latitude, longitude,
	uplink_bytes, downlink_bytes, access_type, duration_ms, total_bytes,
	suspicious, reasons, severity, confidence, risk_score, created_by, created_at`

func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *model.DetailRecord) error {
	reasonsJSON, err := json.Marshal(rec.Reasons)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal reasons")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO detail_records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PrivateAddress, rec.PrivatePort, rec.PublicAddress, rec.PublicPort,
		rec.DestAddress, rec.DestPort, rec.SubscriberNumber, rec.DeviceID, rec.SubscriberID,
		rec.StartTime.UTC(), rec.EndTime.UTC(), rec.CellID, rec.Latitude, rec.Longitude,
		rec.UplinkBytes, rec.DownlinkBytes, string(rec.AccessType), rec.DurationMs, rec.TotalBytes,
		rec.Suspicious, string(reasonsJSON), string(rec.Severity), rec.Confidence, rec.RiskScore,
		rec.CreatedBy, rec.CreatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return eris.Wrapf(ErrConflict, "sqlite: record %s", rec.ID)
		}
		return eris.Wrap(err, "sqlite: insert record")
	}
	return nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.DetailRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM detail_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: record %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get record")
	}
	return rec, nil
}

// recordWhere builds the WHERE clause and args for a RecordFilter using
// '?' placeholders.
func recordWhere(f RecordFilter) (string, []any) {
	clauses := []string{"1=1"}
	var args []any

	if f.SubscriberNumber != "" {
		clauses = append(clauses, "subscriber_number = ?")
		args = append(args, f.SubscriberNumber)
	}
	if f.DestAddress != "" {
		clauses = append(clauses, "dest_address = ?")
		args = append(args, f.DestAddress)
	}
	if f.CellID != "" {
		clauses = append(clauses, "cell_id = ?")
		args = append(args, f.CellID)
	}
	if f.AccessType != "" {
		clauses = append(clauses, "access_type = ?")
		args = append(args, string(f.AccessType))
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "start_time >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "start_time < ?")
		args = append(args, f.To.UTC())
	}
	if f.Suspicious != nil {
		clauses = append(clauses, "suspicious = ?")
		args = append(args, *f.Suspicious)
	}
	if f.Bounds != nil {
		clauses = append(clauses, "latitude BETWEEN ? AND ?", "longitude BETWEEN ? AND ?")
		args = append(args, f.Bounds.MinLat, f.Bounds.MaxLat, f.Bounds.MinLng, f.Bounds.MaxLng)
	}

	return strings.Join(clauses, " AND "), args
}

func (s *SQLiteStore) ListRecords(ctx context.Context, f RecordFilter) ([]model.DetailRecord, error) {
	where, args := recordWhere(f)

	query := `SELECT ` + recordColumns + ` FROM detail_records WHERE ` + where
	if f.NewestFirst {
		query += ` ORDER BY start_time DESC`
	} else {
		query += ` ORDER BY start_time ASC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var recs []model.DetailRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate records")
	}
	return recs, nil
}

func (s *SQLiteStore) CountRecords(ctx context.Context, f RecordFilter) (int, error) {
	where, args := recordWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM detail_records WHERE `+where, args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count records")
}

func (s *SQLiteStore) SumVolume(ctx context.Context, f RecordFilter) (int64, error) {
	where, args := recordWhere(f)
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_bytes), 0) FROM detail_records WHERE `+where, args...).Scan(&total)
	return total, eris.Wrap(err, "sqlite: sum volume")
}

func (s *SQLiteStore) DistinctSubscribers(ctx context.Context, f RecordFilter) (int, error) {
	where, args := recordWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT subscriber_number) FROM detail_records WHERE `+where, args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: distinct subscribers")
}

func (s *SQLiteStore) DistinctAddresses(ctx context.Context, f RecordFilter) (int, error) {
	where, args := recordWhere(f)
	// Union of the three endpoint roles.
	query := `SELECT COUNT(*) FROM (
		SELECT private_address AS addr FROM detail_records WHERE ` + where + `
		UNION SELECT public_address FROM detail_records WHERE ` + where + `
		UNION SELECT dest_address FROM detail_records WHERE ` + where + `
	)`
	all := append(append(append([]any{}, args...), args...), args...)
	var n int
	err := s.db.QueryRowContext(ctx, query, all...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: distinct addresses")
}

func (s *SQLiteStore) CountByAccessType(ctx context.Context, f RecordFilter) (map[model.AccessType]int, error) {
	where, args := recordWhere(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT access_type, COUNT(*) FROM detail_records WHERE `+where+` GROUP BY access_type`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by access type")
	}
	defer rows.Close()

	counts := make(map[model.AccessType]int)
	for rows.Next() {
		var at string
		var n int
		if err := rows.Scan(&at, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan access type count")
		}
		counts[model.AccessType(at)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate access type counts")
}

func (s *SQLiteStore) CounterpartNumbers(ctx context.Context, destAddress string, from, to time.Time, exclude string, limit int) ([]string, error) {
	query := `SELECT DISTINCT subscriber_number FROM detail_records
		WHERE dest_address = ? AND subscriber_number != ?`
	args := []any{destAddress, exclude}
	if !from.IsZero() {
		query += ` AND start_time >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND start_time < ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY subscriber_number LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: counterpart numbers")
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan counterpart number")
		}
		numbers = append(numbers, n)
	}
	return numbers, eris.Wrap(rows.Err(), "sqlite: iterate counterpart numbers")
}

const eventColumns = `id, reason_code, severity, confidence, risk_score,
	subscriber_number, device_id, subscriber_id, first_seen, last_seen,
	status, record_id, case_id, created_at`

func (s *SQLiteStore) CreateEvent(ctx context.Context, ev *model.AnomalyEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anomaly_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.ReasonCode), string(ev.Severity), ev.Confidence, ev.RiskScore,
		ev.SubscriberNumber, ev.DeviceID, ev.SubscriberID, ev.FirstSeen.UTC(), ev.LastSeen.UTC(),
		string(ev.Status), ev.RecordID, nullIfEmpty(ev.CaseID), ev.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert event")
}

// eventWhere builds the WHERE clause and args for an EventFilter.
func eventWhere(f EventFilter) (string, []any) {
	clauses := []string{"1=1"}
	var args []any

	if f.ReasonCode != "" {
		clauses = append(clauses, "reason_code = ?")
		args = append(args, string(f.ReasonCode))
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ExcludeStatus != "" {
		clauses = append(clauses, "status != ?")
		args = append(args, string(f.ExcludeStatus))
	}
	if f.SubscriberNumber != "" {
		clauses = append(clauses, "subscriber_number = ?")
		args = append(args, f.SubscriberNumber)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "first_seen >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "first_seen < ?")
		args = append(args, f.To.UTC())
	}

	return strings.Join(clauses, " AND "), args
}

func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]model.AnomalyEvent, error) {
	where, args := eventWhere(f)
	query := `SELECT ` + eventColumns + ` FROM anomaly_events WHERE ` + where + ` ORDER BY first_seen ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var events []model.AnomalyEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		events = append(events, *ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: iterate events")
}

func (s *SQLiteStore) CountEvents(ctx context.Context, f EventFilter) (int, error) {
	where, args := eventWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM anomaly_events WHERE `+where, args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count events")
}

func (s *SQLiteStore) UpdateEventStatus(ctx context.Context, id string, status model.AnomalyStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE anomaly_events SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update event status %s", id)
	}
	return checkRowsAffected(res, "event", id)
}

func (s *SQLiteStore) AttachEventToCase(ctx context.Context, eventID, caseID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE anomaly_events SET case_id = ? WHERE id = ?`, caseID, eventID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: attach event %s to case", eventID)
	}
	return checkRowsAffected(res, "event", eventID)
}

func (s *SQLiteStore) CreateCase(ctx context.Context, c *model.Case) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cases (id, title, open, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Open, c.CreatedBy, c.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert case")
}

func (s *SQLiteStore) CountOpenCases(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases WHERE open = 1`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count open cases")
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.DetailRecord, error) {
	var rec model.DetailRecord
	var accessType, severity string
	var reasonsJSON, createdBy sql.NullString

	err := row.Scan(
		&rec.ID, &rec.PrivateAddress, &rec.PrivatePort, &rec.PublicAddress, &rec.PublicPort,
		&rec.DestAddress, &rec.DestPort, &rec.SubscriberNumber, &rec.DeviceID, &rec.SubscriberID,
		&rec.StartTime, &rec.EndTime, &rec.CellID, &rec.Latitude, &rec.Longitude,
		&rec.UplinkBytes, &rec.DownlinkBytes, &accessType, &rec.DurationMs, &rec.TotalBytes,
		&rec.Suspicious, &reasonsJSON, &severity, &rec.Confidence, &rec.RiskScore,
		&createdBy, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.AccessType = model.AccessType(accessType)
	rec.Severity = model.Severity(severity)
	rec.CreatedBy = createdBy.String
	if reasonsJSON.Valid && reasonsJSON.String != "" && reasonsJSON.String != "null" {
		if err := json.Unmarshal([]byte(reasonsJSON.String), &rec.Reasons); err != nil {
			return nil, eris.Wrap(err, "unmarshal reasons")
		}
	}
	rec.Location = model.Point{Lng: rec.Longitude, Lat: rec.Latitude}
	return &rec, nil
}

func scanEvent(row rowScanner) (*model.AnomalyEvent, error) {
	var ev model.AnomalyEvent
	var reason, severity, status string
	var caseID sql.NullString

	err := row.Scan(
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
	ev.CaseID = caseID.String
	return &ev, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", kind, id)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unmarshalReasons(raw string, dst *[]model.ReasonCode) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return eris.Wrap(err, "unmarshal reasons")
	}
	return nil
}
