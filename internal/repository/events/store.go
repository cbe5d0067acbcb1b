package events

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opas200/zonewatch/internal/metric"
)

//go:embed schema.sql
var schemaSQL string

// Store provides durable storage for gateway events.
// Uses SQLite with WAL mode; all writes go through a single connection so
// concurrent callers never race the database lock.
type Store struct {
	db      *sql.DB
	metrics *metric.Metrics

	// writer state, see writer.go. mu serializes Start/Stop transitions;
	// the hot Enqueue path only reads the atomic running flag.
	mu      sync.Mutex
	jobs    chan job
	stopCh  chan struct{}
	doneCh  chan struct{}
	running atomic.Bool

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// Open creates or opens the SQLite database at the given path and applies
// pragmas and the schema. Safe to call on an existing database.
func Open(path string, metrics *metric.Metrics) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY between the writer goroutine and read queries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:      db,
		metrics: metrics,
		jobs:    make(chan job, queueCapacity),
		now:     time.Now,
	}, nil
}

// Close closes the database connection. Stop the writer first.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	return s.db.Close()
}

// applyPragmas sets the required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}

// normalize derives the canonical epoch and display string for a record
// timestamp, substituting the current time when none was supplied.
func (s *Store) normalize(at time.Time) (int64, string) {
	if at.IsZero() {
		at = s.now()
	}

	epoch := at.Unix()

	return epoch, time.Unix(epoch, 0).Format(tsLayout)
}

// Insert writes one record synchronously.
// Most callers should use Enqueue; Insert is the degraded path used when the
// writer is not running and the writer's own drain step.
func (s *Store) Insert(rec Record) error {
	switch r := rec.(type) {
	case DeltaRecord:
		return s.insertDelta(r)
	case LogRecord:
		return s.insertLog(r)
	default:
		return fmt.Errorf("unknown record type %T", rec)
	}
}

// insertDelta writes a positive occupancy increment row.
func (s *Store) insertDelta(r DeltaRecord) error {
	// Only positive deltas feed the aggregation table.
	if r.Delta <= 0 {
		return nil
	}

	epoch, ts := s.normalize(r.At)

	payload, err := json.Marshal(map[string]any{
		"camera_key": r.Device,
		"area_id":    r.Zone,
		"delta":      r.Delta,
		"count":      r.Count,
		"ts":         ts,
		"ts_epoch":   epoch,
	})
	if err != nil {
		payload = []byte("{}")
	}

	_, err = s.db.Exec(
		`INSERT INTO people_delta_events (ts, ts_epoch, camera_key, area_id, delta, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ts, epoch, r.Device, r.Zone, r.Delta, string(payload),
	)
	if err != nil {
		s.metrics.StoreErrors.Inc()
		return fmt.Errorf("insert delta: %w", err)
	}

	s.metrics.RecordsPersisted.WithLabelValues("people_delta_events").Inc()

	return nil
}

// insertLog writes a generic event row.
func (s *Store) insertLog(r LogRecord) error {
	epoch, ts := s.normalize(r.At)

	body := map[string]any{
		"camera_key": r.Device,
		"event_type": r.EventType,
		"message":    r.Message,
		"ts":         ts,
		"ts_epoch":   epoch,
	}
	if r.Zone != nil {
		body["area_id"] = *r.Zone
	}
	for k, v := range r.Payload {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		payload = []byte("{}")
	}

	var zone any
	if r.Zone != nil {
		zone = *r.Zone
	}

	_, err = s.db.Exec(
		`INSERT INTO event_logs (ts, ts_epoch, camera_key, event_type, area_id, message, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts, epoch, r.Device, r.EventType, zone, r.Message, string(payload),
	)
	if err != nil {
		s.metrics.StoreErrors.Inc()
		return fmt.Errorf("insert log: %w", err)
	}

	s.metrics.RecordsPersisted.WithLabelValues("event_logs").Inc()

	return nil
}

// Purge deletes rows older than retentionDays from both tables in one
// transaction and returns the number of deleted rows. The cutoff is strict:
// a row exactly at the boundary is retained.
func (s *Store) Purge(retentionDays int) (int64, error) {
	cutoff := s.now().Unix() - int64(retentionDays)*86400

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}

	var deleted int64

	for _, table := range []string{"people_delta_events", "event_logs"} {
		res, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE ts_epoch < ?", table), cutoff)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("purge %s: %w", table, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("purge %s rows: %w", table, err)
		}

		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}

	s.metrics.PurgedRows.Add(float64(deleted))

	return deleted, nil
}

// SumDeltaByZone aggregates positive deltas per zone for one device.
// A nil window means all history; otherwise only rows newer than the rolling
// window are summed.
func (s *Store) SumDeltaByZone(ctx context.Context, device string, window *time.Duration) (map[int]int64, error) {
	sums, _, err := s.SumDeltaByZoneWithRows(ctx, device, window)

	return sums, err
}

// SumDeltaByZoneWithRows is SumDeltaByZone plus the number of rows scanned,
// for stats debugging.
func (s *Store) SumDeltaByZoneWithRows(
	ctx context.Context,
	device string,
	window *time.Duration,
) (map[int]int64, int64, error) {
	query := `SELECT area_id, SUM(delta), COUNT(*) FROM people_delta_events WHERE camera_key = ?`
	args := []any{device}

	if window != nil {
		query += " AND ts_epoch >= ?"
		args = append(args, s.now().Add(-*window).Unix())
	}

	query += " GROUP BY area_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query delta sums: %w", err)
	}
	defer rows.Close()

	var (
		sums    = make(map[int]int64)
		scanned int64
	)

	for rows.Next() {
		var (
			zone  int
			total sql.NullInt64
			count int64
		)

		if err := rows.Scan(&zone, &total, &count); err != nil {
			return nil, 0, fmt.Errorf("scan delta sum: %w", err)
		}

		sums[zone] = total.Int64
		scanned += count
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate delta sums: %w", err)
	}

	return sums, scanned, nil
}

// RecentLogs returns the newest generic log rows, most recent first.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]StoredLog, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, ts_epoch, camera_key, event_type, area_id, message, payload_json
		 FROM event_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent logs: %w", err)
	}
	defer rows.Close()

	logs := make([]StoredLog, 0, limit)

	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, err
		}

		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent logs: %w", err)
	}

	return logs, nil
}

// LastLifecycleEvent returns the most recent APP_START/APP_STOP record,
// or nil when none exists yet.
func (s *Store) LastLifecycleEvent(ctx context.Context) (*StoredLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, ts_epoch, camera_key, event_type, area_id, message, payload_json
		 FROM event_logs WHERE event_type IN (?, ?) ORDER BY ts_epoch DESC, id DESC LIMIT 1`,
		EventTypeAppStart, EventTypeAppStop)
	if err != nil {
		return nil, fmt.Errorf("query lifecycle event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	entry, err := scanLog(rows)
	if err != nil {
		return nil, err
	}

	return &entry, rows.Err()
}

// scanLog reads one event_logs row.
func scanLog(rows *sql.Rows) (StoredLog, error) {
	var (
		entry StoredLog
		zone  sql.NullInt64
	)

	if err := rows.Scan(
		&entry.ID, &entry.TS, &entry.TSEpoch, &entry.Device,
		&entry.EventType, &zone, &entry.Message, &entry.Payload,
	); err != nil {
		return StoredLog{}, fmt.Errorf("scan log row: %w", err)
	}

	if zone.Valid {
		z := int(zone.Int64)
		entry.Zone = &z
	}

	return entry, nil
}
