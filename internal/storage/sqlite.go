package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service TEXT NOT NULL,
	route TEXT NOT NULL,
	anomaly_score REAL NOT NULL,
	is_anomaly INTEGER NOT NULL,
	duration_ms REAL NOT NULL,
	trace_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	spans TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_service ON alerts(service);

CREATE TABLE IF NOT EXISTS metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service TEXT NOT NULL,
	metric_type TEXT NOT NULL,
	value REAL NOT NULL,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_service_type ON metrics(service, metric_type);

CREATE TABLE IF NOT EXISTS trace_inventory (
	trace_id TEXT PRIMARY KEY,
	duration_ms REAL NOT NULL,
	spans TEXT NOT NULL,
	ingest_timestamp DATETIME NOT NULL
);
`

// NewSQLiteStores opens (creating if absent) a SQLite database at path and
// returns a StoreSet backed by it.
func NewSQLiteStores(path string, config *SQLiteConfig) (StoreSet, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("migrate schema: %w", err)
	}

	return StoreSet{
		Alerts:  &sqliteAlertStore{db: db},
		Metrics: &sqliteMetricStore{db: db},
		Traces:  &sqliteTraceStore{db: db},
		closer:  db.Close,
	}, nil
}

type sqliteAlertStore struct {
	db *sql.DB
}

func (s *sqliteAlertStore) Create(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	spans, err := json.Marshal(alert.Spans)
	if err != nil {
		return fmt.Errorf("marshal alert spans: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (service, route, anomaly_score, is_anomaly, duration_ms, trace_id, timestamp, spans)
		 VALUES (?,?,?,?,?,?,?,?)`,
		alert.Service, alert.Route, alert.AnomalyScore, alert.IsAnomaly,
		alert.DurationMs, alert.TraceID, alert.Timestamp, spans,
	)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		alert.ID = id
	}
	return nil
}

func (s *sqliteAlertStore) List(ctx context.Context, service string) ([]*models.Alert, error) {
	query := `SELECT id, service, route, anomaly_score, is_anomaly, duration_ms, trace_id, timestamp, spans FROM alerts`
	args := []any{}
	if serviceFilterActive(service) {
		query += " WHERE service = ?"
		args = append(args, service)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, AlertListLimit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		var a models.Alert
		var spansBytes []byte
		if err := rows.Scan(&a.ID, &a.Service, &a.Route, &a.AnomalyScore, &a.IsAnomaly,
			&a.DurationMs, &a.TraceID, &a.Timestamp, &spansBytes); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if len(spansBytes) > 0 {
			if err := json.Unmarshal(spansBytes, &a.Spans); err != nil {
				return nil, fmt.Errorf("unmarshal alert spans: %w", err)
			}
		}
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

type sqliteMetricStore struct {
	db *sql.DB
}

func (s *sqliteMetricStore) Create(ctx context.Context, sample *models.MetricSample) error {
	if sample == nil {
		return fmt.Errorf("metric sample is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics (service, metric_type, value, timestamp) VALUES (?,?,?,?)`,
		sample.Service, string(sample.MetricType), sample.Value, sample.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("create metric: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		sample.ID = id
	}
	return nil
}

// List returns the most recent MetricListLimit samples for metricType,
// presented oldest-first so the newest sample is last.
func (s *sqliteMetricStore) List(ctx context.Context, service string, metricType models.MetricType) ([]*models.MetricSample, error) {
	query := `SELECT id, service, metric_type, value, timestamp FROM (
		SELECT id, service, metric_type, value, timestamp FROM metrics WHERE metric_type = ?`
	args := []any{string(metricType)}
	if serviceFilterActive(service) {
		query += " AND service = ?"
		args = append(args, service)
	}
	query += ` ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`
	args = append(args, MetricListLimit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	samples := []*models.MetricSample{}
	for rows.Next() {
		var m models.MetricSample
		var metricType string
		if err := rows.Scan(&m.ID, &m.Service, &metricType, &m.Value, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.MetricType = models.MetricType(metricType)
		samples = append(samples, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	return samples, nil
}

type sqliteTraceStore struct {
	db *sql.DB
}

func (s *sqliteTraceStore) Upsert(ctx context.Context, rec *models.TraceRecord) error {
	if rec == nil || rec.TraceID == "" {
		return fmt.Errorf("trace record is required")
	}
	spans, err := json.Marshal(rec.Spans)
	if err != nil {
		return fmt.Errorf("marshal trace spans: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trace_inventory (trace_id, duration_ms, spans, ingest_timestamp)
		 VALUES (?,?,?,?)
		 ON CONFLICT(trace_id) DO UPDATE SET duration_ms = excluded.duration_ms, spans = excluded.spans, ingest_timestamp = excluded.ingest_timestamp`,
		rec.TraceID, rec.DurationMs, spans, rec.IngestTime,
	)
	if err != nil {
		return fmt.Errorf("upsert trace: %w", err)
	}
	return nil
}

func (s *sqliteTraceStore) Get(ctx context.Context, traceID string) (*models.TraceRecord, error) {
	if traceID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT trace_id, duration_ms, spans, ingest_timestamp FROM trace_inventory WHERE trace_id = ?`, traceID)
	var rec models.TraceRecord
	var spansBytes []byte
	if err := row.Scan(&rec.TraceID, &rec.DurationMs, &spansBytes, &rec.IngestTime); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trace: %w", err)
	}
	if len(spansBytes) > 0 {
		if err := json.Unmarshal(spansBytes, &rec.Spans); err != nil {
			return nil, fmt.Errorf("unmarshal trace spans: %w", err)
		}
	}
	return &rec, nil
}
