package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresSink persists events to Postgres for multi-process deployments.
// Same append-only shape and query contract as SQLiteSink.
type PostgresSink struct {
	db *sql.DB
}

// OpenPostgres connects with a standard lib/pq DSN.
func OpenPostgres(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open postgres: %w", err)
	}
	return NewPostgresSink(db)
}

// NewPostgresSink wraps an existing database handle and runs migrations.
func NewPostgresSink(db *sql.DB) (*PostgresSink, error) {
	s := &PostgresSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_events (
        id BIGSERIAL PRIMARY KEY,
        timestamp TIMESTAMPTZ NOT NULL,
        tenant_id TEXT NOT NULL,
        run_id TEXT NOT NULL,
        tool TEXT NOT NULL,
        input_hash TEXT NOT NULL,
        outcome TEXT NOT NULL,
        duration_ms BIGINT NOT NULL,
        redacted_auth_marker TEXT,
        ts_unix DOUBLE PRECISION,
        error_type TEXT,
        pack TEXT,
        pack_version TEXT,
        interface_hash TEXT,
        pack_set_version TEXT,
        args_json JSONB
    );
    CREATE INDEX IF NOT EXISTS idx_audit_run_id ON audit_events(run_id);
    CREATE INDEX IF NOT EXISTS idx_audit_tenant_id ON audit_events(tenant_id, timestamp DESC);
    CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_events(tool);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, event Event) error {
	if !event.Outcome.Valid() {
		return fmt.Errorf("audit: unwritable outcome %q", event.Outcome)
	}

	var argsJSON sql.NullString
	if event.ArgsSanitized != nil {
		b, err := json.Marshal(event.ArgsSanitized)
		if err != nil {
			return fmt.Errorf("audit: marshal args: %w", err)
		}
		argsJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `INSERT INTO audit_events (
        timestamp, tenant_id, run_id, tool, input_hash, outcome, duration_ms,
        redacted_auth_marker, ts_unix, error_type, pack, pack_version,
        interface_hash, pack_set_version, args_json
    ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := s.db.ExecContext(ctx, query,
		event.Timestamp.UTC(),
		event.TenantID,
		event.RunID,
		event.Tool,
		event.InputHash,
		string(event.Outcome),
		event.DurationMs,
		nullable(event.RedactedAuthMarker),
		event.TSUnix,
		nullable(event.ErrorType),
		nullable(event.Pack),
		nullable(event.PackVersion),
		nullable(event.InterfaceHash),
		nullable(event.PackSetVersion),
		argsJSON,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

func (s *PostgresSink) QueryByRunID(ctx context.Context, runID string) ([]Event, error) {
	query := pgSelectColumns + ` FROM audit_events WHERE run_id = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: query by run_id: %w", err)
	}
	return scanPGEvents(rows)
}

func (s *PostgresSink) QueryByTenantID(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	query := pgSelectColumns + ` FROM audit_events WHERE tenant_id = $1 ORDER BY id DESC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query by tenant_id: %w", err)
	}
	return scanPGEvents(rows)
}

// Close closes the underlying database handle.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

const pgSelectColumns = `SELECT timestamp, tenant_id, run_id, tool, input_hash, outcome, duration_ms,
    redacted_auth_marker, ts_unix, error_type, pack, pack_version, interface_hash, pack_set_version, args_json`

func scanPGEvents(rows *sql.Rows) ([]Event, error) {
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e          Event
			ts         time.Time
			marker     sql.NullString
			errType    sql.NullString
			pack       sql.NullString
			packVer    sql.NullString
			iface      sql.NullString
			packSetVer sql.NullString
			argsJSON   sql.NullString
		)
		if err := rows.Scan(&ts, &e.TenantID, &e.RunID, &e.Tool, &e.InputHash, &e.Outcome, &e.DurationMs,
			&marker, &e.TSUnix, &errType, &pack, &packVer, &iface, &packSetVer, &argsJSON); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Timestamp = ts.UTC()
		e.RedactedAuthMarker = marker.String
		e.ErrorType = errType.String
		e.Pack = pack.String
		e.PackVersion = packVer.String
		e.InterfaceHash = iface.String
		e.PackSetVersion = packSetVer.String
		if argsJSON.Valid {
			if err := json.Unmarshal([]byte(argsJSON.String), &e.ArgsSanitized); err != nil {
				return nil, fmt.Errorf("audit: decode args_json: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
