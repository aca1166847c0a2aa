package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink is the default durable sink: a single append-only table with
// secondary indexes on run_id, tenant_id, tool and timestamp. Writes are
// synchronous inserts; the table is never updated or deleted from.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) an audit database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	// modernc sqlite serializes at the driver level; one connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	return NewSQLiteSink(db)
}

// NewSQLiteSink wraps an existing database handle and runs migrations.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_events (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp TEXT NOT NULL,
        tenant_id TEXT NOT NULL,
        run_id TEXT NOT NULL,
        tool TEXT NOT NULL,
        input_hash TEXT NOT NULL,
        outcome TEXT NOT NULL,
        duration_ms INTEGER NOT NULL,
        redacted_auth_marker TEXT,
        ts_unix REAL,
        error_type TEXT,
        pack TEXT,
        pack_version TEXT,
        interface_hash TEXT,
        pack_set_version TEXT,
        args_json TEXT
    );`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_run_id ON audit_events(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_tenant_id ON audit_events(tenant_id, timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_events(tool)",
		"CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp)",
	} {
		if _, err := s.db.ExecContext(context.Background(), idx); err != nil {
			return fmt.Errorf("audit: migrate index: %w", err)
		}
	}
	return nil
}

func (s *SQLiteSink) Write(ctx context.Context, event Event) error {
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
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
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

func (s *SQLiteSink) QueryByRunID(ctx context.Context, runID string) ([]Event, error) {
	query := selectColumns + ` FROM audit_events WHERE run_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: query by run_id: %w", err)
	}
	return scanEvents(rows)
}

func (s *SQLiteSink) QueryByTenantID(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	query := selectColumns + ` FROM audit_events WHERE tenant_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query by tenant_id: %w", err)
	}
	return scanEvents(rows)
}

// Close closes the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT timestamp, tenant_id, run_id, tool, input_hash, outcome, duration_ms,
    redacted_auth_marker, ts_unix, error_type, pack, pack_version, interface_hash, pack_set_version, args_json`

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanEvents(rows rowScanner) ([]Event, error) {
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e          Event
			ts         string
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
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("audit: parse timestamp %q: %w", ts, err)
		}
		e.Timestamp = parsed
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

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
