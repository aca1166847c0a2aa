package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSinkWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s, err := NewPostgresSink(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(sqlmock.AnyArg(), "t1", "r1", "echo", "hash", "ok", int64(7),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	e := NewEvent("echo", "t1", "r1", "hash", OutcomeOK, 7)
	require.NoError(t, s.Write(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkQueryByRunID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewPostgresSink(db)
	require.NoError(t, err)

	cols := []string{"timestamp", "tenant_id", "run_id", "tool", "input_hash", "outcome", "duration_ms",
		"redacted_auth_marker", "ts_unix", "error_type", "pack", "pack_version", "interface_hash", "pack_set_version", "args_json"}
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM audit_events WHERE run_id").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(now, "t1", "r1", "echo", "hash", "ok", int64(7),
				nil, 0.0, nil, "rig-pack-echo", "0.1.0", "iface", "v1", `{"message":"hi"}`))

	got, err := s.QueryByRunID(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "echo", got[0].Tool)
	assert.Equal(t, OutcomeOK, got[0].Outcome)
	assert.Equal(t, "hi", got[0].ArgsSanitized["message"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkRejectsUnknownOutcome(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewPostgresSink(db)
	require.NoError(t, err)

	err = s.Write(context.Background(), NewEvent("echo", "t1", "r1", "h", Outcome("nope"), 0))
	assert.Error(t, err)
}
