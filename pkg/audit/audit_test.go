package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeInputHashKeyOrderIdempotence(t *testing.T) {
	h1, err := ComputeInputHash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := ComputeInputHash(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestComputeInputHashScenarioValues(t *testing.T) {
	alice1, err := ComputeInputHash(map[string]any{"name": "Alice", "age": 30})
	require.NoError(t, err)
	alice2, err := ComputeInputHash(map[string]any{"age": 30, "name": "Alice"})
	require.NoError(t, err)
	bob, err := ComputeInputHash(map[string]any{"name": "Bob", "age": 30})
	require.NoError(t, err)

	assert.Equal(t, alice1, alice2)
	assert.NotEqual(t, alice1, bob)
	assert.Len(t, alice1, 64)
	assert.Len(t, bob, 64)
}

func TestComputeInputHashNilArgs(t *testing.T) {
	h1, err := ComputeInputHash(nil)
	require.NoError(t, err)
	h2, err := ComputeInputHash(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestComputeInputHashProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("hash is insensitive to map construction order", prop.ForAll(
		func(keys []string, vals []int) bool {
			if len(keys) > len(vals) {
				keys = keys[:len(vals)]
			}
			forward := make(map[string]any, len(keys))
			for i, k := range keys {
				forward[k] = vals[i]
			}
			backward := make(map[string]any, len(keys))
			for i := len(keys) - 1; i >= 0; i-- {
				backward[keys[i]] = vals[i]
			}
			h1, err1 := ComputeInputHash(forward)
			h2, err2 := ComputeInputHash(backward)
			return err1 == nil && err2 == nil && h1 == h2 && len(h1) == 64
		},
		gen.SliceOf(gen.Identifier()),
		gen.SliceOfN(64, gen.Int()),
	))

	properties.TestingRun(t)
}

func TestOutcomeValid(t *testing.T) {
	for _, o := range []Outcome{OutcomeOK, OutcomeError, OutcomeApprovalRequired, OutcomePolicyDenied} {
		assert.True(t, o.Valid())
	}
	assert.False(t, Outcome("rejected").Valid())
}

func TestMemorySinkQueries(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()

	for i, runID := range []string{"r1", "r1", "r2"} {
		e := NewEvent("echo", "t1", runID, "hash", OutcomeOK, int64(i))
		require.NoError(t, s.Write(ctx, e))
	}

	byRun, err := s.QueryByRunID(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, byRun, 2)

	byTenant, err := s.QueryByTenantID(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, byTenant, 2)
	assert.Equal(t, "r2", byTenant[0].RunID)
}

func newTestSQLiteSink(t *testing.T) *SQLiteSink {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "rig_audit.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteSinkWriteAndQueryByRunID(t *testing.T) {
	s := newTestSQLiteSink(t)
	ctx := context.Background()

	e := NewEvent("stripe.customers.create", "t1", "r1", "deadbeef", OutcomeOK, 42)
	e.RedactedAuthMarker = "env:STRIPE_API_KEY"
	e.Pack = "rig-pack-stripe"
	e.PackVersion = "0.1.0"
	e.InterfaceHash = "abc123"
	e.PackSetVersion = "v1"
	e.ArgsSanitized = map[string]any{"email": "a@example.com"}
	require.NoError(t, s.Write(ctx, e))

	got, err := s.QueryByRunID(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "stripe.customers.create", got[0].Tool)
	assert.Equal(t, "t1", got[0].TenantID)
	assert.Equal(t, "deadbeef", got[0].InputHash)
	assert.Equal(t, OutcomeOK, got[0].Outcome)
	assert.Equal(t, int64(42), got[0].DurationMs)
	assert.Equal(t, "env:STRIPE_API_KEY", got[0].RedactedAuthMarker)
	assert.Equal(t, "rig-pack-stripe", got[0].Pack)
	assert.Equal(t, "v1", got[0].PackSetVersion)
	assert.Equal(t, "a@example.com", got[0].ArgsSanitized["email"])
}

func TestSQLiteSinkQueryByRunIDOrdersByWriteOrder(t *testing.T) {
	s := newTestSQLiteSink(t)
	ctx := context.Background()

	first := NewEvent("delete_database", "t1", "r1", "h1", OutcomeApprovalRequired, 1)
	second := NewEvent("delete_database", "t1", "r1", "h1", OutcomeOK, 2)
	require.NoError(t, s.Write(ctx, first))
	require.NoError(t, s.Write(ctx, second))

	got, err := s.QueryByRunID(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, OutcomeApprovalRequired, got[0].Outcome)
	assert.Equal(t, OutcomeOK, got[1].Outcome)
}

func TestSQLiteSinkQueryByTenantMostRecentFirst(t *testing.T) {
	s := newTestSQLiteSink(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := NewEvent("echo", "t1", "r1", "h", OutcomeOK, int64(i))
		require.NoError(t, s.Write(ctx, e))
	}
	require.NoError(t, s.Write(ctx, NewEvent("echo", "other", "r9", "h", OutcomeError, 9)))

	got, err := s.QueryByTenantID(ctx, "t1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(4), got[0].DurationMs)
	assert.Equal(t, int64(2), got[2].DurationMs)
}

func TestSQLiteSinkRejectsUnknownOutcome(t *testing.T) {
	s := newTestSQLiteSink(t)
	e := NewEvent("echo", "t1", "r1", "h", Outcome("exploded"), 0)
	err := s.Write(context.Background(), e)
	assert.Error(t, err)
}
