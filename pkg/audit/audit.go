// Package audit implements the append-only call event stream with
// deterministic input fingerprints, queryable by run and tenant.
package audit

import (
	"context"
	"time"

	"github.com/rigproject/rig/pkg/canonical"
)

// Outcome is the closed set of terminal call outcomes.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeError            Outcome = "error"
	OutcomeApprovalRequired Outcome = "approval_required"
	OutcomePolicyDenied     Outcome = "policy_denied"
)

// Valid reports whether the outcome is writable.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeOK, OutcomeError, OutcomeApprovalRequired, OutcomePolicyDenied:
		return true
	}
	return false
}

// Event is one immutable audit record. Exactly one is written per
// terminal call transition. RedactedAuthMarker carries a slot name only,
// never a secret value.
type Event struct {
	Timestamp          time.Time      `json:"timestamp"`
	TSUnix             float64        `json:"ts_unix"`
	TenantID           string         `json:"tenant_id"`
	RunID              string         `json:"run_id"`
	Tool               string         `json:"tool"`
	InputHash          string         `json:"input_hash"`
	Outcome            Outcome        `json:"outcome"`
	DurationMs         int64          `json:"duration_ms"`
	RedactedAuthMarker string         `json:"redacted_auth_marker,omitempty"`
	ErrorType          string         `json:"error_type,omitempty"`
	Pack               string         `json:"pack,omitempty"`
	PackVersion        string         `json:"pack_version,omitempty"`
	InterfaceHash      string         `json:"interface_hash,omitempty"`
	PackSetVersion     string         `json:"pack_set_version,omitempty"`
	ArgsSanitized      map[string]any `json:"args_sanitized,omitempty"`
}

// Sink persists audit events. Write must be durable before it returns.
type Sink interface {
	Write(ctx context.Context, event Event) error
	// QueryByRunID returns events for one correlation id in timestamp order.
	QueryByRunID(ctx context.Context, runID string) ([]Event, error)
	// QueryByTenantID returns the most recent events first, bounded by limit.
	QueryByTenantID(ctx context.Context, tenantID string, limit int) ([]Event, error)
}

// ComputeInputHash fingerprints call arguments: SHA-256 of the canonical
// JSON encoding with keys sorted at every object level. Equal inputs yield
// equal hashes regardless of key insertion order.
func ComputeInputHash(args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	return canonical.Hash(args)
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(tool, tenantID, runID, inputHash string, outcome Outcome, durationMs int64) Event {
	now := time.Now().UTC()
	return Event{
		Timestamp:  now,
		TSUnix:     float64(now.UnixNano()) / 1e9,
		TenantID:   tenantID,
		RunID:      runID,
		Tool:       tool,
		InputHash:  inputHash,
		Outcome:    outcome,
		DurationMs: durationMs,
	}
}
