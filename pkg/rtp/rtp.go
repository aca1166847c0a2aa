// Package rtp defines the Runtime Tool Protocol: the data model shared by
// the registry, the runtime pipeline, and the gateway wire format.
package rtp

import (
	"encoding/json"
	"fmt"
)

// RiskClass labels a tool's blast radius and drives approval gating.
type RiskClass string

const (
	RiskRead        RiskClass = "read"
	RiskWrite       RiskClass = "write"
	RiskInfra       RiskClass = "infra"
	RiskMoney       RiskClass = "money"
	RiskDestructive RiskClass = "destructive"
)

// Valid reports whether the risk class is a member of the closed set.
func (r RiskClass) Valid() bool {
	switch r {
	case RiskRead, RiskWrite, RiskInfra, RiskMoney, RiskDestructive:
		return true
	}
	return false
}

// ErrorType is the closed error taxonomy shared by runtime and adapters.
type ErrorType string

const (
	ErrTypeValidation       ErrorType = "validation_error"
	ErrTypeAuth             ErrorType = "auth_error"
	ErrTypePermission       ErrorType = "permission_error"
	ErrTypeNotFound         ErrorType = "not_found"
	ErrTypeConflict         ErrorType = "conflict"
	ErrTypeRateLimited      ErrorType = "rate_limited"
	ErrTypeTransient        ErrorType = "transient"
	ErrTypeTimeout          ErrorType = "timeout"
	ErrTypeUpstream         ErrorType = "upstream_error"
	ErrTypePolicyBlocked    ErrorType = "policy_blocked"
	ErrTypeApprovalRequired ErrorType = "approval_required"
	ErrTypeInternal         ErrorType = "internal_error"
)

// ToolDef is an immutable, content-addressable tool definition.
// Definitions are never mutated after registration.
type ToolDef struct {
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	InputSchema    json.RawMessage  `json:"input_schema"`
	OutputSchema   json.RawMessage  `json:"output_schema"`
	ErrorSchema    json.RawMessage  `json:"error_schema"`
	AuthSlots      []string         `json:"auth_slots"`
	RiskClass      RiskClass        `json:"risk_class"`
	Tags           []string         `json:"tags"`
	PolicyDefaults map[string]any   `json:"policy_defaults,omitempty"`
	Examples       []map[string]any `json:"examples,omitempty"`
}

// CallContext is the per-call bundle supplied by the caller. The runtime
// only fills in RequestID when the caller left it empty.
type CallContext struct {
	TenantID  string `json:"tenant_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

// ToolError is the typed failure channel of the adapter surface. Adapters
// return it to mark a failure as categorized and final; the runtime never
// retries a typed error.
type ToolError struct {
	Type             ErrorType `json:"type"`
	Message          string    `json:"message"`
	Retryable        bool      `json:"retryable"`
	UpstreamCode     string    `json:"upstream_code,omitempty"`
	RemediationHints []string  `json:"remediation_hints,omitempty"`
	CorrelationID    string    `json:"correlation_id,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// ToolResult is the envelope returned for every call. Provenance fields are
// populated whenever the tool was known to the registry, including failures.
type ToolResult struct {
	OK             bool           `json:"ok"`
	Output         map[string]any `json:"output"`
	Error          *ToolError     `json:"error"`
	CorrelationID  string         `json:"correlation_id"`
	Pack           string         `json:"pack,omitempty"`
	PackVersion    string         `json:"pack_version,omitempty"`
	InterfaceHash  string         `json:"interface_hash,omitempty"`
	PackSetVersion string         `json:"pack_set_version,omitempty"`
}
