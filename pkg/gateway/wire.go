package gateway

import (
	"encoding/json"

	"github.com/rigproject/rig/pkg/rtp"
)

// The wire envelope spells out every field. Absent provenance and absent
// output/error are explicit JSON nulls, not omitted keys, so clients can
// bind against a fixed shape.

type wireToolError struct {
	Type             string   `json:"type"`
	Message          string   `json:"message"`
	Retryable        bool     `json:"retryable"`
	UpstreamCode     *string  `json:"upstream_code"`
	RemediationHints []string `json:"remediation_hints"`
	CorrelationID    *string  `json:"correlation_id"`
}

type wireResult struct {
	OK             bool           `json:"ok"`
	Output         map[string]any `json:"output"`
	Error          *wireToolError `json:"error"`
	CorrelationID  string         `json:"correlation_id"`
	Pack           *string        `json:"pack"`
	PackVersion    *string        `json:"pack_version"`
	InterfaceHash  *string        `json:"interface_hash"`
	PackSetVersion *string        `json:"pack_set_version"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toWireResult(res rtp.ToolResult) wireResult {
	out := wireResult{
		OK:             res.OK,
		Output:         res.Output,
		CorrelationID:  res.CorrelationID,
		Pack:           nullable(res.Pack),
		PackVersion:    nullable(res.PackVersion),
		InterfaceHash:  nullable(res.InterfaceHash),
		PackSetVersion: nullable(res.PackSetVersion),
	}
	if res.Error != nil {
		hints := res.Error.RemediationHints
		if hints == nil {
			hints = []string{}
		}
		out.Error = &wireToolError{
			Type:             string(res.Error.Type),
			Message:          res.Error.Message,
			Retryable:        res.Error.Retryable,
			UpstreamCode:     nullable(res.Error.UpstreamCode),
			RemediationHints: hints,
			CorrelationID:    nullable(res.Error.CorrelationID),
		}
	}
	return out
}

type wireToolDef struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	InputSchema  any      `json:"input_schema"`
	OutputSchema any      `json:"output_schema"`
	ErrorSchema  any      `json:"error_schema"`
	AuthSlots    []string `json:"auth_slots"`
	RiskClass    string   `json:"risk_class"`
	Tags         []string `json:"tags"`
}

func toWireToolDef(t rtp.ToolDef) wireToolDef {
	slots := t.AuthSlots
	if slots == nil {
		slots = []string{}
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return wireToolDef{
		Name:         t.Name,
		Description:  t.Description,
		InputSchema:  rawOrNull(t.InputSchema),
		OutputSchema: rawOrNull(t.OutputSchema),
		ErrorSchema:  rawOrNull(t.ErrorSchema),
		AuthSlots:    slots,
		RiskClass:    string(t.RiskClass),
		Tags:         tags,
	}
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	// Already valid JSON; pass through verbatim.
	return raw
}
