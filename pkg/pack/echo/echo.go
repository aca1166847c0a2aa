// Package echo is the built-in demonstration pack: a single read-class
// tool that reflects its input back with the caller's tenant.
package echo

import (
	"context"
	"encoding/json"

	"github.com/rigproject/rig/pkg/pack"
	"github.com/rigproject/rig/pkg/rtp"
	"github.com/rigproject/rig/pkg/runtime"
)

const (
	packName    = "rig-pack-echo"
	packVersion = "0.1.0"
)

type echoPack struct{}

// New returns the echo pack.
func New() pack.Pack {
	return echoPack{}
}

func (echoPack) Metadata() pack.Metadata {
	return pack.Metadata{Name: packName, Version: packVersion}
}

func (echoPack) Tools() []rtp.ToolDef {
	return []rtp.ToolDef{def()}
}

func (echoPack) Impls() map[string]runtime.RegisteredTool {
	return map[string]runtime.RegisteredTool{
		"echo": {
			Tool:        def(),
			Impl:        echoImpl,
			Pack:        packName,
			PackVersion: packVersion,
		},
	}
}

func def() rtp.ToolDef {
	return rtp.ToolDef{
		Name:        "echo",
		Description: "Echo back a message",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"message": {"type": "string"}},
			"required": ["message"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"message": {"type": "string"},
				"tenant_id": {"type": ["string", "null"]}
			},
			"required": ["message", "tenant_id"],
			"additionalProperties": false
		}`),
		ErrorSchema: json.RawMessage(`{"type":"object"}`),
		AuthSlots:   []string{},
		RiskClass:   rtp.RiskRead,
		Tags:        []string{"demo"},
	}
}

func echoImpl(ctx context.Context, args map[string]any, secretVals map[string]string, call rtp.CallContext) (map[string]any, error) {
	var tenant any
	if call.TenantID != "" {
		tenant = call.TenantID
	}
	return map[string]any{
		"message":   args["message"],
		"tenant_id": tenant,
	}, nil
}
