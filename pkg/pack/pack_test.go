package pack

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigproject/rig/pkg/audit"
	"github.com/rigproject/rig/pkg/policy"
	"github.com/rigproject/rig/pkg/registry"
	"github.com/rigproject/rig/pkg/rtp"
	"github.com/rigproject/rig/pkg/runtime"
	"github.com/rigproject/rig/pkg/secrets"
)

type fakePack struct {
	name    string
	version string
	tool    string
}

func (p fakePack) Metadata() Metadata { return Metadata{Name: p.name, Version: p.version} }

func (p fakePack) Tools() []rtp.ToolDef {
	return []rtp.ToolDef{{
		Name:         p.tool,
		Description:  "test tool",
		InputSchema:  json.RawMessage(`{"type":"object"}`),
		OutputSchema: json.RawMessage(`{"type":"object"}`),
		ErrorSchema:  json.RawMessage(`{"type":"object"}`),
		RiskClass:    rtp.RiskRead,
	}}
}

func (p fakePack) Impls() map[string]runtime.RegisteredTool {
	return map[string]runtime.RegisteredTool{
		p.tool: {
			Tool: p.Tools()[0],
			Impl: func(ctx context.Context, args map[string]any, s map[string]string, c rtp.CallContext) (map[string]any, error) {
				return map[string]any{}, nil
			},
			Pack:        p.name,
			PackVersion: p.version,
		},
	}
}

func newRuntime() *runtime.Runtime {
	return runtime.New(policy.Default(), secrets.NewEnvResolver(), audit.NewMemorySink())
}

func TestLoadRegistersToolsAndStampsMeta(t *testing.T) {
	reg := registry.NewToolRegistry()
	rt := newRuntime()

	err := Load(reg, rt,
		fakePack{name: "rig-pack-a", version: "1.2.3", tool: "a.run"},
		fakePack{name: "rig-pack-b", version: "0.1.0", tool: "b.run"},
	)
	require.NoError(t, err)

	_, ok := reg.Get("a.run")
	assert.True(t, ok)
	_, ok = reg.Get("b.run")
	assert.True(t, ok)

	snap, err := reg.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "rig-pack-a@1.2.3+rig-pack-b@0.1.0", snap.PackSetVersion)

	res := rt.Call(context.Background(), "a.run", map[string]any{}, rtp.CallContext{})
	require.True(t, res.OK)
	assert.Equal(t, snap.InterfaceHash, res.InterfaceHash)
	assert.Equal(t, snap.PackSetVersion, res.PackSetVersion)
}

func TestLoadRejectsInvalidVersion(t *testing.T) {
	reg := registry.NewToolRegistry()
	err := Load(reg, newRuntime(), fakePack{name: "rig-pack-a", version: "not-semver", tool: "a.run"})
	assert.Error(t, err)
}

func TestLoadAllowsDevVersion(t *testing.T) {
	reg := registry.NewToolRegistry()
	err := Load(reg, newRuntime(), fakePack{name: "rig-pack-a", version: "dev", tool: "a.run"})
	assert.NoError(t, err)
}

func TestLoadRejectsDuplicateToolAcrossPacks(t *testing.T) {
	reg := registry.NewToolRegistry()
	err := Load(reg, newRuntime(),
		fakePack{name: "rig-pack-a", version: "1.0.0", tool: "same.tool"},
		fakePack{name: "rig-pack-b", version: "1.0.0", tool: "same.tool"},
	)
	assert.ErrorIs(t, err, registry.ErrDuplicateName)
}

func TestSetVersionSortedAndStable(t *testing.T) {
	a := fakePack{name: "zed", version: "1.0.0"}
	b := fakePack{name: "alpha", version: "2.0.0"}
	assert.Equal(t, SetVersion([]Pack{a, b}), SetVersion([]Pack{b, a}))
	assert.Equal(t, "alpha@2.0.0+zed@1.0.0", SetVersion([]Pack{a, b}))
	assert.Equal(t, "dev", SetVersion(nil))
}
