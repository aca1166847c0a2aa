package registry

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigproject/rig/pkg/rtp"
)

func defNamed(name string) rtp.ToolDef {
	return rtp.ToolDef{
		Name:         name,
		Description:  "echo-style tool " + name,
		InputSchema:  json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
		OutputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}}}`),
		ErrorSchema:  json.RawMessage(`{"type":"object"}`),
		RiskClass:    rtp.RiskRead,
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(defNamed("echo")))

	got, ok := r.Get("echo")
	assert.True(t, ok)
	assert.Equal(t, "echo", got.Name)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegisterDuplicateName(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(defNamed("echo")))
	err := r.Register(defNamed("echo"))
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestListLexicographicOrder(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(defNamed("zeta"), defNamed("alpha"), defNamed("mid")))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "mid", list[1].Name)
	assert.Equal(t, "zeta", list[2].Name)
}

func TestInterfaceHashOrderIndependent(t *testing.T) {
	a := NewToolRegistry()
	require.NoError(t, a.Register(defNamed("a.one"), defNamed("b.two"), defNamed("c.three")))

	b := NewToolRegistry()
	require.NoError(t, b.Register(defNamed("c.three"), defNamed("b.two"), defNamed("a.one")))

	snapA, err := a.Snapshot()
	require.NoError(t, err)
	snapB, err := b.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, snapA.InterfaceHash, snapB.InterfaceHash)
	assert.Len(t, snapA.InterfaceHash, 64)
}

func TestInterfaceHashChangesWithSchema(t *testing.T) {
	base := defNamed("echo")
	changed := base
	changed.InputSchema = json.RawMessage(`{"type":"object"}`)

	h1, err := ComputeInterfaceHash(map[string]rtp.ToolDef{"echo": base})
	require.NoError(t, err)
	h2, err := ComputeInterfaceHash(map[string]rtp.ToolDef{"echo": changed})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestInterfaceHashIgnoresKeyOrderInSchemas(t *testing.T) {
	a := defNamed("echo")
	a.InputSchema = json.RawMessage(`{"type":"object","required":["message"],"properties":{"message":{"type":"string"}}}`)
	b := defNamed("echo")
	b.InputSchema = json.RawMessage(`{"properties":{"message":{"type":"string"}},"required":["message"],"type":"object"}`)

	h1, err := ComputeInterfaceHash(map[string]rtp.ToolDef{"echo": a})
	require.NoError(t, err)
	h2, err := ComputeInterfaceHash(map[string]rtp.ToolDef{"echo": b})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestSnapshotIsCopy(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(defNamed("echo")))
	snap, err := r.Snapshot()
	require.NoError(t, err)

	require.NoError(t, r.Register(defNamed("later")))
	assert.Len(t, snap.Tools, 1)
}

func TestWireRoundTripPreservesHash(t *testing.T) {
	def := defNamed("echo")
	h1, err := ComputeInterfaceHash(map[string]rtp.ToolDef{def.Name: def})
	require.NoError(t, err)

	raw, err := json.Marshal(def)
	require.NoError(t, err)
	var back rtp.ToolDef
	require.NoError(t, json.Unmarshal(raw, &back))

	h2, err := ComputeInterfaceHash(map[string]rtp.ToolDef{back.Name: back})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestInterfaceHashPermutationProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("registration order never changes the hash", prop.ForAll(
		func(perm []int) bool {
			defs := make([]rtp.ToolDef, 5)
			for i := range defs {
				defs[i] = defNamed(fmt.Sprintf("tool.%d", i))
			}

			a := NewToolRegistry()
			for _, d := range defs {
				if err := a.Register(d); err != nil {
					return false
				}
			}

			b := NewToolRegistry()
			for _, i := range perm {
				if err := b.Register(defs[i]); err != nil {
					return false
				}
			}

			snapA, errA := a.Snapshot()
			snapB, errB := b.Snapshot()
			return errA == nil && errB == nil && snapA.InterfaceHash == snapB.InterfaceHash
		},
		genPermutation(5),
	))

	properties.TestingRun(t)
}

// genPermutation generates permutations of 0..n-1.
func genPermutation(n int) gopter.Gen {
	return gen.SliceOfN(n, gen.IntRange(0, 1<<30)).Map(func(seeds []int) []int {
		perm := make([]int, n)
		for i := range perm {
			perm[i] = i
		}
		for i := n - 1; i > 0; i-- {
			j := seeds[i] % (i + 1)
			perm[i], perm[j] = perm[j], perm[i]
		}
		return perm
	})
}
