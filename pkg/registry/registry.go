// Package registry implements the tool catalog: a content-addressed set of
// tool definitions with a deterministic interface hash.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rigproject/rig/pkg/canonical"
	"github.com/rigproject/rig/pkg/rtp"
)

var ErrDuplicateName = errors.New("duplicate tool name")

// Snapshot is an immutable view of the registry at some instant. The
// interface hash is the registry's identity for compatibility checks.
type Snapshot struct {
	Tools          map[string]rtp.ToolDef
	InterfaceHash  string
	PackSetVersion string
}

// ToolRegistry is a thread-safe in-memory tool catalog. Packs are loaded
// into the registry, then a snapshot is taken; registration is expected
// to happen during startup only.
type ToolRegistry struct {
	mu             sync.RWMutex
	tools          map[string]rtp.ToolDef
	packSetVersion string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:          make(map[string]rtp.ToolDef),
		packSetVersion: "dev",
	}
}

// SetPackSetVersion records the externally assigned pack-set version string.
func (r *ToolRegistry) SetPackSetVersion(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packSetVersion = version
}

// Register adds definitions to the catalog. A name collision fails with
// ErrDuplicateName; definitions registered before the colliding one stay
// registered.
func (r *ToolRegistry) Register(defs ...rtp.ToolDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range defs {
		if _, ok := r.tools[d.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
		}
		r.tools[d.Name] = d
	}
	return nil
}

// List returns all definitions in lexicographic name order.
func (r *ToolRegistry) List() []rtp.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]rtp.ToolDef, 0, len(names))
	for _, n := range names {
		out = append(out, r.tools[n])
	}
	return out
}

// Get looks up a definition by name. Absence is not an error.
func (r *ToolRegistry) Get(name string) (rtp.ToolDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Snapshot freezes a copy of the current definitions with their interface
// hash and the current pack-set version.
func (r *ToolRegistry) Snapshot() (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make(map[string]rtp.ToolDef, len(r.tools))
	for k, v := range r.tools {
		tools[k] = v
	}
	iface, err := ComputeInterfaceHash(tools)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Tools: tools, InterfaceHash: iface, PackSetVersion: r.packSetVersion}, nil
}

// ComputeInterfaceHash fingerprints a set of definitions: SHA-256 over the
// canonical JSON of the ordered list [(name, input_schema, output_schema,
// error_schema)] sorted by name. Registration order is irrelevant.
func ComputeInterfaceHash(tools map[string]rtp.ToolDef) (string, error) {
	names := make([]string, 0, len(tools))
	for n := range tools {
		names = append(names, n)
	}
	sort.Strings(names)

	payload := make([][]json.RawMessage, 0, len(names))
	for _, n := range names {
		t := tools[n]
		nameJSON, err := json.Marshal(t.Name)
		if err != nil {
			return "", fmt.Errorf("registry: marshal tool name: %w", err)
		}
		payload = append(payload, []json.RawMessage{
			nameJSON,
			orEmptyObject(t.InputSchema),
			orEmptyObject(t.OutputSchema),
			orEmptyObject(t.ErrorSchema),
		})
	}

	blob, err := canonical.JSON(payload)
	if err != nil {
		return "", fmt.Errorf("registry: interface hash canonicalization failed: %w", err)
	}
	return canonical.HashBytes(blob), nil
}

func orEmptyObject(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return json.RawMessage(`{}`)
	}
	return schema
}
