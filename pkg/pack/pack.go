// Package pack defines the distribution unit binding tool definitions to
// their implementations, and loads packs into a registry and runtime at
// startup. Discovery is explicit: each pack publishes a constructor and
// the host lists the packs it ships. No reflection.
package pack

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/rigproject/rig/pkg/registry"
	"github.com/rigproject/rig/pkg/rtp"
	"github.com/rigproject/rig/pkg/runtime"
)

// Metadata identifies a pack in provenance strings.
type Metadata struct {
	Name    string
	Version string
}

// Pack yields tool definitions and their implementations.
type Pack interface {
	Metadata() Metadata
	Tools() []rtp.ToolDef
	Impls() map[string]runtime.RegisteredTool
}

// Load registers every pack's definitions into the registry and its
// implementations into the runtime, then stamps the runtime with the
// resulting snapshot identity. Pack versions other than "dev" must be
// valid semver.
func Load(reg *registry.ToolRegistry, rt *runtime.Runtime, packs ...Pack) error {
	for _, p := range packs {
		meta := p.Metadata()
		if meta.Name == "" {
			return fmt.Errorf("pack with empty name")
		}
		if meta.Version != "dev" {
			if _, err := semver.NewVersion(meta.Version); err != nil {
				return fmt.Errorf("pack %s: invalid version %q: %w", meta.Name, meta.Version, err)
			}
		}

		if err := reg.Register(p.Tools()...); err != nil {
			return fmt.Errorf("pack %s: %w", meta.Name, err)
		}
		for name, impl := range p.Impls() {
			if err := rt.Register(name, impl); err != nil {
				return fmt.Errorf("pack %s: %w", meta.Name, err)
			}
		}
	}

	reg.SetPackSetVersion(SetVersion(packs))
	snap, err := reg.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot after load: %w", err)
	}
	rt.SetSnapshotMeta(snap.InterfaceHash, snap.PackSetVersion)
	return nil
}

// SetVersion derives the pack-set version string: the sorted
// name@version list joined with "+", or "dev" for an empty set.
func SetVersion(packs []Pack) string {
	if len(packs) == 0 {
		return "dev"
	}
	parts := make([]string, 0, len(packs))
	for _, p := range packs {
		meta := p.Metadata()
		parts = append(parts, meta.Name+"@"+meta.Version)
	}
	sort.Strings(parts)
	return strings.Join(parts, "+")
}
