// Package secrets maps tool-declared auth slot names to secret values for
// the scope of a single invocation. Secret values never travel through any
// logging or audit channel; audit surfacing uses slot names only.
package secrets

import (
	"os"
	"strings"
)

// Resolver resolves declared slot names for a tenant. Slots without a
// value are omitted from the result; absence is not an error at resolve
// time, the tool implementation decides whether it is fatal.
type Resolver interface {
	Resolve(slots []string, tenantID string) map[string]string
}

// EnvResolver reads secrets from the process environment. Slot names are
// the environment variable names declared by each tool. Stateless, so it
// is safe for concurrent use.
type EnvResolver struct{}

func NewEnvResolver() EnvResolver {
	return EnvResolver{}
}

func (EnvResolver) Resolve(slots []string, tenantID string) map[string]string {
	out := make(map[string]string, len(slots))
	for _, slot := range slots {
		if v := os.Getenv(slot); v != "" {
			out[slot] = v
		}
	}
	return out
}

// AuthMarker derives the redacted auth marker for a call: the first
// declared slot name, prefixed "env:" unless it already carries the
// prefix. Returns "" when the tool declares no slots. The marker is safe
// to persist; it is never a secret value.
func AuthMarker(slots []string) string {
	if len(slots) == 0 {
		return ""
	}
	first := slots[0]
	if strings.HasPrefix(first, "env:") || strings.HasPrefix(first, "ENV:") {
		return first
	}
	return "env:" + first
}
