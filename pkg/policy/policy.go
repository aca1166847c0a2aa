// Package policy controls enforcement inside the runtime: allow-listing,
// approval gates by risk class, timeouts and retries.
package policy

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rigproject/rig/pkg/rtp"
)

const (
	DefaultTimeoutSeconds = 30
	DefaultRetries        = 1
)

// Policy holds the recognized enforcement knobs. A nil AllowedTools set
// means every tool is allowed; an empty (non-nil) set allows nothing.
type Policy struct {
	AllowedTools       map[string]struct{}
	RequireApprovalFor map[rtp.RiskClass]struct{}
	TimeoutSeconds     int
	Retries            int
}

// Default returns the stock policy: approvals for money, infra and
// destructive tools, 30s per-attempt timeout, one retry.
func Default() Policy {
	return Policy{
		RequireApprovalFor: map[rtp.RiskClass]struct{}{
			rtp.RiskMoney:       {},
			rtp.RiskInfra:       {},
			rtp.RiskDestructive: {},
		},
		TimeoutSeconds: DefaultTimeoutSeconds,
		Retries:        DefaultRetries,
	}
}

// IsAllowed reports whether the tool passes the allow-list.
func (p Policy) IsAllowed(toolName string) bool {
	if p.AllowedTools == nil {
		return true
	}
	_, ok := p.AllowedTools[toolName]
	return ok
}

// NeedsApproval reports whether the risk class is approval-gated.
func (p Policy) NeedsApproval(risk rtp.RiskClass) bool {
	_, ok := p.RequireApprovalFor[risk]
	return ok
}

// Timeout returns the per-attempt wall-clock budget.
func (p Policy) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// MaxRetries returns the number of additional attempts after the first.
func (p Policy) MaxRetries() int {
	if p.Retries < 0 {
		return 0
	}
	return p.Retries
}

// FromEnv builds a policy from environment variables, starting from
// Default. Recognized variables:
//
//	RIG_ALLOWED_TOOLS        comma-separated allow-list ("*" or unset = all)
//	RIG_REQUIRE_APPROVAL_FOR comma-separated risk classes
//	RIG_TIMEOUT_SECONDS      per-attempt budget
//	RIG_RETRIES              additional attempts on generic failure
func FromEnv() Policy {
	p := Default()

	if v, ok := os.LookupEnv("RIG_ALLOWED_TOOLS"); ok && v != "*" {
		p.AllowedTools = make(map[string]struct{})
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				p.AllowedTools[name] = struct{}{}
			}
		}
	}

	if v, ok := os.LookupEnv("RIG_REQUIRE_APPROVAL_FOR"); ok {
		p.RequireApprovalFor = make(map[rtp.RiskClass]struct{})
		for _, c := range strings.Split(v, ",") {
			risk := rtp.RiskClass(strings.TrimSpace(c))
			if risk.Valid() {
				p.RequireApprovalFor[risk] = struct{}{}
			}
		}
	}

	if v := os.Getenv("RIG_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("RIG_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Retries = n
		}
	}
	return p
}
