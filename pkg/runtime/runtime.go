// Package runtime implements the per-call execution pipeline:
// policy gate, input validation, approval gate, secrets resolution,
// invocation with retries, output validation and audit.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rigproject/rig/pkg/approval"
	"github.com/rigproject/rig/pkg/audit"
	"github.com/rigproject/rig/pkg/policy"
	"github.com/rigproject/rig/pkg/rtp"
	"github.com/rigproject/rig/pkg/secrets"
)

// ToolFunc is the adapter surface consumed by the runtime. Returning a
// *rtp.ToolError marks the failure as typed and final; any other error is
// the generic channel and goes through the retry path.
type ToolFunc func(ctx context.Context, args map[string]any, secretVals map[string]string, call rtp.CallContext) (map[string]any, error)

// RegisteredTool pairs a definition with its implementation and
// provenance.
type RegisteredTool struct {
	Tool        rtp.ToolDef
	Impl        ToolFunc
	Pack        string
	PackVersion string
}

const retryBackoffUnit = 250 * time.Millisecond

// Runtime executes named tool calls end to end. One audit event is
// written for every terminal transition, regardless of branch.
type Runtime struct {
	mu             sync.RWMutex
	policy         policy.Policy
	resolver       secrets.Resolver
	sink           audit.Sink
	approvals      *approval.Store
	tools          map[string]RegisteredTool
	schemas        map[string]*toolSchemas
	interfaceHash  string
	packSetVersion string
	logger         *slog.Logger
	sleep          func(time.Duration)

	tracer trace.Tracer
	calls  metric.Int64Counter
}

// New creates a runtime. A nil sink disables audit persistence (tests
// only); production wiring always passes one.
func New(pol policy.Policy, resolver secrets.Resolver, sink audit.Sink) *Runtime {
	meter := otel.Meter("rigproject/rig/runtime")
	calls, err := meter.Int64Counter("rig.runtime.calls",
		metric.WithDescription("Terminal tool call transitions by outcome"))
	if err != nil {
		slog.Warn("runtime: calls counter unavailable", "error", err)
	}

	return &Runtime{
		policy:         pol,
		resolver:       resolver,
		sink:           sink,
		approvals:      approval.NewStore(),
		tools:          make(map[string]RegisteredTool),
		schemas:        make(map[string]*toolSchemas),
		interfaceHash:  "dev",
		packSetVersion: "dev",
		logger:         slog.Default(),
		sleep:          time.Sleep,
		tracer:         otel.Tracer("rigproject/rig/runtime"),
		calls:          calls,
	}
}

// WithLogger overrides the structured logger.
func (r *Runtime) WithLogger(l *slog.Logger) *Runtime {
	r.logger = l
	return r
}

// WithSleep overrides the backoff sleeper for testing.
func (r *Runtime) WithSleep(sleep func(time.Duration)) *Runtime {
	r.sleep = sleep
	return r
}

// Approvals exposes the pending-approval store (for sweeping).
func (r *Runtime) Approvals() *approval.Store {
	return r.approvals
}

// SetSnapshotMeta records the registry identity carried in every result
// and audit event.
func (r *Runtime) SetSnapshotMeta(interfaceHash, packSetVersion string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interfaceHash = interfaceHash
	r.packSetVersion = packSetVersion
}

// Register binds an implementation to a tool name. Schemas are compiled
// once here; a definition with an invalid schema never becomes callable.
func (r *Runtime) Register(name string, reg RegisteredTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("duplicate tool impl: %s", name)
	}
	compiled, err := compileToolSchemas(name, reg.Tool)
	if err != nil {
		return err
	}
	r.tools[name] = reg
	r.schemas[name] = compiled
	return nil
}

// Call executes a named tool through the full pipeline and returns the
// result envelope. Errors are reported, never thrown: the envelope always
// comes back.
func (r *Runtime) Call(ctx context.Context, toolName string, args map[string]any, call rtp.CallContext) rtp.ToolResult {
	start := time.Now()
	correlationID := call.RequestID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx, span := r.tracer.Start(ctx, "rig.call",
		trace.WithAttributes(attribute.String("rig.tool", toolName)))
	defer span.End()

	r.mu.RLock()
	reg, known := r.tools[toolName]
	compiled := r.schemas[toolName]
	r.mu.RUnlock()

	if !known {
		result := r.failure(correlationID, nil, &rtp.ToolError{
			Type: rtp.ErrTypeNotFound, Message: "tool not found", CorrelationID: correlationID,
		})
		r.finish(ctx, toolName, args, call, result, start, "")
		return result
	}

	if !r.policy.IsAllowed(toolName) {
		result := r.failure(correlationID, &reg, &rtp.ToolError{
			Type: rtp.ErrTypePolicyBlocked, Message: "tool not allowed by policy", CorrelationID: correlationID,
		})
		r.finish(ctx, toolName, args, call, result, start, "")
		return result
	}

	if err := compiled.validateInput(args); err != nil {
		result := r.failure(correlationID, &reg, &rtp.ToolError{
			Type: rtp.ErrTypeValidation, Message: err.Error(), CorrelationID: correlationID,
		})
		r.finish(ctx, toolName, args, call, result, start, "")
		return result
	}

	if r.policy.NeedsApproval(reg.Tool.RiskClass) {
		token := r.approvals.Create(toolName, args, call)
		result := r.failure(correlationID, &reg, &rtp.ToolError{
			Type:             rtp.ErrTypeApprovalRequired,
			Message:          "approval required",
			CorrelationID:    correlationID,
			RemediationHints: []string{"approve token: " + token},
		})
		r.finish(ctx, toolName, args, call, result, start, "")
		return result
	}

	secretVals := r.resolver.Resolve(reg.Tool.AuthSlots, call.TenantID)
	marker := secrets.AuthMarker(reg.Tool.AuthSlots)

	result := r.execute(ctx, reg, compiled, args, secretVals, call, correlationID)
	r.finish(ctx, toolName, args, call, result, start, marker)
	return result
}

// ApproveAndCall consumes a pending approval token and executes the
// captured call. Policy and input validation already passed when the
// record was created and are not re-run.
func (r *Runtime) ApproveAndCall(ctx context.Context, token string) rtp.ToolResult {
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "rig.approve_and_call")
	defer span.End()

	rec, ok := r.approvals.Pop(token)
	if !ok {
		correlationID := uuid.New().String()
		result := r.failure(correlationID, nil, &rtp.ToolError{
			Type: rtp.ErrTypeNotFound, Message: "approval token not found", CorrelationID: correlationID,
		})
		r.finish(ctx, "approval", nil, rtp.CallContext{}, result, start, "")
		return result
	}

	r.mu.RLock()
	reg, known := r.tools[rec.ToolName]
	compiled := r.schemas[rec.ToolName]
	r.mu.RUnlock()

	correlationID := rec.Ctx.RequestID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	if !known {
		result := r.failure(correlationID, nil, &rtp.ToolError{
			Type: rtp.ErrTypeNotFound, Message: "tool not found", CorrelationID: correlationID,
		})
		r.finish(ctx, rec.ToolName, rec.Args, rec.Ctx, result, start, "")
		return result
	}

	secretVals := r.resolver.Resolve(reg.Tool.AuthSlots, rec.Ctx.TenantID)
	marker := secrets.AuthMarker(reg.Tool.AuthSlots)

	result := r.execute(ctx, reg, compiled, rec.Args, secretVals, rec.Ctx, correlationID)
	r.finish(ctx, rec.ToolName, rec.Args, rec.Ctx, result, start, marker)
	return result
}

// execute runs the invoke loop: per-attempt timeout, linear backoff on
// generic failures, typed failures final, output validated on success.
func (r *Runtime) execute(ctx context.Context, reg RegisteredTool, compiled *toolSchemas,
	args map[string]any, secretVals map[string]string, call rtp.CallContext, correlationID string) rtp.ToolResult {

	maxAttempts := r.policy.MaxRetries() + 1
	var lastErr error
	lastTimedOut := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := r.invokeOnce(ctx, reg, args, secretVals, call)
		if err == nil {
			if verr := compiled.validateOutput(out); verr != nil {
				return r.failure(correlationID, &reg, &rtp.ToolError{
					Type:          rtp.ErrTypeInternal,
					Message:       "output schema mismatch: " + verr.Error(),
					CorrelationID: correlationID,
				})
			}
			return r.success(correlationID, &reg, out)
		}

		var terr *rtp.ToolError
		if errors.As(err, &terr) {
			// Adapter categorized the failure; final, never retried.
			if terr.CorrelationID == "" {
				terr.CorrelationID = correlationID
			}
			return r.failure(correlationID, &reg, terr)
		}

		lastErr = err
		lastTimedOut = isAttemptTimeout(err)
		if attempt < maxAttempts {
			r.logger.Warn("tool attempt failed, retrying",
				"tool", reg.Tool.Name, "attempt", attempt, "error", err)
			r.sleep(retryBackoffUnit * time.Duration(attempt))
		}
	}

	errType := rtp.ErrTypeUpstream
	if lastTimedOut {
		errType = rtp.ErrTypeTimeout
	}
	return r.failure(correlationID, &reg, &rtp.ToolError{
		Type:          errType,
		Message:       lastErr.Error(),
		CorrelationID: correlationID,
	})
}

type attemptTimeoutError struct {
	budget time.Duration
}

func (e *attemptTimeoutError) Error() string {
	return fmt.Sprintf("attempt exceeded %s budget", e.budget)
}

func isAttemptTimeout(err error) bool {
	_, ok := err.(*attemptTimeoutError)
	return ok
}

// invokeOnce runs a single attempt under the per-attempt wall-clock
// budget. A panicking adapter is folded into the generic failure channel.
// On expiry the attempt is abandoned; cancellation reaches the adapter
// through ctx if it honors it.
func (r *Runtime) invokeOnce(ctx context.Context, reg RegisteredTool,
	args map[string]any, secretVals map[string]string, call rtp.CallContext) (map[string]any, error) {

	budget := r.policy.Timeout()
	attemptCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		out map[string]any
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", rec)}
			}
		}()
		out, err := reg.Impl(attemptCtx, args, secretVals, call)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-attemptCtx.Done():
		return nil, &attemptTimeoutError{budget: budget}
	}
}

func (r *Runtime) success(correlationID string, reg *RegisteredTool, out map[string]any) rtp.ToolResult {
	result := rtp.ToolResult{OK: true, Output: out, CorrelationID: correlationID}
	r.stampProvenance(&result, reg)
	return result
}

func (r *Runtime) failure(correlationID string, reg *RegisteredTool, terr *rtp.ToolError) rtp.ToolResult {
	result := rtp.ToolResult{OK: false, Error: terr, CorrelationID: correlationID}
	r.stampProvenance(&result, reg)
	return result
}

// stampProvenance fills pack identity on every result whose tool is known,
// failures included.
func (r *Runtime) stampProvenance(result *rtp.ToolResult, reg *RegisteredTool) {
	if reg == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	result.Pack = reg.Pack
	result.PackVersion = reg.PackVersion
	result.InterfaceHash = r.interfaceHash
	result.PackSetVersion = r.packSetVersion
}

// finish is the single terminal-transition point: it increments the call
// counter and writes exactly one audit event.
func (r *Runtime) finish(ctx context.Context, toolName string, args map[string]any,
	call rtp.CallContext, result rtp.ToolResult, start time.Time, marker string) {

	outcome := outcomeFor(result)
	if r.calls != nil {
		r.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("rig.tool", toolName),
			attribute.String("rig.outcome", string(outcome)),
		))
	}

	if r.sink == nil {
		return
	}

	inputHash, err := audit.ComputeInputHash(args)
	if err != nil {
		r.logger.Error("audit input hash failed", "tool", toolName, "error", err)
		inputHash = ""
	}

	tenantID := call.TenantID
	if tenantID == "" {
		tenantID = "unknown"
	}

	event := audit.NewEvent(toolName, tenantID, result.CorrelationID, inputHash, outcome, time.Since(start).Milliseconds())
	event.RedactedAuthMarker = marker
	event.Pack = result.Pack
	event.PackVersion = result.PackVersion
	event.InterfaceHash = result.InterfaceHash
	event.PackSetVersion = result.PackSetVersion
	event.ArgsSanitized = args
	if result.Error != nil {
		event.ErrorType = string(result.Error.Type)
	}

	if err := r.sink.Write(ctx, event); err != nil {
		r.logger.Error("audit write failed", "tool", toolName, "run_id", result.CorrelationID, "error", err)
	}
}

func outcomeFor(result rtp.ToolResult) audit.Outcome {
	if result.OK {
		return audit.OutcomeOK
	}
	if result.Error != nil {
		switch result.Error.Type {
		case rtp.ErrTypeApprovalRequired:
			return audit.OutcomeApprovalRequired
		case rtp.ErrTypePolicyBlocked:
			return audit.OutcomePolicyDenied
		}
	}
	return audit.OutcomeError
}
