package policy

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Engine evaluates a Context against an ordered set of active policy
// modules and combines their individual Results into one
// EvaluationResult via the BLOCK < ESCALATE < REDACT < ALLOW precedence
// lattice: the combined outcome is the minimum (most restrictive) of
// every module's outcome, and ties are broken by evaluation order — the
// first module whose outcome equals the combined outcome is reported as
// FinalPolicy.
//
// Engine is safe for concurrent use. LoadPolicies atomically swaps the
// active policy list so a reload (driven by config hot-reload) never
// blocks an in-flight Evaluate.
type Engine struct {
	mu       sync.RWMutex
	registry *Registry
	active   []string // ordered names of currently active modules

	logger *slog.Logger
	audit  AuditSink
}

// AuditSink is the minimal logging surface the Engine needs to record
// policy evaluation events. Declared locally, matching
// orchestrator.AuditSink and llm.AuditSink's duck-typed shape, so this
// package does not need to import internal/audit.
type AuditSink interface {
	Log(requestID, traceID, eventType string, data map[string]interface{})
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithAudit attaches an AuditSink the Engine emits
// policy_evaluation_start, policy_evaluated and
// policy_evaluation_complete events to. Leave unset to disable audit
// logging entirely.
func WithAudit(sink AuditSink) EngineOption {
	return func(e *Engine) { e.audit = sink }
}

// NewEngine creates an Engine backed by the given Registry. Call
// LoadPolicies to populate the active policy set; an engine with no
// active policies evaluates every Context as a synthetic ALLOW.
func NewEngine(registry *Registry, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		registry: registry,
		logger:   logger.With("component", "policy.Engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadPolicies sets the ordered, active policy list by name. Names not
// present in the registry are logged and skipped rather than failing the
// whole load, matching the reference engine's tolerance for a single bad
// entry in configuration.
func (e *Engine) LoadPolicies(names []string) {
	active := make([]string, 0, len(names))
	for _, name := range names {
		if !e.registry.IsRegistered(name) {
			e.logger.Warn("policy name not found in registry, skipping", "policy", name)
			continue
		}
		active = append(active, name)
	}

	e.mu.Lock()
	e.active = active
	e.mu.Unlock()

	e.logger.Info("policies loaded into engine", "count", len(active))
}

// PolicyCount returns the number of currently active policy modules.
func (e *Engine) PolicyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

// Evaluate runs ctx through every active module in order and combines
// the results. A module whose Evaluate call returns an error is treated
// as a synthetic BLOCK with reason "Policy '<name>' evaluation failed:
// <cause>" — policy code must never be able to fail open. An empty
// active set evaluates to a synthetic ALLOW with reason "No active
// policies", attributed to policy name "system".
func (e *Engine) Evaluate(ctx Context) EvaluationResult {
	start := time.Now()
	e.auditLog(ctx, "policy_evaluation_start", map[string]interface{}{
		"checkpoint": string(ctx.Checkpoint),
	})

	e.mu.RLock()
	active := make([]string, len(e.active))
	copy(active, e.active)
	e.mu.RUnlock()

	if len(active) == 0 {
		eval := EvaluationResult{
			Outcome:     ALLOW,
			Reason:      "No active policies",
			FinalPolicy: "system",
			AllResults: []Result{{
				Outcome:    ALLOW,
				PolicyName: "system",
				Reason:     "No active policies",
			}},
		}
		e.auditLog(ctx, "policy_evaluation_complete", map[string]interface{}{
			"final_outcome":      eval.Outcome.String(),
			"evaluated_policies": []string{},
			"timing_ms":          time.Since(start).Milliseconds(),
		})
		return eval
	}

	results := make([]Result, 0, len(active))
	combined := ALLOW

	for _, name := range active {
		module := e.registry.Get(name)
		result := e.evaluateOne(name, module, ctx)

		results = append(results, result)
		ctx.PriorOutcomes = append(ctx.PriorOutcomes, result.Outcome)
		combined = min(combined, result.Outcome)

		e.logger.Debug("policy evaluated",
			"policy", name,
			"outcome", result.Outcome.String(),
			"request_id", ctx.RequestID,
			"checkpoint", string(ctx.Checkpoint),
		)
		e.auditLog(ctx, "policy_evaluated", map[string]interface{}{
			"name":    name,
			"outcome": result.Outcome.String(),
		})
	}

	final := results[0]
	for _, r := range results {
		if r.Outcome == combined {
			final = r
			break
		}
	}

	eval := EvaluationResult{
		Outcome:          combined,
		Reason:           final.Reason,
		FinalPolicy:      final.PolicyName,
		RedactedPrompt:   final.RedactedPrompt,
		RedactedResponse: final.RedactedResponse,
		AllResults:       results,
	}

	if combined != ALLOW {
		e.logger.Info("policy evaluation produced non-allow outcome",
			"outcome", combined.String(),
			"policy", final.PolicyName,
			"request_id", ctx.RequestID,
			"checkpoint", string(ctx.Checkpoint),
		)
	}

	e.auditLog(ctx, "policy_evaluation_complete", map[string]interface{}{
		"final_outcome":      combined.String(),
		"evaluated_policies": active,
		"timing_ms":          time.Since(start).Milliseconds(),
	})

	return eval
}

// auditLog is a no-op when no AuditSink was configured via WithAudit.
func (e *Engine) auditLog(ctx Context, eventType string, data map[string]interface{}) {
	if e.audit == nil {
		return
	}
	e.audit.Log(ctx.RequestID, ctx.TraceID, eventType, data)
}

// evaluateOne runs a single module, converting a panic-free error return
// into a fail-closed synthetic BLOCK. A nil module (name present in the
// active list but absent from the registry, e.g. removed between
// LoadPolicies and Evaluate) is handled the same way.
func (e *Engine) evaluateOne(name string, module Module, ctx Context) Result {
	if module == nil {
		return Result{
			Outcome:    BLOCK,
			PolicyName: name,
			Reason:     fmt.Sprintf("Policy '%s' evaluation failed: policy not registered", name),
		}
	}

	result, err := module.Evaluate(ctx)
	if err != nil {
		return Result{
			Outcome:    BLOCK,
			PolicyName: name,
			Reason:     fmt.Sprintf("Policy '%s' evaluation failed: %s", name, err.Error()),
		}
	}
	if result.PolicyName == "" {
		result.PolicyName = name
	}
	return result
}
