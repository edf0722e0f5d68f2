// Package orchestrator implements the dual-checkpoint governance flow: the
// policy engine evaluates the inbound prompt before the model is ever
// called, and evaluates the model's response before it is returned to the
// caller. Everything in between — routing, retries, provider selection —
// is opaque to this package.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentwarden/agentwarden/internal/gwerror"
	"github.com/agentwarden/agentwarden/internal/llm"
	"github.com/agentwarden/agentwarden/internal/policy"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// PolicyEngine evaluates a checkpoint and returns a combined decision.
// Implemented by *policy.Engine.
type PolicyEngine interface {
	Evaluate(ctx policy.Context) policy.EvaluationResult
}

// Router routes a request to a model provider, handling retries and
// fallback. Implemented by *llm.Router.
type Router interface {
	Route(ctx context.Context, req llm.Request) (llm.Response, error)
}

// AuditSink records governance events. Log is fire-and-forget: the
// orchestrator never lets an audit failure affect the request path. Nil
// is a valid AuditSink — events are simply dropped.
type AuditSink interface {
	Log(requestID, traceID, eventType string, data map[string]interface{})
}

// HITL escalates a checkpoint decision for human review and returns a
// review identifier. Implemented by *review.Service.
type HITL interface {
	Escalate(ctx context.Context, requestID, traceID, checkpoint, reason, prompt, response string, contextData map[string]interface{}) string
}

// Request is a single governed LLM call.
type Request struct {
	Prompt      string
	UserID      string
	UserRole    string
	UserEmail   string
	Model       string
	Temperature *float64
	MaxTokens   *int
	Metadata    map[string]interface{}
}

// Result is what Process returns on success: the (possibly
// redacted) model response plus both checkpoints' full evaluation
// results, so callers/tests can inspect exactly how the decision was
// reached.
type Result struct {
	Response     llm.Response
	RequestID    string
	TraceID      string
	InputResult  policy.EvaluationResult
	OutputResult policy.EvaluationResult
}

// Orchestrator wires PolicyEngine and Router together into the dual
// checkpoint flow. AuditSink and HITL are optional collaborators — nil
// values degrade gracefully: with no AuditSink there is no audit trail,
// and with no HITL nothing is queued, so an ESCALATE decision still
// returns an escalation error, carrying the synthetic review ID
// review_failed_<requestId>.
type Orchestrator struct {
	policyEngine PolicyEngine
	router       Router
	audit        AuditSink
	hitl         HITL
	logger       *slog.Logger
}

// Option configures an Orchestrator via functional options.
type Option func(*Orchestrator)

// WithAudit sets the audit sink. Nil (the default) disables audit logging.
func WithAudit(a AuditSink) Option {
	return func(o *Orchestrator) { o.audit = a }
}

// WithHITL sets the human-review escalation collaborator.
func WithHITL(h HITL) Option {
	return func(o *Orchestrator) { o.hitl = h }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New constructs an Orchestrator. policyEngine and router are required.
func New(policyEngine PolicyEngine, router Router, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		policyEngine: policyEngine,
		router:       router,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator.Orchestrator")
	return o
}

// Process runs a request through the dual checkpoint flow:
//
//  1. input checkpoint — evaluate the prompt. BLOCK and ESCALATE both
//     stop the request here and return a typed error; REDACT substitutes
//     the redacted prompt before routing.
//  2. route — send the (possibly redacted) prompt to the model router.
//  3. output checkpoint — evaluate the model's response, carrying the
//     input checkpoint's outcome as prior context. BLOCK and ESCALATE
//     stop here; REDACT substitutes the redacted response.
//
// Every transition is audited, matching the reference orchestrator's
// event names exactly, so external log tooling built against those names
// keeps working.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Result, error) {
	requestID := uuid.NewString()
	traceID := traceIDFrom(req.Metadata)

	metadata := cloneMetadata(req.Metadata)
	metadata["trace_id"] = traceID

	o.logger.Info("request_received",
		"request_id", requestID,
		"user_id", req.UserID,
		"prompt_length", len(req.Prompt),
		"checkpoint", "input",
	)
	o.auditLog(requestID, "request_received", map[string]interface{}{
		"user_id":       req.UserID,
		"prompt_length": len(req.Prompt),
		"trace_id":      traceID,
	})

	inputCtx := policy.Context{
		RequestID:  requestID,
		TraceID:    traceID,
		UserID:     req.UserID,
		Checkpoint: policy.CheckpointInput,
		Prompt:     req.Prompt,
		Metadata:   metadata,
	}
	inputResult := o.policyEngine.Evaluate(inputCtx)

	switch inputResult.Outcome {
	case policy.BLOCK:
		o.logger.Warn("request_blocked", "request_id", requestID, "outcome", "BLOCK", "reason", inputResult.Reason, "checkpoint", "input")
		o.auditLog(requestID, "request_blocked", map[string]interface{}{"reason": inputResult.Reason, "trace_id": traceID})
		return Result{RequestID: requestID, TraceID: traceID, InputResult: inputResult}, &gwerror.RequestBlocked{Reason: inputResult.Reason}

	case policy.ESCALATE:
		reviewID := o.escalate(ctx, requestID, traceID, "input", inputResult.Reason, req.Prompt, "", map[string]interface{}{"user_id": req.UserID})
		o.logger.Info("request_escalated", "request_id", requestID, "review_id", reviewID, "outcome", "ESCALATE", "reason", inputResult.Reason, "checkpoint", "input")
		o.auditLog(requestID, "request_escalated", map[string]interface{}{"review_id": reviewID, "trace_id": traceID})
		return Result{RequestID: requestID, TraceID: traceID, InputResult: inputResult}, &gwerror.RequestEscalated{Reason: inputResult.Reason, ReviewID: reviewID}
	}

	promptToUse := req.Prompt
	inputRedacted := inputResult.Outcome == policy.REDACT
	if inputRedacted && inputResult.RedactedPrompt != "" {
		promptToUse = inputResult.RedactedPrompt
	}

	llmMetadata := cloneMetadata(metadata)
	llmMetadata["request_id"] = requestID
	llmMetadata["input_redacted"] = inputRedacted

	llmResp, err := o.router.Route(ctx, llm.Request{
		RequestID:   requestID,
		TraceID:     traceID,
		Model:       req.Model,
		Prompt:      promptToUse,
		UserID:      req.UserID,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Metadata:    llmMetadata,
	})
	if err != nil {
		o.logger.Error("router_error", "request_id", requestID, "error", err)
		o.auditLog(requestID, "routing_failed_orchestrator", map[string]interface{}{"error": err.Error(), "trace_id": traceID})
		return Result{RequestID: requestID, TraceID: traceID, InputResult: inputResult}, err
	}

	outputCtx := policy.Context{
		RequestID:     requestID,
		TraceID:       traceID,
		UserID:        req.UserID,
		Checkpoint:    policy.CheckpointOutput,
		Prompt:        promptToUse,
		Response:      llmResp.Text,
		Metadata:      map[string]interface{}{"trace_id": traceID, "input_redacted": inputRedacted},
		PriorOutcomes: []policy.Outcome{inputResult.Outcome},
	}
	outputResult := o.policyEngine.Evaluate(outputCtx)

	switch outputResult.Outcome {
	case policy.BLOCK:
		o.logger.Warn("response_blocked", "request_id", requestID, "outcome", "BLOCK", "reason", outputResult.Reason, "checkpoint", "output")
		o.auditLog(requestID, "response_blocked", map[string]interface{}{"reason": outputResult.Reason, "trace_id": traceID})
		return Result{RequestID: requestID, TraceID: traceID, InputResult: inputResult, OutputResult: outputResult}, &gwerror.ResponseBlocked{Reason: outputResult.Reason}

	case policy.ESCALATE:
		reviewID := o.escalate(ctx, requestID, traceID, "output", outputResult.Reason, promptToUse, llmResp.Text, map[string]interface{}{"user_id": req.UserID})
		o.logger.Info("response_escalated", "request_id", requestID, "review_id", reviewID, "outcome", "ESCALATE", "reason", outputResult.Reason, "checkpoint", "output")
		o.auditLog(requestID, "response_escalated", map[string]interface{}{"review_id": reviewID, "trace_id": traceID})
		return Result{RequestID: requestID, TraceID: traceID, InputResult: inputResult, OutputResult: outputResult}, &gwerror.ResponseEscalated{Reason: outputResult.Reason, ReviewID: reviewID}
	}

	if outputResult.Outcome == policy.REDACT && outputResult.RedactedResponse != "" {
		llmResp.Text = outputResult.RedactedResponse
	}

	o.logger.Info("request_completed",
		"request_id", requestID,
		"final_outcome", outputResult.Outcome.String(),
		"response_redacted", outputResult.Outcome == policy.REDACT,
		"model", llmResp.Model,
	)
	o.auditLog(requestID, "request_completed", map[string]interface{}{
		"final_outcome":     outputResult.Outcome.String(),
		"response_redacted": outputResult.Outcome == policy.REDACT,
		"trace_id":          traceID,
	})

	return Result{
		Response:     llmResp,
		RequestID:    requestID,
		TraceID:      traceID,
		InputResult:  inputResult,
		OutputResult: outputResult,
	}, nil
}

// escalate calls the HITL collaborator if one is configured. With no
// HITL configured, it synthesizes the same "review_failed_<id>" shape
// review.Service itself falls back to on a store failure, so callers see
// one consistent sentinel for "could not actually queue a review"
// regardless of which layer failed.
func (o *Orchestrator) escalate(ctx context.Context, requestID, traceID, checkpoint, reason, prompt, response string, contextData map[string]interface{}) string {
	if o.hitl == nil {
		return fmt.Sprintf("review_failed_%s", requestID)
	}
	return o.hitl.Escalate(ctx, requestID, traceID, checkpoint, reason, prompt, response, contextData)
}

func (o *Orchestrator) auditLog(requestID, eventType string, data map[string]interface{}) {
	if o.audit == nil {
		return
	}
	traceID, _ := data["trace_id"].(string)
	o.audit.Log(requestID, traceID, eventType, data)
}

// traceIDFrom returns metadata["trace_id"] if present and non-empty,
// otherwise mints a new one. ULIDs are lexically sortable by creation
// time, which the reference implementation's random UUID trace_id isn't
// — a deliberate improvement for audit-log ordering.
func traceIDFrom(metadata map[string]interface{}) string {
	if metadata != nil {
		if v, ok := metadata["trace_id"].(string); ok && v != "" {
			return v
		}
	}
	return ulid.Make().String()
}

func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
