// Package policy implements the governance policy evaluation pipeline: an
// ordered set of pluggable PolicyModule implementations, each producing a
// PolicyResult, combined into a single PolicyEvaluationResult by precedence.
// The engine runs at both the pre-call and post-call checkpoint; a single
// PolicyModule implementation is checkpoint-agnostic and inspects
// PolicyContext.Checkpoint to decide whether it applies.
package policy

// Outcome is one of the four policy decisions, ordered by restrictiveness.
// BLOCK is the most restrictive, ALLOW the least. Combining a set of
// outcomes takes the minimum (most restrictive) of the set.
type Outcome int

const (
	// BLOCK halts the request/response outright.
	BLOCK Outcome = iota
	// ESCALATE routes the request/response to human review.
	ESCALATE
	// REDACT allows the request/response to proceed with modified content.
	REDACT
	// ALLOW permits the request/response unchanged.
	ALLOW
)

// String renders the outcome the way it appears in logs, audit events,
// and config files.
func (o Outcome) String() string {
	switch o {
	case BLOCK:
		return "BLOCK"
	case ESCALATE:
		return "ESCALATE"
	case REDACT:
		return "REDACT"
	case ALLOW:
		return "ALLOW"
	default:
		return "UNKNOWN"
	}
}

// min returns the more restrictive of two outcomes. Because the
// restrictiveness ordering is BLOCK < ESCALATE < REDACT < ALLOW, the
// more restrictive value is the smaller int.
func min(a, b Outcome) Outcome {
	if a < b {
		return a
	}
	return b
}

// Checkpoint identifies which side of the model call a policy is
// evaluating: the inbound prompt ("input") or the model's response
// ("output").
type Checkpoint string

const (
	CheckpointInput  Checkpoint = "input"
	CheckpointOutput Checkpoint = "output"
)

// Context carries everything a PolicyModule needs to render a decision.
// The engine hands every policy in the pipeline the same Prompt/Response
// text; a REDACT result from an earlier policy does not rewrite it, and
// only PriorOutcomes grows as the pipeline advances.
type Context struct {
	RequestID string
	TraceID   string
	UserID    string
	Checkpoint Checkpoint

	// Prompt is the user-supplied text under evaluation at the input
	// checkpoint. At the output checkpoint it still holds the original
	// prompt, for policies that need both sides.
	Prompt string
	// Response is the model-generated text under evaluation at the
	// output checkpoint. Empty at the input checkpoint.
	Response string

	// Metadata carries free-form request context (trace_id, client
	// headers, input_redacted flags, etc). Policies may read and add to
	// it; the orchestrator seeds it before the first checkpoint.
	Metadata map[string]interface{}

	// PriorOutcomes accumulates the outcome of every policy already
	// evaluated in this pass, in evaluation order. Later policies can
	// inspect it (e.g. to avoid re-flagging something already escalated).
	PriorOutcomes []Outcome
}

// Clone returns a deep-enough copy of the context suitable for handing to
// the next policy in the pipeline: Metadata and PriorOutcomes get their
// own backing arrays so appends by one policy cannot alias another's view.
func (c Context) Clone() Context {
	cp := c
	cp.Metadata = make(map[string]interface{}, len(c.Metadata))
	for k, v := range c.Metadata {
		cp.Metadata[k] = v
	}
	cp.PriorOutcomes = append([]Outcome(nil), c.PriorOutcomes...)
	return cp
}

// Result is the decision of a single PolicyModule.
type Result struct {
	Outcome    Outcome
	PolicyName string
	Reason     string

	// RedactedPrompt/RedactedResponse hold replacement content when
	// Outcome is REDACT. Only the field matching the active checkpoint
	// is meaningful.
	RedactedPrompt   string
	RedactedResponse string

	// ConfidenceScore is an optional [0,1] confidence a module attaches
	// to its verdict. Zero means "not reported" — deterministic modules
	// (CEL, keyword) never set it; AIJudgeModule parses one out of the
	// judge's response when present.
	ConfidenceScore float64
	// RedactionTokens maps placeholder tokens back to the original
	// substrings they replaced (e.g. "[REDACTED:EMAIL:1]" ->
	// "jane@example.com"), for modules whose REDACT outcome performs
	// reversible content rewriting. Only meaningful when Outcome is
	// REDACT; built-in deterministic modules here don't rewrite content
	// so they leave it nil.
	RedactionTokens map[string]string
}

// EvaluationResult is the single decision returned by Engine.Evaluate
// after combining every module's Result by precedence.
type EvaluationResult struct {
	Outcome Outcome
	Reason  string
	// FinalPolicy is the name of the policy result selected as the
	// combined decision — the first policy, in evaluation order, whose
	// Outcome equals Outcome.
	FinalPolicy string
	// RedactedPrompt/RedactedResponse carry forward the final redacted
	// content, if Outcome is REDACT.
	RedactedPrompt   string
	RedactedResponse string
	// AllResults preserves every individual policy's Result for audit
	// logging.
	AllResults []Result
}

// Module is the pluggable policy interface. Implementations range from
// deterministic CEL rule modules to opaque content-detection black boxes
// (PII/MNPI scanners, external classifiers). The engine treats every
// Module identically: it has a name, accepts configuration, and evaluates
// a Context into a Result.
//
// Evaluate must not panic and should avoid blocking indefinitely; the
// engine does not enforce a deadline itself but callers running under a
// request context should propagate cancellation into their own
// implementations where that makes sense.
type Module interface {
	// Name returns the unique registry name for this module instance.
	Name() string
	// Configure applies module-specific configuration. Called once at
	// registration time (or on hot-reload) before any Evaluate call.
	Configure(config map[string]interface{}) error
	// Evaluate renders a decision for the given context.
	Evaluate(ctx Context) (Result, error)
}
