// Package llm defines the gateway's model-provider boundary: a thin
// Provider interface wrapping whichever SDK actually talks to a backend,
// and a Router that resolves a model name to a provider, retries
// retryable failures, and falls back to a secondary model when the
// primary is exhausted.
package llm

// Role identifies the speaker of one turn in a Request's conversation
// history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in an ordered conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is the model invocation the orchestrator sends to the Router
// after the input checkpoint passes.
type Request struct {
	RequestID string
	TraceID   string
	Model     string

	// Messages is the ordered conversation sent to the provider. Callers
	// that only have a single prompt string (e.g. policy.AIJudgeModule,
	// via Router.Generate) may leave this empty and set Prompt instead;
	// EffectiveMessages folds Prompt into a single user message in that
	// case.
	Messages []Message
	Prompt   string

	// Temperature and MaxTokens are optional generation parameters. A
	// nil pointer means "use the provider's default."
	Temperature *float64
	MaxTokens   *int

	UserID string

	// Metadata carries request-scoped context forward (e.g.
	// input_redacted when the prompt was modified by a REDACT policy
	// outcome at the input checkpoint).
	Metadata map[string]interface{}
}

// EffectiveMessages returns Messages if set, otherwise synthesizes a
// single user-role message from Prompt so providers only need to
// handle one shape.
func (r Request) EffectiveMessages() []Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	if r.Prompt == "" {
		return nil
	}
	return []Message{{Role: RoleUser, Content: r.Prompt}}
}

// Usage reports provider-side token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is what a Provider returns for a Request.
type Response struct {
	Text         string
	Model        string
	Provider     string
	FinishReason string
	Usage        Usage
	LatencyMs    int64

	// Metadata is enriched by the Router with routing diagnostics
	// (router_attempt, router_total_attempts, used_fallback) in addition
	// to whatever the provider itself returns.
	Metadata map[string]interface{}
}
