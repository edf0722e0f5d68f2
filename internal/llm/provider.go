package llm

import "context"

// Provider is the opaque model-backend boundary. Concrete
// implementations wrap a specific SDK (Anthropic, OpenAI-compatible, or
// a local daemon reachable over plain HTTP); the Router never depends on
// any of them directly.
type Provider interface {
	// Name identifies the provider for logging and router diagnostics
	// (e.g. "anthropic", "openai", "local").
	Name() string
	// SupportsModel reports whether this provider can serve the given
	// model name.
	SupportsModel(model string) bool
	// SupportedModels lists every model name this provider advertises
	// support for.
	SupportedModels() []string
	// Generate invokes the backend. Implementations should classify
	// failures into the gwerror taxonomy (RateLimit, Timeout, Auth,
	// ProviderOther) so the Router can decide whether to retry.
	Generate(ctx context.Context, req Request) (Response, error)
}
