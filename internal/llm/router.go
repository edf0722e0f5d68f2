package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/agentwarden/agentwarden/internal/gwerror"
	"github.com/cenkalti/backoff/v5"
)

// Router selects a Provider for a model, retries retryable failures, and
// falls back to a configured secondary model if the primary is
// exhausted. It generalizes the reference ModelRouter: provider
// resolution by first-match capability query, terminal-vs-retryable
// error classification, and a single fallback-model attempt after
// retries on the primary are exhausted.
type Router struct {
	providers     []Provider
	fallbackModel string
	maxRetries    int
	logger        *slog.Logger
	audit         AuditSink
}

// AuditSink is the minimal logging surface the Router needs to record
// routing decisions. *audit.SQLiteSink (and any other audit.Sink)
// satisfies this by structural typing, matching the same narrow
// interface orchestrator.AuditSink declares for its own audit calls.
type AuditSink interface {
	Log(requestID, traceID, eventType string, data map[string]interface{})
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithAuditSink attaches an AuditSink the Router emits routing_success,
// model_fallback_triggered and routing_failed events to. Leave unset to
// disable audit logging entirely.
func WithAuditSink(sink AuditSink) Option {
	return func(r *Router) { r.audit = sink }
}

// WithFallbackModel sets the model to retry with if the primary model's
// provider exhausts its retries. Leave unset (empty string) to disable
// fallback.
func WithFallbackModel(model string) Option {
	return func(r *Router) { r.fallbackModel = model }
}

// WithMaxRetries sets the maximum number of retry attempts per model
// (not counting the initial attempt). Default is 2.
func WithMaxRetries(n int) Option {
	return func(r *Router) { r.maxRetries = n }
}

// WithLogger overrides the router's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// NewRouter constructs a Router over the given providers, which are
// queried in order for the first one that supports a requested model.
// It returns NoProviders if providers is empty — the reference
// implementation treats a zero-provider router as a construction-time
// failure, not something discovered lazily on the first request.
func NewRouter(providers []Provider, opts ...Option) (*Router, error) {
	if len(providers) == 0 {
		return nil, &gwerror.NoProviders{}
	}

	r := &Router{
		providers:  providers,
		maxRetries: 2,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "llm.Router")
	return r, nil
}

// findProvider returns the first provider, in construction order, that
// supports model.
func (r *Router) findProvider(model string) Provider {
	for _, p := range r.providers {
		if p.SupportsModel(model) {
			return p
		}
	}
	return nil
}

// Route resolves req.Model to a provider and generates a response,
// retrying retryable errors up to maxRetries times. If every attempt on
// the primary model fails and a fallback model is configured (and
// differs from the primary), Route retries the whole sequence once
// against the fallback model. If both fail, the returned error wraps
// both failures into a single ProviderOther-classified error.
func (r *Router) Route(ctx context.Context, req Request) (Response, error) {
	resp, err := r.routeWithRetries(ctx, req, req.Model)
	if err == nil {
		r.auditLog(req, "routing_success", map[string]interface{}{
			"provider": resp.Provider,
			"model":    resp.Model,
			"attempts": resp.Metadata["router_total_attempts"],
		})
		return resp, nil
	}

	var modelNotFound *gwerror.ModelNotFound
	if errors.As(err, &modelNotFound) {
		// Terminal: no provider will ever support this model. Fallback
		// wouldn't help either unless it names a different model, which
		// the caller should simply request directly.
		r.auditLog(req, "routing_failed", map[string]interface{}{"error": err.Error()})
		return Response{}, err
	}

	if r.fallbackModel == "" || r.fallbackModel == req.Model {
		r.auditLog(req, "routing_failed", map[string]interface{}{"error": err.Error()})
		return Response{}, err
	}

	r.logger.Warn("primary model exhausted, attempting fallback",
		"primary_model", req.Model,
		"fallback_model", r.fallbackModel,
		"request_id", req.RequestID,
		"error", err,
	)
	r.auditLog(req, "model_fallback_triggered", map[string]interface{}{
		"primary_model":  req.Model,
		"fallback_model": r.fallbackModel,
		"error":          err.Error(),
	})

	fallbackReq := req
	fallbackReq.Model = r.fallbackModel
	fbResp, fbErr := r.routeWithRetries(ctx, fallbackReq, r.fallbackModel)
	if fbErr == nil {
		if fbResp.Metadata == nil {
			fbResp.Metadata = map[string]interface{}{}
		}
		fbResp.Metadata["used_fallback"] = true
		r.auditLog(req, "routing_success", map[string]interface{}{
			"provider":      fbResp.Provider,
			"model":         fbResp.Model,
			"used_fallback": true,
		})
		return fbResp, nil
	}

	r.auditLog(req, "routing_failed", map[string]interface{}{
		"primary_error":  err.Error(),
		"fallback_error": fbErr.Error(),
	})
	return Response{}, &gwerror.ProviderOther{
		Provider: "router",
		Cause:    errors.Join(err, fbErr),
	}
}

// auditLog is a no-op when no AuditSink is configured.
func (r *Router) auditLog(req Request, eventType string, data map[string]interface{}) {
	if r.audit == nil {
		return
	}
	r.audit.Log(req.RequestID, req.TraceID, eventType, data)
}

// routeWithRetries resolves model to a provider and retries the call on
// retryable errors, stamping router diagnostics into the response
// metadata on success.
func (r *Router) routeWithRetries(ctx context.Context, req Request, model string) (Response, error) {
	provider := r.findProvider(model)
	if provider == nil {
		return Response{}, &gwerror.ModelNotFound{Model: model}
	}

	var lastErr error
	attempts := 0
	maxAttempts := r.maxRetries + 1

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 200 * time.Millisecond

	operation := func() (Response, error) {
		attempts++
		resp, err := provider.Generate(ctx, req)
		if err != nil {
			lastErr = err
			if isRetryable(err) {
				return Response{}, err
			}
			return Response{}, backoff.Permanent(err)
		}
		if resp.Metadata == nil {
			resp.Metadata = map[string]interface{}{}
		}
		resp.Metadata["router_attempt"] = attempts
		resp.Metadata["router_total_attempts"] = attempts
		if resp.Provider == "" {
			resp.Provider = provider.Name()
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(boff),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
	if err != nil {
		r.logger.Error("provider call failed after retries",
			"provider", provider.Name(),
			"model", model,
			"attempts", attempts,
			"error", lastErr,
		)
		if lastErr != nil {
			return Response{}, lastErr
		}
		return Response{}, err
	}

	return resp, nil
}

// isRetryable classifies a provider error as retryable (RateLimit,
// Timeout, ProviderOther) or terminal (Auth, ModelNotFound, anything
// else), matching the reference router's classification.
func isRetryable(err error) bool {
	var rateLimit *gwerror.RateLimit
	var timeout *gwerror.Timeout
	var other *gwerror.ProviderOther
	return errors.As(err, &rateLimit) || errors.As(err, &timeout) || errors.As(err, &other)
}

// Generate is a narrow convenience wrapper over Route for callers (such
// as policy.AIJudgeModule) that only need response text back, satisfying
// policy.Generator without that package importing internal/llm.
func (r *Router) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := r.Route(ctx, Request{Model: model, Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// SupportedModels returns the union of every provider's supported
// models.
func (r *Router) SupportedModels() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range r.providers {
		for _, m := range p.SupportedModels() {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// Providers returns the provider names backing this router, in
// resolution order.
func (r *Router) Providers() []string {
	out := make([]string, len(r.providers))
	for i, p := range r.providers {
		out[i] = p.Name()
	}
	return out
}
