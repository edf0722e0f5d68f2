package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agentwarden/agentwarden/internal/gwerror"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider wraps the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	models []string
	logger *slog.Logger
}

// NewAnthropicProvider constructs a Provider backed by the given API key
// and the set of model names it should claim support for.
func NewAnthropicProvider(apiKey string, models []string, logger *slog.Logger) *AnthropicProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		models: models,
		logger: logger.With("component", "llm.AnthropicProvider"),
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// SupportsModel implements Provider.
func (p *AnthropicProvider) SupportsModel(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return strings.HasPrefix(model, "claude-")
}

// SupportedModels implements Provider.
func (p *AnthropicProvider) SupportedModels() []string { return p.models }

// Generate implements Provider.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	maxTokens := int64(4096)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  toAnthropicMessages(req.EffectiveMessages()),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, p.classify(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return Response{
		Text:         text.String(),
		Model:        req.Model,
		Provider:     p.Name(),
		FinishReason: string(msg.StopReason),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		LatencyMs: time.Since(start).Milliseconds(),
		Metadata: map[string]interface{}{
			"provider": p.Name(),
		},
	}, nil
}

// toAnthropicMessages maps the ordered conversation onto the SDK's
// message shape. Anthropic's Messages API has no system role on the
// message list itself (it takes a separate top-level System field), so
// a system-role turn here is sent as a user message rather than
// dropped — the gateway's own checkpoints, not raw system prompts, are
// the enforcement point for this gateway's behavior.
func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, len(messages))
	for i, m := range messages {
		if m.Role == RoleAssistant {
			out[i] = anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content))
		} else {
			out[i] = anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content))
		}
	}
	return out
}

// classify maps SDK errors onto the gwerror taxonomy so the Router can
// decide whether to retry. The SDK surfaces transport-level failures as
// *anthropic.Error, which embeds the HTTP response. A context deadline
// becomes Timeout; anything else (other status codes, wire errors,
// cancellation) becomes ProviderOther, which the Router also retries.
func (p *AnthropicProvider) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		switch apiErr.Response.StatusCode {
		case http.StatusTooManyRequests:
			return &gwerror.RateLimit{Provider: p.Name(), Cause: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &gwerror.Auth{Provider: p.Name(), Cause: err}
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return &gwerror.Timeout{Provider: p.Name(), Cause: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &gwerror.Timeout{Provider: p.Name(), Cause: err}
	}
	return &gwerror.ProviderOther{Provider: p.Name(), Cause: err}
}
