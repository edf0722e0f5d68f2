package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agentwarden/agentwarden/internal/gwerror"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider wraps go-openai's chat completions endpoint. It also
// serves OpenAI-compatible local or third-party hosted endpoints when
// constructed with a custom base URL via NewOpenAICompatibleProvider.
type OpenAIProvider struct {
	client *openai.Client
	models []string
	logger *slog.Logger
}

// NewOpenAIProvider constructs a Provider against the standard OpenAI API.
func NewOpenAIProvider(apiKey string, models []string, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		models: models,
		logger: logger.With("component", "llm.OpenAIProvider"),
	}
}

// NewOpenAICompatibleProvider constructs a Provider against any
// OpenAI-compatible endpoint (self-hosted gateways, third-party
// aggregators) by overriding the base URL.
func NewOpenAICompatibleProvider(apiKey, baseURL string, models []string, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		models: models,
		logger: logger.With("component", "llm.OpenAIProvider", "base_url", baseURL),
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// SupportsModel implements Provider.
func (p *OpenAIProvider) SupportsModel(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1-") || strings.HasPrefix(model, "o3-")
}

// SupportedModels implements Provider.
func (p *OpenAIProvider) SupportedModels() []string { return p.models }

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.EffectiveMessages()),
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = *req.MaxTokens
	}

	completion, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, p.classify(err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, &gwerror.ProviderOther{Provider: p.Name(), Cause: errors.New("empty choices in completion response")}
	}

	return Response{
		Text:         completion.Choices[0].Message.Content,
		Model:        req.Model,
		Provider:     p.Name(),
		FinishReason: string(completion.Choices[0].FinishReason),
		Usage: Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
		Metadata: map[string]interface{}{
			"provider": p.Name(),
		},
	}, nil
}

// toOpenAIMessages maps the ordered conversation onto go-openai's message
// shape, defaulting any unrecognized role to user.
func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}

// classify maps go-openai's *openai.APIError onto the gwerror taxonomy.
func (p *OpenAIProvider) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return &gwerror.RateLimit{Provider: p.Name(), Cause: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &gwerror.Auth{Provider: p.Name(), Cause: err}
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return &gwerror.Timeout{Provider: p.Name(), Cause: err}
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &gwerror.Timeout{Provider: p.Name(), Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &gwerror.Timeout{Provider: p.Name(), Cause: err}
	}
	return &gwerror.ProviderOther{Provider: p.Name(), Cause: err}
}
