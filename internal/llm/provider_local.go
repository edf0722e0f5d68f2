package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agentwarden/agentwarden/internal/gwerror"
)

// LocalProvider talks to a local model daemon (e.g. Ollama, a self-hosted
// inference server) over plain HTTP. It has no knowledge of the specific
// model weights available; per spec.md §4.5 it optimistically claims
// support for any model and lets the daemon reject unknown ones at call
// time.
type LocalProvider struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewLocalProvider constructs a Provider that POSTs generate requests to
// baseURL + "/api/generate" (the Ollama-compatible shape).
func NewLocalProvider(baseURL string, logger *slog.Logger) *LocalProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With("component", "llm.LocalProvider", "base_url", baseURL),
	}
}

// Name implements Provider.
func (p *LocalProvider) Name() string { return "local" }

// SupportsModel implements Provider. The local daemon is the catch-all
// for models no other configured provider claims.
func (p *LocalProvider) SupportsModel(model string) bool { return true }

// SupportedModels implements Provider. Local daemons do not advertise a
// fixed model list up front.
func (p *LocalProvider) SupportedModels() []string { return nil }

type localGenerateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature,omitempty"`
}

type localGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Generate implements Provider.
func (p *LocalProvider) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	genReq := localGenerateRequest{Model: req.Model, Prompt: flattenPrompt(req.EffectiveMessages()), Stream: false}
	if req.Temperature != nil {
		genReq.Temperature = *req.Temperature
	}
	body, err := json.Marshal(genReq)
	if err != nil {
		return Response{}, &gwerror.ProviderOther{Provider: p.Name(), Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, &gwerror.ProviderOther{Provider: p.Name(), Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, &gwerror.Timeout{Provider: p.Name(), Cause: err}
		}
		return Response{}, &gwerror.ProviderOther{Provider: p.Name(), Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &gwerror.ProviderOther{Provider: p.Name(), Cause: err}
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return Response{}, &gwerror.RateLimit{Provider: p.Name(), Cause: fmt.Errorf("status %d: %s", resp.StatusCode, data)}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Response{}, &gwerror.Auth{Provider: p.Name(), Cause: fmt.Errorf("status %d: %s", resp.StatusCode, data)}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return Response{}, &gwerror.Timeout{Provider: p.Name(), Cause: fmt.Errorf("status %d: %s", resp.StatusCode, data)}
	}
	if resp.StatusCode == http.StatusNotFound {
		return Response{}, &gwerror.ModelNotFound{Model: req.Model}
	}
	if resp.StatusCode >= 300 {
		return Response{}, &gwerror.ProviderOther{Provider: p.Name(), Cause: fmt.Errorf("status %d: %s", resp.StatusCode, data)}
	}

	var parsed localGenerateResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Response{}, &gwerror.ProviderOther{Provider: p.Name(), Cause: err}
	}
	if parsed.Error != "" {
		return Response{}, &gwerror.ProviderOther{Provider: p.Name(), Cause: fmt.Errorf("%s", parsed.Error)}
	}

	return Response{
		Text:      parsed.Response,
		Model:     req.Model,
		Provider:  p.Name(),
		LatencyMs: time.Since(start).Milliseconds(),
		Metadata: map[string]interface{}{
			"provider": p.Name(),
		},
	}, nil
}

// flattenPrompt joins an ordered conversation into a single prompt
// string, since the Ollama-compatible /api/generate endpoint has no
// concept of conversation turns.
func flattenPrompt(messages []Message) string {
	if len(messages) == 1 {
		return messages[0].Content
	}
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
