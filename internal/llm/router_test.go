package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/agentwarden/agentwarden/internal/gwerror"
)

type stubProvider struct {
	name    string
	models  []string
	catchAll bool
	calls   int
	genFunc func(attempt int) (Response, error)
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) SupportsModel(model string) bool {
	if p.catchAll {
		return true
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *stubProvider) SupportedModels() []string { return p.models }

func (p *stubProvider) Generate(ctx context.Context, req Request) (Response, error) {
	p.calls++
	if p.genFunc != nil {
		return p.genFunc(p.calls)
	}
	return Response{Text: "ok", Model: req.Model}, nil
}

type recordingAuditSink struct {
	events []string
	data   []map[string]interface{}
}

func (s *recordingAuditSink) Log(requestID, traceID, eventType string, data map[string]interface{}) {
	s.events = append(s.events, eventType)
	s.data = append(s.data, data)
}

func TestRouteEmitsRoutingSuccess(t *testing.T) {
	p := &stubProvider{name: "openai", models: []string{"gpt-4"}}
	sink := &recordingAuditSink{}
	r, _ := NewRouter([]Provider{p}, WithAuditSink(sink))

	if _, err := r.Route(context.Background(), Request{Model: "gpt-4"}); err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0] != "routing_success" {
		t.Fatalf("events = %v, want [routing_success]", sink.events)
	}
	if sink.data[0]["provider"] != "openai" {
		t.Errorf("routing_success provider = %v, want openai", sink.data[0]["provider"])
	}
}

func TestRouteEmitsFallbackAndSuccessWithFallbackProvider(t *testing.T) {
	primary := &stubProvider{
		name:   "primary",
		models: []string{"gpt-4"},
		genFunc: func(attempt int) (Response, error) {
			return Response{}, &gwerror.Timeout{Provider: "primary", Cause: errors.New("slow")}
		},
	}
	fallback := &stubProvider{name: "fallback", models: []string{"gpt-3.5"}}
	sink := &recordingAuditSink{}

	r, _ := NewRouter([]Provider{primary, fallback}, WithFallbackModel("gpt-3.5"), WithMaxRetries(0), WithAuditSink(sink))

	resp, err := r.Route(context.Background(), Request{Model: "gpt-4"})
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if resp.Metadata["used_fallback"] != true {
		t.Errorf("used_fallback = %v, want true", resp.Metadata["used_fallback"])
	}
	if len(sink.events) != 2 || sink.events[0] != "model_fallback_triggered" || sink.events[1] != "routing_success" {
		t.Fatalf("events = %v, want [model_fallback_triggered routing_success]", sink.events)
	}
	if sink.data[1]["provider"] != "fallback" {
		t.Errorf("routing_success provider = %v, want fallback", sink.data[1]["provider"])
	}
}

func TestRouteEmitsRoutingFailedWhenNoFallback(t *testing.T) {
	p := &stubProvider{
		name:   "broken",
		models: []string{"gpt-4"},
		genFunc: func(attempt int) (Response, error) {
			return Response{}, &gwerror.Auth{Provider: "broken", Cause: errors.New("bad key")}
		},
	}
	sink := &recordingAuditSink{}
	r, _ := NewRouter([]Provider{p}, WithAuditSink(sink))

	if _, err := r.Route(context.Background(), Request{Model: "gpt-4"}); err == nil {
		t.Fatal("expected an error")
	}
	if len(sink.events) != 1 || sink.events[0] != "routing_failed" {
		t.Fatalf("events = %v, want [routing_failed]", sink.events)
	}
}

func TestNewRouterRejectsEmptyProviders(t *testing.T) {
	_, err := NewRouter(nil)
	var noProviders *gwerror.NoProviders
	if !errors.As(err, &noProviders) {
		t.Fatalf("expected *gwerror.NoProviders, got %v", err)
	}
}

func TestRouteResolvesFirstMatchingProvider(t *testing.T) {
	p1 := &stubProvider{name: "anthropic", models: []string{"claude-3"}}
	p2 := &stubProvider{name: "openai", models: []string{"gpt-4"}}

	r, err := NewRouter([]Provider{p1, p2})
	if err != nil {
		t.Fatalf("NewRouter() error: %v", err)
	}

	resp, err := r.Route(context.Background(), Request{Model: "gpt-4", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if resp.Model != "gpt-4" {
		t.Errorf("resp.Model = %q, want gpt-4", resp.Model)
	}
	if p1.calls != 0 {
		t.Error("anthropic provider should not have been called for a gpt-4 request")
	}
	if p2.calls != 1 {
		t.Errorf("openai provider calls = %d, want 1", p2.calls)
	}
}

func TestRouteUnknownModelIsTerminal(t *testing.T) {
	p1 := &stubProvider{name: "anthropic", models: []string{"claude-3"}}
	r, _ := NewRouter([]Provider{p1})

	_, err := r.Route(context.Background(), Request{Model: "does-not-exist", Prompt: "hi"})
	var notFound *gwerror.ModelNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *gwerror.ModelNotFound, got %v", err)
	}
}

func TestRouteRetriesRetryableErrors(t *testing.T) {
	p := &stubProvider{
		name:   "flaky",
		models: []string{"gpt-4"},
		genFunc: func(attempt int) (Response, error) {
			if attempt < 3 {
				return Response{}, &gwerror.RateLimit{Provider: "flaky", Cause: errors.New("429")}
			}
			return Response{Text: "finally", Model: "gpt-4"}, nil
		},
	}
	r, _ := NewRouter([]Provider{p}, WithMaxRetries(5))

	resp, err := r.Route(context.Background(), Request{Model: "gpt-4"})
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if resp.Text != "finally" {
		t.Errorf("resp.Text = %q, want \"finally\"", resp.Text)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
}

func TestRouteDoesNotRetryTerminalErrors(t *testing.T) {
	p := &stubProvider{
		name:   "broken",
		models: []string{"gpt-4"},
		genFunc: func(attempt int) (Response, error) {
			return Response{}, &gwerror.Auth{Provider: "broken", Cause: errors.New("bad key")}
		},
	}
	r, _ := NewRouter([]Provider{p}, WithMaxRetries(5))

	_, err := r.Route(context.Background(), Request{Model: "gpt-4"})
	var authErr *gwerror.Auth
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *gwerror.Auth, got %v", err)
	}
	if p.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on terminal error)", p.calls)
	}
}

func TestRouteFallsBackToSecondaryModel(t *testing.T) {
	primary := &stubProvider{
		name:   "primary",
		models: []string{"gpt-4"},
		genFunc: func(attempt int) (Response, error) {
			return Response{}, &gwerror.Timeout{Provider: "primary", Cause: errors.New("slow")}
		},
	}
	fallback := &stubProvider{name: "fallback", models: []string{"gpt-3.5"}}

	r, _ := NewRouter([]Provider{primary, fallback}, WithFallbackModel("gpt-3.5"), WithMaxRetries(0))

	resp, err := r.Route(context.Background(), Request{Model: "gpt-4"})
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if resp.Model != "gpt-3.5" {
		t.Errorf("resp.Model = %q, want gpt-3.5 (fallback)", resp.Model)
	}
}

func TestRouteNoFallbackConfiguredReturnsOriginalError(t *testing.T) {
	primary := &stubProvider{
		name:   "primary",
		models: []string{"gpt-4"},
		genFunc: func(attempt int) (Response, error) {
			return Response{}, &gwerror.Timeout{Provider: "primary", Cause: errors.New("slow")}
		},
	}
	r, _ := NewRouter([]Provider{primary}, WithMaxRetries(0))

	_, err := r.Route(context.Background(), Request{Model: "gpt-4"})
	var timeout *gwerror.Timeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected *gwerror.Timeout, got %v", err)
	}
}

func TestGenerateWrapsRoute(t *testing.T) {
	p := &stubProvider{name: "p", catchAll: true, genFunc: func(attempt int) (Response, error) {
		return Response{Text: "generated text"}, nil
	}}
	r, _ := NewRouter([]Provider{p})

	text, err := r.Generate(context.Background(), "any-model", "prompt")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if text != "generated text" {
		t.Errorf("text = %q, want \"generated text\"", text)
	}
}

func TestSupportedModelsDeduplicatesAcrossProviders(t *testing.T) {
	p1 := &stubProvider{name: "p1", models: []string{"a", "b"}}
	p2 := &stubProvider{name: "p2", models: []string{"b", "c"}}
	r, _ := NewRouter([]Provider{p1, p2})

	models := r.SupportedModels()
	seen := map[string]bool{}
	for _, m := range models {
		if seen[m] {
			t.Errorf("model %q appeared more than once", m)
		}
		seen[m] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Errorf("SupportedModels() missing %q", want)
		}
	}
}

func TestProvidersReturnsNamesInOrder(t *testing.T) {
	p1 := &stubProvider{name: "first"}
	p2 := &stubProvider{name: "second"}
	r, _ := NewRouter([]Provider{p1, p2})

	names := r.Providers()
	if len(names) != 2 || names[0] != "first" || names[1] != "second" {
		t.Errorf("Providers() = %v, want [first second]", names)
	}
}
