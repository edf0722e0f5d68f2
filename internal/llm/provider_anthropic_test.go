package llm

import "testing"

func TestAnthropicProviderName(t *testing.T) {
	p := NewAnthropicProvider("sk-test", nil, nil)
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q, want \"anthropic\"", p.Name())
	}
}

func TestAnthropicProviderSupportsConfiguredModels(t *testing.T) {
	p := NewAnthropicProvider("sk-test", []string{"claude-3-opus"}, nil)
	if !p.SupportsModel("claude-3-opus") {
		t.Error("expected SupportsModel to match a configured model name")
	}
}

func TestAnthropicProviderSupportsModelsByPrefix(t *testing.T) {
	p := NewAnthropicProvider("sk-test", nil, nil)
	if !p.SupportsModel("claude-3-5-sonnet-latest") {
		t.Error("expected SupportsModel to match any claude- prefixed model even if not explicitly configured")
	}
	if p.SupportsModel("gpt-4") {
		t.Error("SupportsModel should not match a non-claude model")
	}
}

func TestAnthropicProviderSupportedModelsReturnsConfigured(t *testing.T) {
	p := NewAnthropicProvider("sk-test", []string{"claude-3-opus", "claude-3-haiku"}, nil)
	models := p.SupportedModels()
	if len(models) != 2 {
		t.Errorf("len(SupportedModels()) = %d, want 2", len(models))
	}
}
