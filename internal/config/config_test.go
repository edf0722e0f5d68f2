package config

import "testing"

func TestDefaultConfigIsFailClosedByDefault(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.FailMode != "closed" {
		t.Errorf("FailMode = %q, want \"closed\"", cfg.Server.FailMode)
	}
}

func TestDefaultConfigEnablesLocalProvider(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Router.Local.Enabled {
		t.Error("expected the local provider to be enabled by default for zero-config startup")
	}
	if cfg.Router.Local.BaseURL == "" {
		t.Error("expected a default local provider base URL")
	}
}

func TestDefaultConfigHasNoActivePoliciesOrRemoteProviders(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.Policies) != 0 {
		t.Errorf("len(Policies) = %d, want 0 (policies come from config file, not hardcoded defaults)", len(cfg.Policies))
	}
	if cfg.Router.Anthropic.Enabled {
		t.Error("Anthropic provider should not be enabled by default (no API key)")
	}
	if cfg.Router.OpenAI.Enabled {
		t.Error("OpenAI provider should not be enabled by default (no API key)")
	}
}

func TestDefaultConfigReviewDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Review.DSN != "" {
		t.Error("expected no Postgres DSN by default (HITL review queue is opt-in)")
	}
	if cfg.Review.DequeueBatch != 1 {
		t.Errorf("DequeueBatch = %d, want 1", cfg.Review.DequeueBatch)
	}
	if cfg.Review.LockDuration <= 0 {
		t.Error("expected a positive default lock duration")
	}
	if cfg.Review.BypassMaxAge <= 0 {
		t.Error("expected a positive default bypass max age")
	}
}

func TestDefaultConfigStorageUsesSQLite(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want \"sqlite\"", cfg.Storage.Driver)
	}
	if cfg.Storage.Path == "" {
		t.Error("expected a default storage path")
	}
}
