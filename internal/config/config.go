// Package config defines the gateway's configuration schema and loads it
// from YAML with fsnotify-driven hot reload for the policy set.
package config

import (
	"time"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Review   ReviewConfig   `yaml:"review"`
	Router   RouterConfig   `yaml:"router"`
	Policies []PolicyConfig `yaml:"policies"`
	Alerts   AlertsConfig   `yaml:"alerts"`

	PoliciesDir string `yaml:"policies_dir"`
}

// ServerConfig controls the HTTP adapter.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	CORS     bool   `yaml:"cors"`
	// FailMode is parsed and defaults to "closed", but no component reads
	// it: a policy module error always yields BLOCK, whatever its value.
	FailMode string `yaml:"fail_mode"`

	// AuthToken, when set, is the HMAC secret that bearer JWTs on
	// /api/hitl/* must be signed with. Empty disables reviewer
	// authentication entirely.
	AuthToken string `yaml:"auth_token"`
}

// StorageConfig selects and configures the audit event sink.
type StorageConfig struct {
	Driver string `yaml:"driver"` // currently only "sqlite"
	Path   string `yaml:"path"`
}

// ReviewConfig configures the HITL review queue's Postgres backing store.
type ReviewConfig struct {
	DSN             string        `yaml:"dsn"`
	LockDuration    time.Duration `yaml:"lock_duration"`
	BypassMaxAge    time.Duration `yaml:"bypass_max_age"`
	DequeueBatch    int           `yaml:"dequeue_batch"`
}

// RouterConfig configures the model router and its providers.
type RouterConfig struct {
	FallbackModel string                   `yaml:"fallback_model"`
	MaxRetries    int                      `yaml:"max_retries"`
	Anthropic     AnthropicProviderConfig  `yaml:"anthropic"`
	OpenAI        OpenAIProviderConfig     `yaml:"openai"`
	Local         LocalProviderConfig      `yaml:"local"`
}

type AnthropicProviderConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKey  string   `yaml:"api_key"`
	Models  []string `yaml:"models"`
}

type OpenAIProviderConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"` // set for OpenAI-compatible gateways
	Models  []string `yaml:"models"`
}

type LocalProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// PolicyConfig declares one policy module instance. Type selects the
// module implementation (cel, keyword, ai-judge); Condition/Keywords/
// Prompt are interpreted according to Type. Active policies are loaded
// into the engine in file order.
type PolicyConfig struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"` // cel, keyword, ai-judge
	Checkpoint string   `yaml:"checkpoint"` // input or output, for keyword/ai-judge; anything but "output" means input
	Outcome    string   `yaml:"outcome"`
	Reason     string   `yaml:"reason"`
	Condition  string   `yaml:"condition"` // CEL expression, for type=cel
	Keywords   []string `yaml:"keywords"`  // for type=keyword
	Model      string   `yaml:"model"`     // for type=ai-judge
	Guidance   string   `yaml:"guidance"`  // for type=ai-judge
	Active     bool     `yaml:"active"`
}

type AlertsConfig struct {
	Slack   SlackAlertConfig   `yaml:"slack"`
	Webhook WebhookAlertConfig `yaml:"webhook"`
}

type SlackAlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type WebhookAlertConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// DefaultConfig returns a config with sensible defaults for zero-config
// startup against a local model provider and an on-disk audit log.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     6777,
			LogLevel: "info",
			CORS:     false,
			FailMode: "closed",
		},
		PoliciesDir: "./policies",
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./gateway_audit.db",
		},
		Review: ReviewConfig{
			LockDuration: 10 * time.Minute,
			BypassMaxAge: 24 * time.Hour,
			DequeueBatch: 1,
		},
		Router: RouterConfig{
			MaxRetries: 3,
			Local: LocalProviderConfig{
				Enabled: true,
				BaseURL: "http://localhost:11434",
			},
		},
	}
}
