package policy

import (
	"fmt"
	"log/slog"

	"github.com/agentwarden/agentwarden/internal/config"
)

// outcomeFromString parses a config outcome string, spelled all upper- or
// all lower-case, into an Outcome, defaulting to BLOCK for anything
// unrecognized (mixed case included) — a
// misconfigured policy should fail closed, not silently become ALLOW.
func outcomeFromString(s string) Outcome {
	switch s {
	case "ALLOW", "allow":
		return ALLOW
	case "REDACT", "redact":
		return REDACT
	case "ESCALATE", "escalate":
		return ESCALATE
	default:
		return BLOCK
	}
}

func checkpointFromString(s string) Checkpoint {
	if s == string(CheckpointOutput) {
		return CheckpointOutput
	}
	return CheckpointInput
}

// BuildFromConfig constructs one Module per entry in cfgs and registers
// each into registry, returning the ordered list of active policy names
// ready to hand to Engine.LoadPolicies. generator is only required if any
// entry has Type "ai-judge"; it may be nil otherwise.
func BuildFromConfig(registry *Registry, cfgs []config.PolicyConfig, generator Generator, logger *slog.Logger) ([]string, error) {
	var active []string

	for _, c := range cfgs {
		module, err := buildModule(c, generator, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build policy %q: %w", c.Name, err)
		}

		if err := module.Configure(optionBag(c)); err != nil {
			return nil, fmt.Errorf("failed to configure policy %q: %w", c.Name, err)
		}

		if err := registry.Register(c.Name, module); err != nil {
			return nil, err
		}

		if c.Active {
			active = append(active, c.Name)
		}
	}

	return active, nil
}

// optionBag translates a config.PolicyConfig into the map[string]interface{}
// shape Module.Configure expects, so the real config-loading path exercises
// the same Configure call hot-reload uses instead of only setting fields
// through each module's typed constructor.
func optionBag(c config.PolicyConfig) map[string]interface{} {
	bag := map[string]interface{}{
		"checkpoint": c.Checkpoint,
		"outcome":    c.Outcome,
		"reason":     c.Reason,
	}
	switch c.Type {
	case "cel":
		bag["condition"] = c.Condition
	case "keyword":
		bag["keywords"] = c.Keywords
	case "ai-judge":
		bag["model"] = c.Model
		bag["guidance"] = c.Guidance
	}
	return bag
}

func buildModule(c config.PolicyConfig, generator Generator, logger *slog.Logger) (Module, error) {
	switch c.Type {
	case "cel":
		return NewCELModule(c.Name, c.Condition, outcomeFromString(c.Outcome), c.Reason, logger)
	case "keyword":
		return NewKeywordModule(c.Name, c.Keywords, checkpointFromString(c.Checkpoint), outcomeFromString(c.Outcome), c.Reason), nil
	case "ai-judge":
		return NewAIJudgeModule(c.Name, c.Model, c.Guidance, checkpointFromString(c.Checkpoint), generator, logger), nil
	default:
		return nil, fmt.Errorf("unknown policy type %q", c.Type)
	}
}
