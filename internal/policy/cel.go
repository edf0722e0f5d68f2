package policy

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"
)

// CELModule is a deterministic PolicyModule backed by a single
// pre-compiled CEL expression. It is the built-in rule-based policy type;
// PII/MNPI-style content detectors or other black-box heuristics
// implement Module directly instead and are registered alongside it.
//
// The CEL environment exposes prompt, response, checkpoint and user_id
// as variables. Simple keyword-stoplist rules are served by KeywordModule
// below rather than through CEL, since cel-go's native bindings operate
// on ref.Val rather than Go slices at that overload shape.
type CELModule struct {
	name    string
	outcome Outcome
	reason  string

	env *cel.Env
	ast *cel.Ast
	prg cel.Program

	logger *slog.Logger
}

// NewCELModule compiles expr against the standard policy CEL environment
// and returns a Module that evaluates to outcome (with reason) whenever
// expr is true, and ALLOW otherwise. expr must type-check to bool.
func NewCELModule(name string, expr string, outcome Outcome, reason string, logger *slog.Logger) (*CELModule, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("prompt", cel.StringType),
		cel.Variable("response", cel.StringType),
		cel.Variable("checkpoint", cel.StringType),
		cel.Variable("user_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}

	return &CELModule{
		name:    name,
		outcome: outcome,
		reason:  reason,
		env:     env,
		ast:     ast,
		prg:     prg,
		logger:  logger.With("component", "policy.CELModule", "policy", name),
	}, nil
}

// Name implements Module.
func (m *CELModule) Name() string { return m.name }

// Configure implements Module. CELModule has no runtime-configurable
// fields beyond what NewCELModule already compiled, so Configure is a
// no-op; the supplied keys are not inspected.
func (m *CELModule) Configure(config map[string]interface{}) error { return nil }

// Evaluate implements Module.
func (m *CELModule) Evaluate(ctx Context) (Result, error) {
	vars := map[string]interface{}{
		"prompt":     ctx.Prompt,
		"response":   ctx.Response,
		"checkpoint": string(ctx.Checkpoint),
		"user_id":    ctx.UserID,
	}

	out, _, err := m.prg.Eval(vars)
	if err != nil {
		return Result{}, fmt.Errorf("CEL evaluation error: %w", err)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return Result{}, fmt.Errorf("CEL expression returned non-bool: %T", out.Value())
	}

	if !matched {
		return Result{Outcome: ALLOW, PolicyName: m.name}, nil
	}

	return Result{
		Outcome:    m.outcome,
		PolicyName: m.name,
		Reason:     m.reason,
	}, nil
}

// containsAny reports whether text contains any of keywords,
// case-insensitively. It is KeywordModule's matching step.
func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// KeywordModule is a minimal deterministic Module that flags prompts or
// responses containing any of a configured keyword list. It stands in
// for the ported finance keyword-stoplist rules (ticker symbols, deal
// code names) from the reference implementation — a concrete,
// non-black-box example of the pluggable Module interface, distinct from
// opaque PII/MNPI detectors which remain out of scope per policy.
type KeywordModule struct {
	name      string
	keywords  []string
	checkpoint Checkpoint
	outcome   Outcome
	reason    string
}

// NewKeywordModule returns a Module that fires outcome when the text at
// checkpoint contains any keyword in keywords.
func NewKeywordModule(name string, keywords []string, checkpoint Checkpoint, outcome Outcome, reason string) *KeywordModule {
	return &KeywordModule{
		name:       name,
		keywords:   keywords,
		checkpoint: checkpoint,
		outcome:    outcome,
		reason:     reason,
	}
}

// Name implements Module.
func (m *KeywordModule) Name() string { return m.name }

// Configure implements Module, replacing the keyword list when the bag
// carries a "keywords" entry. Outcome and reason keep the values given
// to NewKeywordModule.
func (m *KeywordModule) Configure(config map[string]interface{}) error {
	if kws, ok := config["keywords"].([]string); ok {
		m.keywords = kws
	}
	return nil
}

// Evaluate implements Module.
func (m *KeywordModule) Evaluate(ctx Context) (Result, error) {
	if ctx.Checkpoint != m.checkpoint {
		return Result{Outcome: ALLOW, PolicyName: m.name}, nil
	}

	text := ctx.Prompt
	if m.checkpoint == CheckpointOutput {
		text = ctx.Response
	}

	if !containsAny(text, m.keywords) {
		return Result{Outcome: ALLOW, PolicyName: m.name}, nil
	}

	return Result{
		Outcome:    m.outcome,
		PolicyName: m.name,
		Reason:     m.reason,
	}, nil
}
