package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Generator is the minimal surface AIJudgeModule needs from a model
// backend. internal/llm.Router satisfies it; it is declared locally so
// this package does not import internal/llm (policies are a lower-level
// concern than model routing).
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// AIJudgeModule renders a policy decision by asking a model to judge the
// prompt or response against free-form guidance text, in the spirit of
// the reference implementation's POLICY.md-driven ai-judge policies.
// The model is instructed to answer with exactly one of
// ALLOW/REDACT/ESCALATE/BLOCK on the first line, optionally followed by
// a reason. A response that does not parse to a known outcome is
// treated as a fail-closed evaluation error, which the engine converts
// to BLOCK.
type AIJudgeModule struct {
	name       string
	model      string
	guidance   string
	checkpoint Checkpoint
	generator  Generator
	logger     *slog.Logger
}

// NewAIJudgeModule constructs an AIJudgeModule. guidance is free-form
// text describing what the judge should look for (the Go equivalent of
// loading a POLICY.md file).
func NewAIJudgeModule(name, model, guidance string, checkpoint Checkpoint, generator Generator, logger *slog.Logger) *AIJudgeModule {
	if logger == nil {
		logger = slog.Default()
	}
	return &AIJudgeModule{
		name:       name,
		model:      model,
		guidance:   guidance,
		checkpoint: checkpoint,
		generator:  generator,
		logger:     logger.With("component", "policy.AIJudgeModule", "policy", name),
	}
}

// Name implements Module.
func (m *AIJudgeModule) Name() string { return m.name }

// Configure implements Module, replacing the guidance text and (when
// non-empty) the target model with the values in the bag.
func (m *AIJudgeModule) Configure(config map[string]interface{}) error {
	if g, ok := config["guidance"].(string); ok {
		m.guidance = g
	}
	if mdl, ok := config["model"].(string); ok && mdl != "" {
		m.model = mdl
	}
	return nil
}

// Evaluate implements Module.
func (m *AIJudgeModule) Evaluate(ctx Context) (Result, error) {
	if ctx.Checkpoint != m.checkpoint {
		return Result{Outcome: ALLOW, PolicyName: m.name}, nil
	}

	text := ctx.Prompt
	if m.checkpoint == CheckpointOutput {
		text = ctx.Response
	}

	prompt := fmt.Sprintf(
		"You are a compliance judge. Guidance:\n%s\n\nEvaluate the following text and "+
			"respond with exactly one of ALLOW, REDACT, ESCALATE, or BLOCK on the first "+
			"line, followed by a one-sentence reason, and optionally a third line "+
			"\"confidence: <0-1>\".\n\nText:\n%s",
		m.guidance, text,
	)

	raw, err := m.generator.Generate(context.Background(), m.model, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("ai judge generation failed: %w", err)
	}

	outcome, reason, confidence, err := parseJudgeResponse(raw)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Outcome:         outcome,
		PolicyName:      m.name,
		Reason:          reason,
		ConfidenceScore: confidence,
	}, nil
}

// parseJudgeResponse reads the verdict off the first line, the reason
// off the first non-empty line after it, and an optional "confidence:
// <float>" line anywhere after the verdict.
func parseJudgeResponse(raw string) (Outcome, string, float64, error) {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) == 0 {
		return ALLOW, "", 0, fmt.Errorf("ai judge returned an empty response")
	}
	verdict := strings.ToUpper(strings.TrimSpace(lines[0]))

	var reason string
	var confidence float64
	for _, line := range lines[1:] {
		trimmed := strings.TrimSpace(line)
		if lower := strings.ToLower(trimmed); strings.HasPrefix(lower, "confidence:") {
			if v, err := strconv.ParseFloat(strings.TrimSpace(trimmed[len("confidence:"):]), 64); err == nil {
				confidence = v
			}
			continue
		}
		if reason == "" && trimmed != "" {
			reason = trimmed
		}
	}

	switch verdict {
	case "ALLOW":
		return ALLOW, reason, confidence, nil
	case "REDACT":
		return REDACT, reason, confidence, nil
	case "ESCALATE":
		return ESCALATE, reason, confidence, nil
	case "BLOCK":
		return BLOCK, reason, confidence, nil
	default:
		return ALLOW, "", 0, fmt.Errorf("ai judge returned unparseable verdict: %q", lines[0])
	}
}
