package policy

import (
	"context"
	"fmt"
	"testing"
)

type recordingGenerator struct {
	response string
	err      error
	lastModel  string
	lastPrompt string
}

func (g *recordingGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	g.lastModel = model
	g.lastPrompt = prompt
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func TestAIJudgeModuleParsesVerdict(t *testing.T) {
	gen := &recordingGenerator{response: "BLOCK\nthis request discusses insider information"}
	m := NewAIJudgeModule("judge-1", "gpt-4", "flag MNPI discussion", CheckpointInput, gen, nil)

	result, err := m.Evaluate(Context{Checkpoint: CheckpointInput, Prompt: "tell me about the upcoming merger"})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Outcome != BLOCK {
		t.Errorf("Outcome = %v, want BLOCK", result.Outcome)
	}
	if result.Reason != "this request discusses insider information" {
		t.Errorf("Reason = %q", result.Reason)
	}
	if gen.lastModel != "gpt-4" {
		t.Errorf("model passed to generator = %q, want gpt-4", gen.lastModel)
	}
}

func TestAIJudgeModuleIgnoresOtherCheckpoint(t *testing.T) {
	gen := &recordingGenerator{response: "BLOCK\nx"}
	m := NewAIJudgeModule("judge-1", "gpt-4", "guidance", CheckpointOutput, gen, nil)

	result, err := m.Evaluate(Context{Checkpoint: CheckpointInput, Prompt: "hello"})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Outcome != ALLOW {
		t.Errorf("Outcome = %v, want ALLOW (checkpoint mismatch, generator should not even be consulted for a decision)", result.Outcome)
	}
}

func TestAIJudgeModulePropagatesGeneratorError(t *testing.T) {
	gen := &recordingGenerator{err: fmt.Errorf("provider unreachable")}
	m := NewAIJudgeModule("judge-1", "gpt-4", "guidance", CheckpointInput, gen, nil)

	_, err := m.Evaluate(Context{Checkpoint: CheckpointInput, Prompt: "hello"})
	if err == nil {
		t.Fatal("expected an error when the generator fails")
	}
}

func TestAIJudgeModuleUnparseableVerdictIsError(t *testing.T) {
	gen := &recordingGenerator{response: "MAYBE, I'm not sure"}
	m := NewAIJudgeModule("judge-1", "gpt-4", "guidance", CheckpointInput, gen, nil)

	_, err := m.Evaluate(Context{Checkpoint: CheckpointInput, Prompt: "hello"})
	if err == nil {
		t.Fatal("expected an error for an unparseable verdict so the engine can fail closed")
	}
}

func TestParseJudgeResponseAllOutcomes(t *testing.T) {
	cases := []struct {
		raw  string
		want Outcome
	}{
		{"ALLOW\nfine", ALLOW},
		{"redact\nlowercase should still parse", REDACT},
		{"ESCALATE", ESCALATE},
		{"BLOCK\nbad", BLOCK},
	}
	for _, c := range cases {
		outcome, _, _, err := parseJudgeResponse(c.raw)
		if err != nil {
			t.Errorf("parseJudgeResponse(%q) error: %v", c.raw, err)
			continue
		}
		if outcome != c.want {
			t.Errorf("parseJudgeResponse(%q) = %v, want %v", c.raw, outcome, c.want)
		}
	}
}

func TestAIJudgeModuleParsesOptionalConfidence(t *testing.T) {
	gen := &recordingGenerator{response: "ESCALATE\nambiguous request\nconfidence: 0.62"}
	m := NewAIJudgeModule("judge-1", "gpt-4", "guidance", CheckpointInput, gen, nil)

	result, err := m.Evaluate(Context{Checkpoint: CheckpointInput, Prompt: "hello"})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.ConfidenceScore != 0.62 {
		t.Errorf("ConfidenceScore = %v, want 0.62", result.ConfidenceScore)
	}
	if result.Reason != "ambiguous request" {
		t.Errorf("Reason = %q, want \"ambiguous request\"", result.Reason)
	}
}

func TestAIJudgeModuleConfigureUpdatesModelAndGuidance(t *testing.T) {
	gen := &recordingGenerator{response: "ALLOW"}
	m := NewAIJudgeModule("judge-1", "gpt-4", "old guidance", CheckpointInput, gen, nil)

	if err := m.Configure(map[string]interface{}{"model": "gpt-4-turbo", "guidance": "new guidance"}); err != nil {
		t.Fatalf("Configure() error: %v", err)
	}

	m.Evaluate(Context{Checkpoint: CheckpointInput, Prompt: "hi"})
	if gen.lastModel != "gpt-4-turbo" {
		t.Errorf("model = %q, want gpt-4-turbo after Configure()", gen.lastModel)
	}
}
