package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentwarden/agentwarden/internal/config"
)

func TestSlackSenderSendPostsPayload(t *testing.T) {
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackSender(config.SlackAlertConfig{WebhookURL: srv.URL, Channel: "#governance"})

	err := s.Send(Alert{
		Type:      "policy_violation",
		Severity:  "critical",
		Title:     "Request blocked",
		Message:   "blocked by policy kw-block",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if received["channel"] != "#governance" {
		t.Errorf("channel = %v, want #governance", received["channel"])
	}
}

func TestSlackSenderNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSlackSender(config.SlackAlertConfig{WebhookURL: srv.URL})
	err := s.Send(Alert{Type: "t", Severity: "info", Timestamp: time.Now()})
	if err == nil {
		t.Fatal("expected an error for a non-200 slack response")
	}
}

func TestSlackSenderName(t *testing.T) {
	s := NewSlackSender(config.SlackAlertConfig{})
	if s.Name() != "slack" {
		t.Errorf("Name() = %q, want \"slack\"", s.Name())
	}
}

func TestSeverityEmojiAndColor(t *testing.T) {
	if severityEmoji("critical") == severityEmoji("info") {
		t.Error("expected distinct emoji for critical vs info severity")
	}
	if severityColor("warning") == severityColor("critical") {
		t.Error("expected distinct color for warning vs critical severity")
	}
}

func TestBuildSlackFieldsIncludesOptionalFields(t *testing.T) {
	fields := buildSlackFields(Alert{Type: "t", Severity: "warning", AgentID: "agent-1", SessionID: "sess-1"})
	if len(fields) != 4 {
		t.Errorf("len(fields) = %d, want 4 (type, severity, agent, session)", len(fields))
	}
}

func TestBuildSlackFieldsOmitsEmptyOptionalFields(t *testing.T) {
	fields := buildSlackFields(Alert{Type: "t", Severity: "warning"})
	if len(fields) != 2 {
		t.Errorf("len(fields) = %d, want 2 (type, severity only)", len(fields))
	}
}
