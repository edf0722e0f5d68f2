package alert

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentwarden/agentwarden/internal/config"
)

func TestWebhookSenderSendsSignedPayload(t *testing.T) {
	var sigHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sigHeader = r.Header.Get("X-AgentWarden-Signature")
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhookSender(config.WebhookAlertConfig{URL: srv.URL, Secret: "shh"})
	err := w.Send(Alert{Type: "request_blocked", Severity: "critical", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if sigHeader == "" {
		t.Error("expected a signature header when a secret is configured")
	}
}

func TestWebhookSenderOmitsSignatureWithoutSecret(t *testing.T) {
	var sigHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sigHeader = r.Header.Get("X-AgentWarden-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhookSender(config.WebhookAlertConfig{URL: srv.URL})
	if err := w.Send(Alert{Type: "t", Severity: "info", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if sigHeader != "" {
		t.Errorf("sigHeader = %q, want empty when no secret is configured", sigHeader)
	}
}

func TestWebhookSenderErrorStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewWebhookSender(config.WebhookAlertConfig{URL: srv.URL})
	err := w.Send(Alert{Type: "t", Severity: "info", Timestamp: time.Now()})
	if err == nil {
		t.Fatal("expected an error for a 400 webhook response")
	}
}

func TestComputeHMACIsDeterministic(t *testing.T) {
	a := computeHMAC([]byte("payload"), []byte("key"))
	b := computeHMAC([]byte("payload"), []byte("key"))
	if a != b {
		t.Error("computeHMAC should be deterministic for the same input and key")
	}
	c := computeHMAC([]byte("payload"), []byte("different-key"))
	if a == c {
		t.Error("computeHMAC should differ for different keys")
	}
}
