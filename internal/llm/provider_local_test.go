package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentwarden/agentwarden/internal/gwerror"
)

func TestLocalProviderGenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req localGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if req.Model != "llama3" || req.Prompt != "hello" {
			t.Errorf("unexpected request body: %+v", req)
		}
		json.NewEncoder(w).Encode(localGenerateResponse{Response: "hi there"})
	}))
	defer srv.Close()

	p := NewLocalProvider(srv.URL, nil)
	resp, err := p.Generate(context.Background(), Request{Model: "llama3", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if resp.Text != "hi there" {
		t.Errorf("resp.Text = %q, want \"hi there\"", resp.Text)
	}
}

func TestLocalProviderClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	p := NewLocalProvider(srv.URL, nil)
	_, err := p.Generate(context.Background(), Request{Model: "llama3", Prompt: "hello"})

	var rateLimit *gwerror.RateLimit
	if !errors.As(err, &rateLimit) {
		t.Fatalf("expected *gwerror.RateLimit, got %v", err)
	}
}

func TestLocalProviderClassifiesModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewLocalProvider(srv.URL, nil)
	_, err := p.Generate(context.Background(), Request{Model: "nonexistent-model"})

	var notFound *gwerror.ModelNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *gwerror.ModelNotFound, got %v", err)
	}
}

func TestLocalProviderSupportsAnyModel(t *testing.T) {
	p := NewLocalProvider("http://localhost:11434", nil)
	if !p.SupportsModel("anything-at-all") {
		t.Error("LocalProvider should claim support for any model name")
	}
}

func TestLocalProviderPropagatesDaemonErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(localGenerateResponse{Error: "model failed to load"})
	}))
	defer srv.Close()

	p := NewLocalProvider(srv.URL, nil)
	_, err := p.Generate(context.Background(), Request{Model: "llama3"})

	var other *gwerror.ProviderOther
	if !errors.As(err, &other) {
		t.Fatalf("expected *gwerror.ProviderOther, got %v", err)
	}
}
