package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient_NoAPIKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "env-key")
	c, err := NewClient(ClientConfig{})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.Model() != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, c.Model())
	}
	if c.temperature != defaultTemperature {
		t.Errorf("expected temperature %v, got %v", defaultTemperature, c.temperature)
	}
}

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestGenerate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "test-model",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "  That sounds hard. I'm here with you.  "}}]
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model", MaxRetries: -1})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Generate(context.Background(), "be kind", "I had a rough day")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "That sounds hard. I'm here with you." {
		t.Errorf("unexpected reply %q", out)
	}
	if got.Model != "test-model" || got.Temperature != 0.6 {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != "be kind" ||
		got.Messages[1].Role != "user" || got.Messages[1].Content != "I had a rough day" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
}

func TestGenerate_EmptyAndError(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL, MaxRetries: -1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Generate(context.Background(), "s", "u"); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}

	status = http.StatusBadGateway
	if _, err := c.Generate(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error from failing endpoint")
	}
}

func TestGeneratorFunc(t *testing.T) {
	var g Generator = GeneratorFunc(func(_ context.Context, system, user string) (string, error) {
		return system + "|" + user, nil
	})
	out, _ := g.Generate(context.Background(), "a", "b")
	if out != "a|b" {
		t.Fatalf("got %q", out)
	}
}
