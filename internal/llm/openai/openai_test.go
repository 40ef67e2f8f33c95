package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/efebarandurmaz/askdoc/internal/llm"
)

func TestNew_Defaults(t *testing.T) {
	c := New("key", "gpt-4o-mini", "", "")
	if c.baseURL != defaultBaseURL {
		t.Fatalf("expected default base URL, got %s", c.baseURL)
	}
	if c.EmbedModel() != defaultEmbedModel {
		t.Fatalf("expected default embed model, got %s", c.EmbedModel())
	}
	if c.Name() != "openai" {
		t.Fatalf("expected name 'openai', got %s", c.Name())
	}
}

func TestComplete(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "llama3.1",
			"choices": []map[string]any{
				{
					"message":       map[string]string{"content": "Rest and fluids."},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 42, "completion_tokens": 7},
		})
	}))
	defer srv.Close()

	c := New("test-key", "llama3.1", srv.URL, "")
	temp := 0.3
	resp, err := c.Complete(context.Background(), &llm.Prompt{
		SystemPrompt: "Answer concisely.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "how to treat a cold?"}},
	}, &llm.RequestOptions{Temperature: &temp})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Rest and fluids." {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 7 {
		t.Fatalf("unexpected token counts: %d, %d", resp.InputTokens, resp.OutputTokens)
	}
	if resp.StopReason != "stop" {
		t.Fatalf("unexpected stop reason: %s", resp.StopReason)
	}

	// The system prompt becomes the first message.
	msgs := gotBody["messages"].([]any)
	first := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Fatalf("expected system message first, got %v", first)
	}
	if gotBody["temperature"] != 0.3 {
		t.Fatalf("expected temperature in request, got %v", gotBody["temperature"])
	}
}

func TestComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New("k", "m", srv.URL, "")
	_, err := c.Complete(context.Background(), &llm.Prompt{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	// Status text must surface so the retry layer can classify it.
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		// Out of order on purpose; Index drives placement.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	c := New("k", "m", srv.URL, "nomic-embed-text")
	vectors, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Fatalf("embeddings not reordered by index: %v", vectors)
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{1}},
			},
		})
	}))
	defer srv.Close()

	c := New("k", "m", srv.URL, "")
	if _, err := c.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for embedding count mismatch")
	}
}
