package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/efebarandurmaz/askdoc/internal/rag"
)

type mockEngine struct {
	answer      *rag.Answer
	err         error
	calls       int
	lastQuery   string
	lastHistory []rag.Turn
}

func (m *mockEngine) Ask(ctx context.Context, query string, history []rag.Turn) (*rag.Answer, error) {
	m.calls++
	m.lastQuery = query
	m.lastHistory = history
	if m.err != nil {
		return nil, m.err
	}
	return m.answer, nil
}

type allowAll struct{}

func (allowAll) Verify(string) bool { return true }

type denyAll struct{}

func (denyAll) Verify(string) bool { return false }

func postAsk(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.handleAsk(w, req)
	return w
}

func TestHandleAsk(t *testing.T) {
	engine := &mockEngine{answer: &rag.Answer{
		Text: "Fluids and rest.",
		Citations: []rag.Citation{
			{Source: "medical_data.json", Question: "How to treat a cold?", ID: "doc-1", UpdatedAt: "unknown"},
		},
	}}
	s := NewServer(nil, engine, allowAll{}, nil)

	w := postAsk(t, s, `{"query": "how do I treat a cold?", "token": "t"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp askResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Response != "Fluids and rest." {
		t.Fatalf("unexpected response text: %q", resp.Response)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].ID != "doc-1" {
		t.Fatalf("unexpected citations: %+v", resp.Citations)
	}
}

func TestHandleAsk_MethodNotAllowed(t *testing.T) {
	s := NewServer(nil, &mockEngine{}, allowAll{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ask", nil)
	w := httptest.NewRecorder()
	s.handleAsk(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestHandleAsk_BadBody(t *testing.T) {
	s := NewServer(nil, &mockEngine{}, allowAll{}, nil)

	if w := postAsk(t, s, `{not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleAsk_MissingQuery(t *testing.T) {
	s := NewServer(nil, &mockEngine{}, allowAll{}, nil)

	if w := postAsk(t, s, `{"token": "t"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleAsk_Unauthorized(t *testing.T) {
	engine := &mockEngine{}
	s := NewServer(nil, engine, denyAll{}, nil)

	w := postAsk(t, s, `{"query": "q", "token": "wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	// A rejected request must never reach the engine.
	if engine.calls != 0 {
		t.Fatalf("engine called %d times for unauthorized request", engine.calls)
	}
}

func TestHandleAsk_NoVerifierRejects(t *testing.T) {
	s := NewServer(nil, &mockEngine{}, nil, nil)

	if w := postAsk(t, s, `{"query": "q", "token": "t"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a verifier, got %d", w.Code)
	}
}

func TestHandleAsk_EngineUnavailable(t *testing.T) {
	s := NewServer(nil, nil, allowAll{}, nil)

	if w := postAsk(t, s, `{"query": "q", "token": "t"}`); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleAsk_EngineFailure(t *testing.T) {
	engine := &mockEngine{err: errors.New("provider down")}
	s := NewServer(nil, engine, allowAll{}, nil)

	if w := postAsk(t, s, `{"query": "q", "token": "t"}`); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestHandleAsk_HistoryPairedTurns(t *testing.T) {
	engine := &mockEngine{answer: &rag.Answer{Text: "ok"}}
	s := NewServer(nil, engine, allowAll{}, nil)

	w := postAsk(t, s, `{
		"query": "and for children?",
		"token": "t",
		"history": [{"question": "how to treat a cold?", "answer": "Fluids and rest."}]
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(engine.lastHistory) != 1 {
		t.Fatalf("expected 1 history turn, got %d", len(engine.lastHistory))
	}
	if engine.lastHistory[0].Question != "how to treat a cold?" {
		t.Fatalf("unexpected history question: %q", engine.lastHistory[0].Question)
	}
	if engine.lastHistory[0].Answer != "Fluids and rest." {
		t.Fatalf("unexpected history answer: %q", engine.lastHistory[0].Answer)
	}
}

func TestHandleAsk_HistoryLegacyStrings(t *testing.T) {
	engine := &mockEngine{answer: &rag.Answer{Text: "ok"}}
	s := NewServer(nil, engine, allowAll{}, nil)

	w := postAsk(t, s, `{
		"query": "next",
		"token": "t",
		"history": ["first question", "second question"]
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(engine.lastHistory) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(engine.lastHistory))
	}
	if engine.lastHistory[0].Question != "first question" || engine.lastHistory[0].Answer != "" {
		t.Fatalf("unexpected legacy turn: %+v", engine.lastHistory[0])
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/ask", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS headers on preflight")
	}
}

func TestLoggingMiddleware_SetsRequestID(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected X-Request-Id header")
	}
	if w.Code != http.StatusTeapot {
		t.Fatalf("expected status 418 to pass through, got %d", w.Code)
	}
}
