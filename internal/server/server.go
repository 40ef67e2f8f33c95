// Package server exposes the query pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/askdoc/internal/auth"
	"github.com/efebarandurmaz/askdoc/internal/rag"
)

// Asker is the server-facing subset of the query engine.
type Asker interface {
	Ask(ctx context.Context, query string, history []rag.Turn) (*rag.Answer, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Addr string // e.g. ":8080"
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{Addr: ":8080"}
}

// Server is the askdoc HTTP API server.
type Server struct {
	config   *Config
	engine   Asker
	verifier auth.Verifier
	health   *HealthServer
	server   *http.Server
}

// NewServer creates the API server. engine may be nil, in which case queries
// are refused with 503 until a valid index exists.
func NewServer(config *Config, engine Asker, verifier auth.Verifier, health *HealthServer) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		config:   config,
		engine:   engine,
		verifier: verifier,
		health:   health,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ask", s.handleAsk)
	if health != nil {
		mux.Handle("/health", health.Handler())
		mux.Handle("/ready", health.Handler())
		mux.Handle("/live", health.Handler())
	}

	handler := corsMiddleware(loggingMiddleware(mux))

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving the API.
func (s *Server) Start() error {
	slog.Info("starting API server", "addr", s.config.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("stopping API server")
	return s.server.Shutdown(ctx)
}

// askRequest is the /api/ask request body. History accepts both the legacy
// shape (a JSON array of user utterances) and paired turns.
type askRequest struct {
	Query   string         `json:"query"`
	History []HistoryEntry `json:"history"`
	Token   string         `json:"token"`
}

// HistoryEntry is one prior conversation turn. It unmarshals from either a
// bare string (a past user utterance with no recorded answer) or a
// {"question": ..., "answer": ...} object.
type HistoryEntry struct {
	rag.Turn
}

func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		h.Turn = rag.Turn{Question: s}
		return nil
	}
	var turn rag.Turn
	if err := json.Unmarshal(data, &turn); err != nil {
		return err
	}
	h.Turn = turn
	return nil
}

// askResponse is the /api/ask response body.
type askResponse struct {
	Response  string         `json:"response"`
	Citations []rag.Citation `json:"citations"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	// Verification happens before the engine is touched at all.
	if s.verifier == nil || !s.verifier.Verify(req.Token) {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if s.engine == nil {
		respondError(w, http.StatusServiceUnavailable, "index not loaded")
		return
	}

	history := make([]rag.Turn, len(req.History))
	for i, h := range req.History {
		history[i] = h.Turn
	}

	answer, err := s.engine.Ask(r.Context(), req.Query, history)
	if err != nil {
		slog.Error("query failed", "error", err)
		respondError(w, http.StatusBadGateway, "answer generation failed")
		return
	}

	respondJSON(w, http.StatusOK, askResponse{
		Response:  answer.Text,
		Citations: answer.Citations,
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// corsMiddleware allows cross-origin requests from the web frontend.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request with a generated request ID.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start).Round(time.Millisecond))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
