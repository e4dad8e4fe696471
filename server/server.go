// Package server exposes the agent over HTTP: free-form and structured query
// endpoints plus a health check.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/maplemetrics/finagent/core"
	"github.com/maplemetrics/finagent/logging"
	"github.com/maplemetrics/finagent/output"
)

// Querier is the agent surface the HTTP layer needs.
type Querier interface {
	Invoke(ctx context.Context, prompt, threadID string) (string, error)
	InvokeStructured(ctx context.Context, prompt, threadID string) (*output.Record, error)
}

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	agent  Querier
	logger logging.Logger
}

// NewHandler creates an API handler around the agent.
func NewHandler(agent Querier, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Handler{agent: agent, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/agent/query", h.query)
		r.Post("/agent/query/structured", h.queryStructured)
	})

	return r
}

type queryRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"thread_id,omitempty"`
}

type queryResponse struct {
	Response string `json:"response"`
	ThreadID string `json:"thread_id"`
}

type structuredResponse struct {
	UserOutput      string `json:"user_output"`
	InsightsSummary string `json:"insights_summary,omitempty"`
	ChartingURL     string `json:"charting_url,omitempty"`
	ThreadID        string `json:"thread_id"`
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}

	answer, err := h.agent.Invoke(r.Context(), req.Prompt, req.ThreadID)
	if err != nil {
		h.writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Response: answer, ThreadID: threadIDOrDefault(req.ThreadID)})
}

func (h *Handler) queryStructured(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}

	record, err := h.agent.InvokeStructured(r.Context(), req.Prompt, req.ThreadID)
	if err != nil {
		h.writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, structuredResponse{
		UserOutput:      record.UserOutput,
		InsightsSummary: record.InsightsSummary,
		ChartingURL:     record.ChartingURL,
		ThreadID:        threadIDOrDefault(req.ThreadID),
	})
}

func (h *Handler) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return req, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return req, false
	}
	return req, true
}

// writeAgentError maps agent failures to HTTP statuses: a busy thread is a
// conflict the caller may retry, everything else is internal.
func (h *Handler) writeAgentError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, core.ErrThreadBusy) {
		status = http.StatusConflict
	}
	h.logger.Error("query failed", "status", status, "error", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func threadIDOrDefault(threadID string) string {
	if threadID == "" {
		return "1"
	}
	return threadID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
