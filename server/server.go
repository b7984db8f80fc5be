// Package server exposes agent runs over HTTP. Events stream to the client
// as SSE frames; active runs can be stopped by ID.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LunaDeerTech/Agentex/agent"
	"github.com/LunaDeerTech/Agentex/agui"
	"github.com/LunaDeerTech/Agentex/logger"
	"github.com/LunaDeerTech/Agentex/reasoning"
)

// ============================================================================
// SERVER
// ============================================================================

// Options configures the server.
type Options struct {
	// DefaultAgentType is used when a run request names none.
	DefaultAgentType string

	// AgentOptions seed every run's agent construction.
	AgentOptions reasoning.Options

	// Registry resolves agent types. Defaults to the built-in variants.
	Registry *reasoning.Registry

	Logger *slog.Logger
}

// Server handles agent run requests.
type Server struct {
	defaultType string
	agentOpts   reasoning.Options
	registry    *reasoning.Registry
	logger      *slog.Logger
	router      chi.Router

	mu   sync.Mutex
	runs map[string]*agent.Context
}

// New creates a server.
func New(opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = reasoning.NewRegistry()
	}
	if opts.DefaultAgentType == "" {
		opts.DefaultAgentType = "react"
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	s := &Server{
		defaultType: opts.DefaultAgentType,
		agentOpts:   opts.AgentOptions,
		registry:    opts.Registry,
		logger:      opts.Logger,
		runs:        make(map[string]*agent.Context),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Route("/v1/agent", func(r chi.Router) {
		r.Get("/types", s.handleTypes)
		r.Post("/run", s.handleRun)
		r.Post("/run/{runID}/stop", s.handleStop)
	})
	s.router = r

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks serving on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("Server listening", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// ============================================================================
// RUN TRACKING
// ============================================================================

func (s *Server) trackRun(runID string, actx *agent.Context) {
	s.mu.Lock()
	s.runs[runID] = actx
	s.mu.Unlock()
}

func (s *Server) untrackRun(runID string) {
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}

func (s *Server) lookupRun(runID string) *agent.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[runID]
}

// ============================================================================
// HANDLERS
// ============================================================================

// RunAgentInput is the run request body.
type RunAgentInput struct {
	ThreadID       string          `json:"thread_id,omitempty"`
	RunID          string          `json:"run_id,omitempty"`
	Message        string          `json:"message"`
	AgentType      string          `json:"agent_type,omitempty"`
	ForwardedProps *ForwardedProps `json:"forwarded_props,omitempty"`
}

// ForwardedProps carries per-run overrides of the configured agent options.
type ForwardedProps struct {
	AgentType        string   `json:"agent_type,omitempty"`
	Temperature      float64  `json:"temperature,omitempty"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
	SystemPrompt     string   `json:"system_prompt,omitempty"`
	KnowledgeBaseIDs []string `json:"knowledge_base_ids,omitempty"`
	AlwaysRetrieve   *bool    `json:"always_retrieve,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"types": s.registry.Types()})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var input RunAgentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if input.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	agentType := input.AgentType
	opts := s.agentOpts
	if fp := input.ForwardedProps; fp != nil {
		if fp.AgentType != "" {
			agentType = fp.AgentType
		}
		if fp.Temperature != 0 {
			opts.Config.Temperature = fp.Temperature
		}
		if fp.MaxTokens != 0 {
			opts.Config.MaxTokens = fp.MaxTokens
		}
		if fp.SystemPrompt != "" {
			opts.Config.SystemPrompt = fp.SystemPrompt
		}
		if len(fp.KnowledgeBaseIDs) > 0 {
			opts.KnowledgeBaseIDs = fp.KnowledgeBaseIDs
		}
		if fp.AlwaysRetrieve != nil {
			opts.RAG.AlwaysRetrieve = *fp.AlwaysRetrieve
		}
	}
	if agentType == "" {
		agentType = s.defaultType
	}
	a, err := s.registry.Create(agentType, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	actx := agent.NewContext(input.ThreadID, input.RunID)
	s.trackRun(actx.RunID, actx)
	defer s.untrackRun(actx.RunID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	run := agent.Execute(r.Context(), a, input.Message, actx)

	clientGone := r.Context().Done()
	for event := range run.Events() {
		select {
		case <-clientGone:
			// Client disconnected: stop the run and drain the remainder.
			actx.Cancel()
			continue
		default:
		}

		frame, err := agui.ToSSE(event)
		if err != nil {
			s.logger.Error("Failed to encode event", "type", event.EventType(), "error", err)
			continue
		}
		if _, err := fmt.Fprint(w, frame); err != nil {
			actx.Cancel()
			continue
		}
		flusher.Flush()
	}

	if err := run.Err(); err != nil {
		s.logger.Warn("Run finished with error", "run_id", actx.RunID, "error", err)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	actx := s.lookupRun(runID)
	if actx == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return
	}

	actx.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": "cancelling",
	})
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
