// Package server exposes the question-answering pipeline over HTTP: a
// single web page plus a JSON and NDJSON API.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/matsen/paperqa/internal/history"
	"github.com/matsen/paperqa/internal/rag"
)

//go:embed static/index.html
var static embed.FS

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Options configures a Server.
type Options struct {
	Pipeline *rag.Pipeline
	History  *history.Store // nil disables session history
	Logger   *slog.Logger

	RateLimit float64 // Requests per second across all clients; 0 disables
	RateBurst int
}

// Server handles HTTP requests. It holds no per-request state.
type Server struct {
	pipeline *rag.Pipeline
	history  *history.Store
	logger   *slog.Logger
	handler  http.Handler
}

// New creates a server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		pipeline: opts.Pipeline,
		history:  opts.History,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("POST /api/ask/stream", s.handleAskStream)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}/transcript", s.handleTranscript)

	s.handler = Chain(mux,
		Recover(logger),
		Logger(logger),
		OTel("paperqa"),
		RateLimit(opts.RateLimit, opts.RateBurst),
	)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// AskRequest is the JSON body of POST /api/ask and /api/ask/stream.
type AskRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// AskResponse is the JSON response of POST /api/ask.
type AskResponse struct {
	SessionID string       `json:"session_id"`
	Answer    string       `json:"answer"`
	Sources   []rag.Source `json:"sources"`
	Model     string       `json:"model,omitempty"`
	SmallTalk bool         `json:"small_talk,omitempty"`
	Flagged   bool         `json:"flagged,omitempty"`
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// HealthResponse is the JSON response of GET /api/health.
type HealthResponse struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
	Model  string `json:"model"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "page unavailable", "")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Model: s.pipeline.Model()}
	if idx := s.pipeline.Snapshot().Load(); idx != nil {
		resp.Chunks = idx.Count()
	} else {
		resp.Status = "no_index"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}

	res, err := s.pipeline.Answer(r.Context(), req.Question)
	if err != nil {
		status, stage := statusFor(err)
		writeError(w, status, err.Error(), stage)
		return
	}

	s.record(r.Context(), req.SessionID, res)
	writeJSON(w, http.StatusOK, AskResponse{
		SessionID: req.SessionID,
		Answer:    res.Answer,
		Sources:   res.Sources,
		Model:     res.Model,
		SmallTalk: res.SmallTalk,
		Flagged:   res.Flagged,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled", "")
		return
	}
	sessions, err := s.history.Sessions(r.Context(), 50)
	if err != nil {
		s.logger.Error("listing sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "listing sessions failed", "")
		return
	}
	if sessions == nil {
		sessions = []history.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled", "")
		return
	}
	id := r.PathValue("id")
	if !history.ValidSessionID(id) {
		writeError(w, http.StatusBadRequest, "invalid session ID", "")
		return
	}

	text, err := s.history.Transcript(r.Context(), id)
	if errors.Is(err, history.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}
	if err != nil {
		s.logger.Error("rendering transcript", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "transcript unavailable", "")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="paperqa-%s.txt"`, id))
	fmt.Fprint(w, text)
}

// decodeAsk reads an AskRequest and assigns a session ID when the client
// has none. It writes the error reply itself and reports false on failure.
func (s *Server) decodeAsk(w http.ResponseWriter, r *http.Request) (AskRequest, bool) {
	var req AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return req, false
	}
	if req.SessionID == "" {
		req.SessionID = history.NewSessionID()
	} else if !history.ValidSessionID(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid session ID", "")
		return req, false
	}
	return req, true
}

// record stores a finished answer. History is best effort: a failure is
// logged and the answer is still returned.
func (s *Server) record(ctx context.Context, sessionID string, res *rag.QueryResult) {
	if s.history == nil {
		return
	}
	if err := s.history.Record(context.WithoutCancel(ctx), sessionID, res); err != nil {
		s.logger.Warn("recording history", "session", sessionID, "error", err)
	}
}

// statusFor maps a pipeline error to an HTTP status and the failed stage.
func statusFor(err error) (int, string) {
	var qf *rag.QueryFailedError
	if !errors.As(err, &qf) {
		return http.StatusInternalServerError, ""
	}
	switch qf.Stage {
	case rag.StageReceived:
		return http.StatusUnprocessableEntity, string(qf.Stage)
	case rag.StageCallingModel:
		return http.StatusBadGateway, string(qf.Stage)
	default:
		return http.StatusInternalServerError, string(qf.Stage)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, stage string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Stage: stage})
}
