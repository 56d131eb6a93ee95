package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/matsen/paperqa/internal/rag"
)

// Stream event types, one JSON object per line.
const (
	EventSources = "sources"
	EventToken   = "token"
	EventDone    = "done"
	EventError   = "error"
)

// Event is one line of the /api/ask/stream response.
type Event struct {
	Type      string       `json:"type"`
	SessionID string       `json:"session_id,omitempty"`
	Sources   []rag.Source `json:"sources,omitempty"`
	Text      string       `json:"text,omitempty"`
	Answer    string       `json:"answer,omitempty"`
	Model     string       `json:"model,omitempty"`
	Error     string       `json:"error,omitempty"`
	Stage     string       `json:"stage,omitempty"`
}

// handleAskStream answers as application/x-ndjson: a sources event, token
// events as the model produces them, then exactly one done or error event.
// Failures before the model call get an error status; later failures
// arrive as an error event on a 200 response.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}

	stream, err := s.pipeline.Stream(r.Context(), req.Question)
	if err != nil {
		status, stage := statusFor(err)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(Event{Type: EventError, Error: err.Error(), Stage: stage})
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	send := func(ev Event) error {
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	sources := stream.Sources()
	if sources == nil {
		sources = []rag.Source{}
	}
	if err := send(Event{Type: EventSources, SessionID: req.SessionID, Sources: sources}); err != nil {
		return
	}

	for stream.Next() {
		if err := send(Event{Type: EventToken, Text: stream.Text()}); err != nil {
			// Client went away; Close aborts the model call.
			return
		}
	}

	if err := stream.Err(); err != nil {
		ev := Event{Type: EventError, Error: err.Error()}
		var qf *rag.QueryFailedError
		if errors.As(err, &qf) {
			ev.Stage = string(qf.Stage)
		}
		send(ev)
		return
	}

	res := stream.Result()
	s.record(r.Context(), req.SessionID, res)
	send(Event{Type: EventDone, SessionID: req.SessionID, Answer: res.Answer, Model: res.Model})
}
