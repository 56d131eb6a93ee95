package rag

import (
	"context"
	"strings"

	"github.com/matsen/paperqa/internal/llm"
	"go.opentelemetry.io/otel/trace"
)

// AnswerStream delivers an answer as ordered text fragments. Sources are
// known before the first fragment. Next returns false exactly once the
// stream reaches a terminal state; Err then reports a *QueryFailedError or
// nil, and Result the complete answer.
type AnswerStream struct {
	pipeline  *Pipeline
	question  string
	model     string
	sources   []Source
	flagged   bool
	smallTalk bool

	inner   *llm.Stream
	pending []string // Delivered before any model output
	cancel  context.CancelFunc
	span    trace.Span

	text   string
	err    error
	done   bool
	answer strings.Builder
}

// Sources returns the papers the answer draws on.
func (s *AnswerStream) Sources() []Source {
	return s.sources
}

// Next advances to the next fragment.
func (s *AnswerStream) Next() bool {
	if s.done {
		return false
	}

	if len(s.pending) > 0 {
		s.emit(s.pending[0])
		s.pending = s.pending[1:]
		return true
	}
	if s.inner == nil {
		return s.finish(nil)
	}

	if s.inner.Next() {
		s.emit(s.inner.Text())
		return true
	}
	if err := s.inner.Err(); err != nil {
		return s.finish(err)
	}
	if strings.TrimSpace(s.inner.Received()) == "" {
		return s.finish(llm.ErrEmptyResponse)
	}
	return s.finish(nil)
}

// Text returns the current fragment.
func (s *AnswerStream) Text() string {
	return s.text
}

// Err returns the terminal error, if any.
func (s *AnswerStream) Err() error {
	return s.err
}

// Result returns the complete answer once the stream has finished
// successfully, and nil otherwise.
func (s *AnswerStream) Result() *QueryResult {
	if !s.done || s.err != nil {
		return nil
	}
	return &QueryResult{
		Question:  s.question,
		Answer:    strings.TrimSpace(s.answer.String()),
		Sources:   s.sources,
		Model:     s.model,
		SmallTalk: s.smallTalk,
		Flagged:   s.flagged,
	}
}

// Close aborts the stream if it is still running and releases its
// resources. It is safe to call more than once.
func (s *AnswerStream) Close() error {
	var err error
	if s.inner != nil {
		err = s.inner.Close()
	}
	s.cancel()
	s.endSpan(nil)
	return err
}

func (s *AnswerStream) endSpan(err error) {
	if s.span != nil {
		endSpan(s.span, err)
		s.span = nil
	}
}

func (s *AnswerStream) emit(text string) {
	s.text = text
	s.answer.WriteString(text)
}

func (s *AnswerStream) finish(err error) bool {
	s.done = true
	s.text = ""
	if err != nil {
		s.err = s.pipeline.fail(s.question, StageCallingModel, err)
	} else {
		s.pipeline.stage(s.question, StageDone)
	}
	s.endSpan(s.err)
	s.Close()
	return false
}
