// Package rag answers questions by retrieving paper chunks and conditioning
// a local language model on them.
package rag

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/matsen/paperqa/internal/reference"
	"github.com/matsen/paperqa/internal/semantic"
)

// Stage names a step of the query pipeline.
type Stage string

// Pipeline stages, in order. StageError is reachable from any of them.
const (
	StageReceived         Stage = "RECEIVED"
	StageEmbeddingQuery   Stage = "EMBEDDING_QUERY"
	StageRetrieving       Stage = "RETRIEVING"
	StageAssemblingPrompt Stage = "ASSEMBLING_PROMPT"
	StageCallingModel     Stage = "CALLING_MODEL"
	StageDone             Stage = "DONE"
	StageError            Stage = "ERROR"
)

var (
	// ErrInvalidQuestion is returned for a blank or oversized question.
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrNoIndex is returned when no index has been loaded.
	ErrNoIndex = errors.New("no index loaded")
)

// QueryFailedError reports the stage at which a question failed.
// No partial result accompanies it.
type QueryFailedError struct {
	Stage Stage
	Err   error
}

func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("query failed at %s: %v", e.Stage, e.Err)
}

func (e *QueryFailedError) Unwrap() error {
	return e.Err
}

// Source is a paper an answer drew on.
type Source struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Authors    string  `json:"authors"`
	Abstract   string  `json:"abstract,omitempty"`
	SourceFile string  `json:"source_file,omitempty"`
	Score      float32 `json:"score"` // Best chunk score for the paper
}

// QueryResult is a complete answer.
type QueryResult struct {
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	Sources   []Source `json:"sources"`
	Model     string   `json:"model,omitempty"`
	SmallTalk bool     `json:"small_talk,omitempty"`
	Flagged   bool     `json:"flagged,omitempty"` // A safety notice was prepended
}

// SourceTitles returns the titles of the sources in order.
func (r *QueryResult) SourceTitles() []string {
	titles := make([]string, len(r.Sources))
	for i, s := range r.Sources {
		titles[i] = s.Title
	}
	return titles
}

// SourcesFromHits maps chunks back to their papers, keeping the first
// (highest-ranked) hit for each paper.
func SourcesFromHits(hits []semantic.Hit) []Source {
	seen := make(map[string]bool, len(hits))
	sources := make([]Source, 0, len(hits))
	for _, h := range hits {
		p := h.Chunk.Paper
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		sources = append(sources, newSource(p, h.Score))
	}
	return sources
}

func newSource(p reference.PaperRecord, score float32) Source {
	return Source{
		ID:         p.ID,
		Title:      p.Title,
		Authors:    p.Authors,
		Abstract:   p.Abstract,
		SourceFile: p.SourceFile,
		Score:      score,
	}
}

// Snapshot holds the index used by queries. Swapping in a new index never
// affects queries already holding the old one.
type Snapshot struct {
	p atomic.Pointer[semantic.Index]
}

// NewSnapshot creates a snapshot holding idx, which may be nil.
func NewSnapshot(idx *semantic.Index) *Snapshot {
	s := &Snapshot{}
	if idx != nil {
		s.p.Store(idx)
	}
	return s
}

// Load returns the current index, or nil.
func (s *Snapshot) Load() *semantic.Index {
	return s.p.Load()
}

// Swap installs idx and returns the previous index.
func (s *Snapshot) Swap(idx *semantic.Index) *semantic.Index {
	return s.p.Swap(idx)
}
