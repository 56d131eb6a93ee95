// Package prompt assembles the model prompt from a question and retrieved chunks.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/matsen/paperqa/internal/semantic"
)

// NoSourcesMarker appears in every prompt built without retrieved context.
const NoSourcesMarker = "NO RELEVANT SOURCES FOUND"

// DefaultSystem is the instruction sent as the model's system prompt.
const DefaultSystem = "You are a research assistant that answers questions about scientific papers. " +
	"Answer only from the numbered sources in the prompt and cite them by number, like [1]. " +
	"If the sources do not contain the answer, say so plainly. Do not invent papers, authors, or URLs."

const (
	header = "Answer the question using the sources below. " +
		"Prefer direct paraphrases of the sources, and cite every claim.\n\nSources:\n"

	noSources = NoSourcesMarker + ". No indexed paper matched this question. " +
		"Tell the user that no relevant sources were found and do not cite any papers.\n"
)

var (
	// ErrPromptTooLong is returned when the question alone exceeds the limit.
	ErrPromptTooLong = errors.New("question too long for prompt limit")
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
)

// Prompt is an assembled model request.
type Prompt struct {
	System string
	Text   string

	// Included holds the hits that made it into Text, in retrieval order.
	Included []semantic.Hit
	// Dropped counts hits removed to satisfy the length limit.
	Dropped int
}

// Length returns the prompt size in runes, system prompt included.
func (p Prompt) Length() int {
	return utf8.RuneCountInString(p.System) + utf8.RuneCountInString(p.Text)
}

// Assembler builds prompts under a length limit.
type Assembler struct {
	system    string
	maxLength int
}

// NewAssembler creates an assembler. maxLength is in runes and covers the
// system prompt plus the prompt body.
func NewAssembler(maxLength int) *Assembler {
	return &Assembler{system: DefaultSystem, maxLength: maxLength}
}

// WithSystem returns a copy of the assembler using a different system prompt.
func (a *Assembler) WithSystem(system string) *Assembler {
	c := *a
	c.system = system
	return &c
}

// Build assembles the prompt. Hits keep their retrieval order. When the
// result exceeds the limit, the lowest-scoring hit is dropped whole and the
// prompt rebuilt until it fits.
func (a *Assembler) Build(question string, hits []semantic.Hit) (Prompt, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Prompt{}, ErrEmptyQuestion
	}

	kept := append([]semantic.Hit(nil), hits...)
	for {
		p := Prompt{
			System:   a.system,
			Text:     render(question, kept),
			Included: kept,
			Dropped:  len(hits) - len(kept),
		}
		if a.maxLength <= 0 || p.Length() <= a.maxLength {
			return p, nil
		}
		if len(kept) == 0 {
			return Prompt{}, fmt.Errorf("%w: %d runes, limit %d", ErrPromptTooLong, p.Length(), a.maxLength)
		}
		kept = dropLowest(kept)
	}
}

// dropLowest removes the lowest-scoring hit, the later one on ties.
func dropLowest(hits []semantic.Hit) []semantic.Hit {
	worst := 0
	for i, h := range hits {
		if h.Score <= hits[worst].Score {
			worst = i
		}
	}
	out := make([]semantic.Hit, 0, len(hits)-1)
	out = append(out, hits[:worst]...)
	return append(out, hits[worst+1:]...)
}

func render(question string, hits []semantic.Hit) string {
	var b strings.Builder
	if len(hits) == 0 {
		b.WriteString(noSources)
	} else {
		b.WriteString(header)
		for i, h := range hits {
			fmt.Fprintf(&b, "\n[%d] Title: %s | Authors: %s\n%s\n",
				i+1, h.Chunk.Paper.Title, h.Chunk.Paper.Authors, h.Chunk.Text)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	return b.String()
}
