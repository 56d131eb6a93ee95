package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matsen/paperqa/internal/embedding"
	"github.com/matsen/paperqa/internal/guard"
	"github.com/matsen/paperqa/internal/llm"
	"github.com/matsen/paperqa/internal/prompt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxQuestionLength bounds a question in runes.
const MaxQuestionLength = 2000

var tracer = otel.Tracer("paperqa/rag")

// Generator produces text from a prompt. *llm.OllamaClient implements it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
	Stream(ctx context.Context, req llm.Request) (*llm.Stream, error)
	Model() string
}

// Options tunes a Pipeline.
type Options struct {
	TopK        int
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration // Per question; 0 means no limit
	Guardrails  bool

	Logger *slog.Logger
	// OnStage, when set, is called on every stage transition. It must be
	// safe for concurrent use.
	OnStage func(question string, stage Stage)
}

// Pipeline answers questions. It holds no per-question state, so one
// Pipeline serves any number of concurrent questions.
type Pipeline struct {
	provider  embedding.Provider
	index     *Snapshot
	assembler *prompt.Assembler
	gen       Generator
	opts      Options
	logger    *slog.Logger
}

// New creates a pipeline. The provider must be the one the index was built with.
func New(provider embedding.Provider, index *Snapshot, assembler *prompt.Assembler, gen Generator, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Pipeline{
		provider:  provider,
		index:     index,
		assembler: assembler,
		gen:       gen,
		opts:      opts,
		logger:    logger,
	}
}

// Model returns the generation model name.
func (p *Pipeline) Model() string {
	return p.gen.Model()
}

// Snapshot returns the index snapshot the pipeline reads.
func (p *Pipeline) Snapshot() *Snapshot {
	return p.index
}

// prepared is everything known about a question before the model is called.
type prepared struct {
	question string
	prompt   prompt.Prompt
	sources  []Source
	flagged  bool
	canned   string // Small-talk reply; no model call needed
}

// Answer runs the full pipeline and returns a complete result or a
// *QueryFailedError.
func (p *Pipeline) Answer(ctx context.Context, question string) (*QueryResult, error) {
	ctx, span := tracer.Start(ctx, "rag.Answer")
	res, err := p.answer(ctx, question)
	endSpan(span, err)
	return res, err
}

func (p *Pipeline) answer(ctx context.Context, question string) (*QueryResult, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	prep, err := p.prepare(ctx, question)
	if err != nil {
		return nil, err
	}
	if prep.canned != "" {
		p.stage(prep.question, StageDone)
		return &QueryResult{Question: prep.question, Answer: prep.canned, Sources: []Source{}, SmallTalk: true}, nil
	}

	p.stage(prep.question, StageCallingModel)
	genCtx, span := tracer.Start(ctx, "rag.generate")
	text, err := p.gen.Generate(genCtx, p.request(prep.prompt))
	if err == nil && strings.TrimSpace(text) == "" {
		err = llm.ErrEmptyResponse
	}
	endSpan(span, err)
	if err != nil {
		return nil, p.fail(prep.question, StageCallingModel, err)
	}

	answer := strings.TrimSpace(text)
	if prep.flagged {
		answer = guard.SafetyNotice + "\n\n" + answer
	}

	p.stage(prep.question, StageDone)
	p.logger.Info("answered question",
		"sources", len(prep.sources), "dropped", prep.prompt.Dropped, "duration", time.Since(start))

	return &QueryResult{
		Question: prep.question,
		Answer:   answer,
		Sources:  prep.sources,
		Model:    p.gen.Model(),
		Flagged:  prep.flagged,
	}, nil
}

// Stream runs the pipeline up to the model call and returns a stream of the
// answer. Failures before the model call are returned directly; later ones
// surface through AnswerStream.Err.
func (p *Pipeline) Stream(ctx context.Context, question string) (*AnswerStream, error) {
	ctx, cancel := p.withTimeout(ctx)
	ctx, span := tracer.Start(ctx, "rag.Stream")

	prep, err := p.prepare(ctx, question)
	if err != nil {
		endSpan(span, err)
		cancel()
		return nil, err
	}

	s := &AnswerStream{
		pipeline: p,
		question: prep.question,
		sources:  prep.sources,
		flagged:  prep.flagged,
		cancel:   cancel,
		span:     span,
	}
	if prep.canned != "" {
		s.smallTalk = true
		s.pending = []string{prep.canned}
		s.sources = []Source{}
		return s, nil
	}

	p.stage(prep.question, StageCallingModel)
	inner, err := p.gen.Stream(ctx, p.request(prep.prompt))
	if err != nil {
		err = p.fail(prep.question, StageCallingModel, err)
		endSpan(span, err)
		cancel()
		return nil, err
	}
	s.inner = inner
	s.model = p.gen.Model()
	if prep.flagged {
		s.pending = []string{guard.SafetyNotice + "\n\n"}
	}
	return s, nil
}

func (p *Pipeline) prepare(ctx context.Context, question string) (*prepared, error) {
	question = strings.TrimSpace(question)
	p.stage(question, StageReceived)

	if question == "" {
		return nil, p.fail(question, StageReceived, fmt.Errorf("%w: question is empty", ErrInvalidQuestion))
	}
	if n := utf8.RuneCountInString(question); n > MaxQuestionLength {
		return nil, p.fail(question, StageReceived, fmt.Errorf("%w: %d characters, limit %d", ErrInvalidQuestion, n, MaxQuestionLength))
	}

	prep := &prepared{question: question}
	if p.opts.Guardrails {
		if reply, ok := guard.SmallTalk(question); ok {
			prep.canned = reply
			return prep, nil
		}
		prep.flagged = guard.RedFlag(question)
	}

	p.stage(question, StageEmbeddingQuery)
	embCtx, span := tracer.Start(ctx, "rag.embed_query")
	emb, err := p.provider.Embed(embCtx, question)
	endSpan(span, err)
	if err != nil {
		return nil, p.fail(question, StageEmbeddingQuery, err)
	}

	p.stage(question, StageRetrieving)
	idx := p.index.Load()
	if idx == nil {
		return nil, p.fail(question, StageRetrieving, ErrNoIndex)
	}
	searchCtx, span := tracer.Start(ctx, "rag.retrieve")
	hits, err := idx.Search(searchCtx, emb.Vector, p.opts.TopK)
	endSpan(span, err)
	if err != nil {
		return nil, p.fail(question, StageRetrieving, err)
	}

	p.stage(question, StageAssemblingPrompt)
	pr, err := p.assembler.Build(question, hits)
	if err != nil {
		return nil, p.fail(question, StageAssemblingPrompt, err)
	}
	if pr.Dropped > 0 {
		p.logger.Debug("dropped chunks to fit prompt limit", "dropped", pr.Dropped, "kept", len(pr.Included))
	}

	prep.prompt = pr
	prep.sources = SourcesFromHits(pr.Included)
	return prep, nil
}

func (p *Pipeline) request(pr prompt.Prompt) llm.Request {
	return llm.Request{
		System:      pr.System,
		Prompt:      pr.Text,
		Temperature: p.opts.Temperature,
		MaxTokens:   p.opts.MaxTokens,
	}
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.Timeout > 0 {
		return context.WithTimeout(ctx, p.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (p *Pipeline) stage(question string, s Stage) {
	if p.opts.OnStage != nil {
		p.opts.OnStage(question, s)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (p *Pipeline) fail(question string, s Stage, err error) error {
	p.stage(question, StageError)
	p.logger.Warn("query failed", "stage", string(s), "error", err)
	return &QueryFailedError{Stage: s, Err: err}
}
