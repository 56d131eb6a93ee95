// Package tui implements the interactive terminal chat.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/matsen/paperqa/internal/rag"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			MarginBottom(1)

	questionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)

	answerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			PaddingLeft(2)

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			PaddingLeft(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			PaddingLeft(2)

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD93D")).
			PaddingLeft(2)
)

// Asker starts streamed answers. *rag.Pipeline implements it.
type Asker interface {
	Stream(ctx context.Context, question string) (*rag.AnswerStream, error)
}

// Recorder stores finished answers. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, sessionID string, res *rag.QueryResult) error
}

// Turn is one question and its answer.
type Turn struct {
	Question string
	Answer   string
	Sources  []rag.Source
	Err      error
}

// Model is the bubbletea model for the chat.
type Model struct {
	asker     Asker
	recorder  Recorder
	sessionID string
	ctx       context.Context

	input    []rune
	turns    []Turn
	stream   *rag.AnswerStream
	loading  bool
	quitting bool
	width    int
}

// NewModel creates a chat model. recorder may be nil.
func NewModel(ctx context.Context, asker Asker, recorder Recorder, sessionID string) *Model {
	return &Model{
		asker:     asker,
		recorder:  recorder,
		sessionID: sessionID,
		ctx:       ctx,
	}
}

// Turns returns the conversation so far.
func (m *Model) Turns() []Turn {
	return m.turns
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case streamStartedMsg:
		cur := m.current()
		if msg.err != nil {
			cur.Err = msg.err
			m.loading = false
			return m, nil
		}
		m.stream = msg.stream
		cur.Sources = msg.stream.Sources()
		return m, nextFragment(msg.stream)

	case fragmentMsg:
		m.current().Answer += msg.text
		return m, nextFragment(m.stream)

	case streamDoneMsg:
		cur := m.current()
		m.loading = false
		m.stream = nil
		if msg.err != nil {
			cur.Err = msg.err
			return m, nil
		}
		cur.Answer = msg.result.Answer
		return m, m.record(msg.result)
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.stream != nil {
			m.stream.Close()
		}
		m.quitting = true
		return m, tea.Quit
	case tea.KeyEsc:
		if m.loading {
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	}

	if m.loading {
		return m, nil
	}

	switch msg.Type {
	case tea.KeyEnter:
		question := strings.TrimSpace(string(m.input))
		if question == "" {
			return m, nil
		}
		if question == "exit" || question == "quit" {
			m.quitting = true
			return m, tea.Quit
		}
		m.input = nil
		m.loading = true
		m.turns = append(m.turns, Turn{Question: question})
		return m, m.ask(question)

	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil

	case tea.KeySpace:
		m.input = append(m.input, ' ')
		return m, nil

	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
		return m, nil
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return "\nGoodbye!\n\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("paperqa"))
	b.WriteString("\n")

	width := m.width - 4
	if width < 20 {
		width = 76
	}

	for i, t := range m.turns {
		b.WriteString(questionStyle.Render("> " + t.Question))
		b.WriteString("\n")
		if t.Answer != "" {
			b.WriteString(answerStyle.Width(width).Render(t.Answer))
			b.WriteString("\n")
		}
		if t.Err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("error: %v", t.Err)))
			b.WriteString("\n")
		}
		for j, s := range t.Sources {
			b.WriteString(sourceStyle.Render(fmt.Sprintf("[%d] %s (%s)", j+1, s.Title, s.Authors)))
			b.WriteString("\n")
		}
		if m.loading && i == len(m.turns)-1 && t.Answer == "" && t.Err == nil {
			b.WriteString(loadingStyle.Render("Thinking..."))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Ask a question (Enter: send, Esc: quit):\n")
	b.WriteString("> " + string(m.input))
	if !m.loading {
		b.WriteString("_")
	}
	b.WriteString("\n")
	return b.String()
}

func (m *Model) current() *Turn {
	return &m.turns[len(m.turns)-1]
}

type streamStartedMsg struct {
	stream *rag.AnswerStream
	err    error
}

type fragmentMsg struct {
	text string
}

type streamDoneMsg struct {
	result *rag.QueryResult
	err    error
}

type recordedMsg struct{}

func (m *Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		s, err := m.asker.Stream(m.ctx, question)
		return streamStartedMsg{stream: s, err: err}
	}
}

// nextFragment pulls one fragment from the stream. The stream is only
// touched from these commands, one at a time.
func nextFragment(s *rag.AnswerStream) tea.Cmd {
	return func() tea.Msg {
		if s.Next() {
			return fragmentMsg{text: s.Text()}
		}
		s.Close()
		return streamDoneMsg{result: s.Result(), err: s.Err()}
	}
}

func (m *Model) record(res *rag.QueryResult) tea.Cmd {
	if m.recorder == nil || res == nil {
		return nil
	}
	return func() tea.Msg {
		// History is best effort in the terminal too.
		m.recorder.Record(m.ctx, m.sessionID, res)
		return recordedMsg{}
	}
}

// Run starts the chat and blocks until the user quits.
func Run(ctx context.Context, asker Asker, recorder Recorder, sessionID string) error {
	model := NewModel(ctx, asker, recorder, sessionID)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
