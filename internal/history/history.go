// Package history stores question-and-answer sessions in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matsen/paperqa/internal/rag"
	_ "modernc.org/sqlite"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// titleMaxRunes bounds the session title taken from the first question.
const titleMaxRunes = 80

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSessionID is returned for an ID that is not a UUID.
	ErrInvalidSessionID = errors.New("invalid session ID")
)

// Session is a conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  int       `json:"messages"`
}

// Message is one turn of a session.
type Message struct {
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	Sources   []rag.Source `json:"sources,omitempty"`
	Model     string       `json:"model,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Store wraps a SQLite database connection. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewSessionID returns a fresh random session ID.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether id is a well-formed session ID.
func ValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			sources_json TEXT,
			model TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`

	_, err := db.Exec(schema)
	return err
}

// Record appends a question and its answer to a session, creating the
// session on first use.
func (s *Store) Record(ctx context.Context, sessionID string, res *rag.QueryResult) error {
	if !ValidSessionID(sessionID) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, sessionTitle(res.Question), now, now)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	sourcesJSON, err := json.Marshal(res.Sources)
	if err != nil {
		return fmt.Errorf("encoding sources: %w", err)
	}

	insert := `INSERT INTO messages (session_id, role, content, sources_json, model, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, sessionID, RoleUser, res.Question, nil, nil, now); err != nil {
		return fmt.Errorf("inserting question: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, sessionID, RoleAssistant, res.Answer, string(sourcesJSON), res.Model, now); err != nil {
		return fmt.Errorf("inserting answer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Session returns a session's summary.
func (s *Store) Session(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.title, s.created_at, s.updated_at, COUNT(m.id)
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		WHERE s.id = ?
		GROUP BY s.id`, sessionID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// Sessions lists sessions, most recently updated first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	query := `
		SELECT s.id, s.title, s.created_at, s.updated_at, COUNT(m.id)
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.id
		ORDER BY s.updated_at DESC, s.id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// Messages returns a session's messages in order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, sources_json, model, created_at
		FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var sourcesJSON, model sql.NullString
		var created int64
		if err := rows.Scan(&m.Role, &m.Content, &sourcesJSON, &model, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if sourcesJSON.Valid && sourcesJSON.String != "" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &m.Sources); err != nil {
				return nil, fmt.Errorf("decoding sources: %w", err)
			}
		}
		m.Model = model.String
		m.CreatedAt = time.UnixMilli(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Transcript renders a session as plain text for download.
func (s *Store) Transcript(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return "", err
	}
	msgs, err := s.Messages(ctx, sessionID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", sess.Title)
	fmt.Fprintf(&b, "# session %s, started %s\n", sess.ID, sess.CreatedAt.UTC().Format(time.RFC3339))
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n%s: %s\n", m.Role, m.Content)
		for i, src := range m.Sources {
			fmt.Fprintf(&b, "  [%d] %s (%s)\n", i+1, src.Title, src.Authors)
		}
	}
	return b.String(), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var created, updated int64
	if err := row.Scan(&sess.ID, &sess.Title, &created, &updated, &sess.Messages); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(created)
	sess.UpdatedAt = time.UnixMilli(updated)
	return &sess, nil
}

func sessionTitle(question string) string {
	title := strings.Join(strings.Fields(question), " ")
	if r := []rune(title); len(r) > titleMaxRunes {
		title = string(r[:titleMaxRunes-3]) + "..."
	}
	return title
}
