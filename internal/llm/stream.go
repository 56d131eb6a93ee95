package llm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// maxLineSize bounds a single NDJSON record.
const maxLineSize = 1024 * 1024

// Stream is a lazy sequence of generated text fragments.
//
//	for s.Next() {
//		fmt.Print(s.Text())
//	}
//	if err := s.Err(); err != nil { ... }
//
// Next returns false exactly once the stream reaches its terminal state:
// completion (Err is nil) or failure (Err is set). A Stream is consumed by a
// single goroutine; Close may be called from any goroutine.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	text     string
	err      error
	done     bool
	received strings.Builder

	closeOnce sync.Once
}

func newStream(body io.ReadCloser) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Stream{body: body, scanner: sc}
}

// Next advances to the next non-empty fragment.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}

	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec generateResponse
		if err := json.Unmarshal(line, &rec); err != nil {
			return s.finish(fmt.Errorf("decoding stream record: %w", err))
		}
		if rec.Error != "" {
			return s.finish(&ModelError{Message: rec.Error})
		}
		if rec.Response != "" {
			s.text = rec.Response
			s.received.WriteString(rec.Response)
			if rec.Done {
				// Deliver the last fragment now, finish on the next call.
				s.scanner = bufio.NewScanner(strings.NewReader(`{"done":true}`))
			}
			return true
		}
		if rec.Done {
			return s.finish(nil)
		}
	}

	if err := s.scanner.Err(); err != nil {
		return s.finish(fmt.Errorf("reading stream: %w", err))
	}
	return s.finish(ErrStreamTruncated)
}

// Text returns the current fragment.
func (s *Stream) Text() string {
	return s.text
}

// Err returns the terminal error, or nil after a complete stream.
func (s *Stream) Err() error {
	return s.err
}

// Received returns all fragments delivered so far, concatenated.
func (s *Stream) Received() string {
	return s.received.String()
}

// Close releases the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}

func (s *Stream) finish(err error) bool {
	s.done = true
	s.text = ""
	s.err = err
	s.Close()
	return false
}
