// Package artifacts implements the append-only JSONL log sinks and the
// whole-JSON pretty-printed summary/round/tournament files the round
// executor and tournament loop write to disk.
package artifacts

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Sink is an append-only JSONL writer. OpenSink creates the file at once;
// after Close, Append returns an error and the Sink cannot be reopened.
type Sink struct {
	path   string
	file   *os.File
	w      *bufio.Writer
	closed bool
}

// OpenSink opens (creating parent directories as needed) a JSONL file for
// appending.
func OpenSink(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: mkdir for sink %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("artifacts: open sink %s: %w", path, err)
	}
	return &Sink{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one JSON-encoded record followed by a newline.
func (s *Sink) Append(record any) error {
	if s.closed {
		return fmt.Errorf("artifacts: sink %s already closed", s.path)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("artifacts: marshal record for %s: %w", s.path, err)
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

// Close flushes and closes the underlying file. Close is idempotent.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("artifacts: flush sink %s: %w", s.path, err)
	}
	return s.file.Close()
}

// WriteJSON pretty-prints v and writes it whole to path, creating parent
// directories as needed.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifacts: mkdir for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}
