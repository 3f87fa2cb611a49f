package activation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends one JSON event per line. Each line is flushed before
// Deliver returns so a crash loses at most the event in flight.
type FileSink struct {
	path string

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
}

func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("file_jsonl: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file_jsonl: create dirs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("file_jsonl: open: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &FileSink{path: path, file: f, writer: w, enc: enc}, nil
}

func (s *FileSink) Name() string { return "file_jsonl:" + s.path }

func (s *FileSink) Deliver(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New("file_jsonl: sink closed")
	}
	// Encode appends the newline.
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("file_jsonl: encode %s: %w", ev.RequestID, err)
	}
	return s.writer.Flush()
}

func (s *FileSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file = nil
	return errors.Join(flushErr, closeErr)
}
