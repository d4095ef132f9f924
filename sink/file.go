package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tidewatch/tidewatch/signal"
)

// FileSink appends batches as JSON lines to a file.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileSink opens (or creates) the file at path for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open sink file %s: %w", path, err)
	}
	return &FileSink{path: path, f: f}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Push(ctx context.Context, batch Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return &signal.SinkRejectedError{Sink: s.Name(), Reason: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(data, '\n')); err != nil {
		return &signal.SinkUnavailableError{Sink: s.Name(), Err: err}
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

var _ Sink = (*FileSink)(nil)
