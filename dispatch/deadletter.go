package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tidewatch/tidewatch/pkg/redisq"
	"github.com/tidewatch/tidewatch/sink"
)

// DeadLetter is the durable record of batches that could not be delivered.
// Every undeliverable batch is appended exactly once per failed sink.
type DeadLetter interface {
	Append(ctx context.Context, sinkName string, batch sink.Batch) error
}

// deadLetterEntry is the stored form of a dead-lettered batch.
type deadLetterEntry struct {
	Sink     string     `json:"sink"`
	FailedAt time.Time  `json:"failed_at"`
	Batch    sink.Batch `json:"batch"`
}

// LogDeadLetter records dead-lettered batches in the structured log. Useful
// as a last-resort store when no durable backend is configured.
type LogDeadLetter struct {
	logger *slog.Logger
}

// NewLogDeadLetter creates a log-backed dead-letter store.
func NewLogDeadLetter(logger *slog.Logger) *LogDeadLetter {
	return &LogDeadLetter{logger: logger.With("component", "dead-letter")}
}

func (l *LogDeadLetter) Append(ctx context.Context, sinkName string, batch sink.Batch) error {
	l.logger.Error("dead-lettered batch",
		"sink", sinkName, "batch", batch.ID, "kind", batch.Kind, "size", batch.Size())
	return nil
}

// FileDeadLetter appends dead-lettered batches as JSON lines to a file.
type FileDeadLetter struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileDeadLetter opens (or creates) the dead-letter file at path.
func NewFileDeadLetter(path string) (*FileDeadLetter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open dead-letter file %s: %w", path, err)
	}
	return &FileDeadLetter{f: f}, nil
}

func (l *FileDeadLetter) Append(ctx context.Context, sinkName string, batch sink.Batch) error {
	data, err := json.Marshal(deadLetterEntry{Sink: sinkName, FailedAt: time.Now(), Batch: batch})
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append dead-letter entry: %w", err)
	}
	return nil
}

// Close closes the dead-letter file.
func (l *FileDeadLetter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// RedisDeadLetter keeps dead-lettered batches on a capped Redis list so an
// operator can inspect and replay them.
type RedisDeadLetter struct {
	client *redisq.Client
	key    string
	maxLen int64
}

// NewRedisDeadLetter creates a Redis-backed dead-letter store writing to key
// with at most maxLen retained entries.
func NewRedisDeadLetter(client *redisq.Client, key string, maxLen int64) *RedisDeadLetter {
	if key == "" {
		key = "dead-letter"
	}
	if maxLen < 1 {
		maxLen = 1000
	}
	return &RedisDeadLetter{client: client, key: key, maxLen: maxLen}
}

func (l *RedisDeadLetter) Append(ctx context.Context, sinkName string, batch sink.Batch) error {
	data, err := json.Marshal(deadLetterEntry{Sink: sinkName, FailedAt: time.Now(), Batch: batch})
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter entry: %w", err)
	}
	return l.client.PushCapped(ctx, l.key, data, l.maxLen)
}

var (
	_ DeadLetter = (*LogDeadLetter)(nil)
	_ DeadLetter = (*FileDeadLetter)(nil)
	_ DeadLetter = (*RedisDeadLetter)(nil)
)
