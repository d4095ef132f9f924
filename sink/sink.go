// Package sink defines the export sink contract and the built-in sink
// implementations. The dispatcher is agnostic to what a sink does with a
// batch; it only classifies failures as transient or permanent.
package sink

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tidewatch/tidewatch/signal"
)

// BatchKind identifies what a batch carries.
type BatchKind string

const (
	BatchSnapshots    BatchKind = "snapshots"
	BatchTraces       BatchKind = "traces"
	BatchAlerts       BatchKind = "alerts"
	BatchLogs         BatchKind = "logs"
	BatchHealthChecks BatchKind = "healthchecks"
)

// Batch is a finalized group of signals of one kind handed to sinks. Exactly
// one of the payload slices is populated, matching Kind.
type Batch struct {
	ID        string    `json:"id"`
	Kind      BatchKind `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	Snapshots    []signal.Snapshot    `json:"snapshots,omitempty"`
	Traces       []signal.Trace       `json:"traces,omitempty"`
	Events       []signal.AlertEvent  `json:"events,omitempty"`
	Logs         []signal.LogEntry    `json:"logs,omitempty"`
	HealthChecks []signal.HealthCheck `json:"health_checks,omitempty"`
}

// Size returns the number of signals in the batch.
func (b Batch) Size() int {
	switch b.Kind {
	case BatchSnapshots:
		return len(b.Snapshots)
	case BatchTraces:
		return len(b.Traces)
	case BatchAlerts:
		return len(b.Events)
	case BatchLogs:
		return len(b.Logs)
	case BatchHealthChecks:
		return len(b.HealthChecks)
	default:
		return 0
	}
}

// NewBatch creates a batch with a fresh ID.
func NewBatch(kind BatchKind, createdAt time.Time) Batch {
	return Batch{
		ID:        uuid.New().String(),
		Kind:      kind,
		CreatedAt: createdAt,
	}
}

// Sink delivers batches to a backend. Push errors are classified via
// signal.IsSinkUnavailable (retried) and signal.IsSinkRejected
// (dead-lettered immediately); any other error is treated as transient.
type Sink interface {
	Name() string
	Push(ctx context.Context, batch Batch) error
}
