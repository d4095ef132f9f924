// Package assembler correlates trace spans into complete traces via
// trace-id/parent-id linkage. A trace is flushed exactly once: when its root
// span ends, or when the incomplete-trace timeout expires.
package assembler

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidewatch/tidewatch/signal"
)

const shardCount = 16

// Config holds assembler settings.
type Config struct {
	// TraceTimeout force-flushes traces whose root never completes. Spans
	// arriving for an already flushed trace are dropped and counted.
	TraceTimeout time.Duration
	// FlushedRetention controls how long flushed trace IDs are remembered so
	// late spans can be told apart from new traces. Defaults to twice the
	// trace timeout.
	FlushedRetention time.Duration
}

// Assembler owns all in-progress traces. Flushed traces are handed to the
// emit callback while the owning shard is locked, so emit must not call back
// into the assembler.
type Assembler struct {
	cfg    Config
	emit   func(signal.Trace)
	shards [shardCount]*shard
	logger *slog.Logger

	lateDropped atomic.Int64
}

type shard struct {
	mu      sync.Mutex
	pending map[string]*pendingTrace
	flushed map[string]time.Time // traceID -> flush time
}

type pendingTrace struct {
	spans     []signal.Span
	firstSeen time.Time
}

// New creates an assembler that passes finished traces to emit.
func New(cfg Config, emit func(signal.Trace), logger *slog.Logger) *Assembler {
	if cfg.TraceTimeout <= 0 {
		cfg.TraceTimeout = 30 * time.Second
	}
	if cfg.FlushedRetention <= 0 {
		cfg.FlushedRetention = 2 * cfg.TraceTimeout
	}

	a := &Assembler{
		cfg:    cfg,
		emit:   emit,
		logger: logger.With("component", "assembler"),
	}
	for i := range a.shards {
		a.shards[i] = &shard{
			pending: make(map[string]*pendingTrace),
			flushed: make(map[string]time.Time),
		}
	}
	return a
}

func (a *Assembler) shardFor(traceID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(traceID))
	return a.shards[h.Sum32()%shardCount]
}

// Ingest appends the span to its in-progress trace. If the span is a root
// span that has ended, the trace is complete and flushed immediately.
func (a *Assembler) Ingest(span signal.Span, now time.Time) {
	sh := a.shardFor(span.TraceID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, done := sh.flushed[span.TraceID]; done {
		a.lateDropped.Add(1)
		a.logger.Debug("dropped late span for flushed trace",
			"trace_id", span.TraceID, "span_id", span.SpanID)
		return
	}

	pt, ok := sh.pending[span.TraceID]
	if !ok {
		pt = &pendingTrace{firstSeen: now}
		sh.pending[span.TraceID] = pt
	}
	pt.spans = append(pt.spans, span)

	if span.Root() && span.Ended() {
		a.flushLocked(sh, span.TraceID, pt, now, true)
	}
}

// Sweep force-flushes pending traces older than the timeout with the
// incomplete marker, and forgets flushed trace IDs past retention.
func (a *Assembler) Sweep(now time.Time) {
	cutoff := now.Add(-a.cfg.TraceTimeout)
	forget := now.Add(-a.cfg.FlushedRetention)

	for _, sh := range a.shards {
		sh.mu.Lock()
		for id, pt := range sh.pending {
			if pt.firstSeen.Before(cutoff) {
				a.logger.Warn("trace timed out before root span completed",
					"trace_id", id, "spans", len(pt.spans))
				a.flushLocked(sh, id, pt, now, false)
			}
		}
		for id, at := range sh.flushed {
			if at.Before(forget) {
				delete(sh.flushed, id)
			}
		}
		sh.mu.Unlock()
	}
}

// flushLocked builds the trace, emits it, and moves the trace ID to the
// flushed set. Caller holds sh.mu.
func (a *Assembler) flushLocked(sh *shard, traceID string, pt *pendingTrace, now time.Time, complete bool) {
	delete(sh.pending, traceID)
	sh.flushed[traceID] = now

	a.emit(buildTrace(traceID, pt.spans, complete))
}

func buildTrace(traceID string, spans []signal.Span, complete bool) signal.Trace {
	trace := signal.Trace{
		TraceID:  traceID,
		Spans:    spans,
		Complete: complete,
	}

	var minStart, maxEnd time.Time
	for i := range spans {
		s := &spans[i]
		if s.Root() {
			trace.RootService = s.ServiceName
			trace.RootOperation = s.Name
		}
		if minStart.IsZero() || s.Start.Before(minStart) {
			minStart = s.Start
		}
		end := s.End
		if end.IsZero() {
			end = s.Start
		}
		if maxEnd.IsZero() || end.After(maxEnd) {
			maxEnd = end
		}
	}

	trace.Start = minStart
	if !minStart.IsZero() {
		trace.Duration = maxEnd.Sub(minStart)
	}
	return trace
}

// PendingCount returns the number of in-progress traces.
func (a *Assembler) PendingCount() int {
	n := 0
	for _, sh := range a.shards {
		sh.mu.Lock()
		n += len(sh.pending)
		sh.mu.Unlock()
	}
	return n
}

// LateDropped returns how many spans arrived after their trace was flushed.
func (a *Assembler) LateDropped() int64 {
	return a.lateDropped.Load()
}
