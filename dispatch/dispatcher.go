// Package dispatch delivers finalized batches to export sinks with bounded
// retry, per-sink isolation, and dead-lettering. Sink failures are never
// propagated back to producers.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tidewatch/tidewatch/signal"
	"github.com/tidewatch/tidewatch/sink"
)

// RetryConfig bounds the per-batch retry budget for transient sink failures.
type RetryConfig struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultRetryConfig matches the documented backoff: base 200ms, cap 5s,
// 5 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Base: 200 * time.Millisecond, Cap: 5 * time.Second, MaxAttempts: 5}
}

// Config holds dispatcher settings.
type Config struct {
	// QueueSize bounds each sink's batch queue. A full queue dead-letters
	// new batches for that sink instead of blocking the pipeline.
	QueueSize int
	Retry     RetryConfig
}

// Dispatcher fans batches out to sinks. Each sink runs on its own worker
// with its own queue, so a slow or failing sink cannot affect another.
type Dispatcher struct {
	cfg    Config
	dead   DeadLetter
	logger *slog.Logger
	tracer trace.Tracer

	workers []*sinkWorker
	wg      sync.WaitGroup

	cancel context.CancelFunc

	// mu orders queue sends in Dispatch against the queue close in Shutdown.
	mu     sync.RWMutex
	closed bool

	delivered    atomic.Int64
	deadLettered atomic.Int64
}

type sinkWorker struct {
	sink  sink.Sink
	queue chan sink.Batch
}

// New creates a dispatcher for the given sinks.
func New(cfg Config, sinks []sink.Sink, dead DeadLetter, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultRetryConfig()
	}

	d := &Dispatcher{
		cfg:    cfg,
		dead:   dead,
		logger: logger.With("component", "dispatch"),
		tracer: otel.Tracer("tidewatch/dispatch"),
	}
	for _, s := range sinks {
		d.workers = append(d.workers, &sinkWorker{
			sink:  s,
			queue: make(chan sink.Batch, cfg.QueueSize),
		})
	}
	return d
}

// Start launches one worker per sink. The context cancels in-flight retry
// sleeps on shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for _, w := range d.workers {
		d.wg.Add(1)
		go d.run(ctx, w)
	}
}

// Dispatch hands the batch to every sink queue without blocking. A full
// queue dead-letters the batch for that sink.
func (d *Dispatcher) Dispatch(batch sink.Batch) {
	if batch.Size() == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	for _, w := range d.workers {
		select {
		case w.queue <- batch:
		default:
			d.logger.Warn("sink queue full, dead-lettering batch",
				"sink", w.sink.Name(), "batch", batch.ID, "kind", batch.Kind)
			d.deadLetter(context.Background(), w.sink.Name(), batch)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, w *sinkWorker) {
	defer d.wg.Done()
	for batch := range w.queue {
		d.deliver(ctx, w.sink, batch)
	}
}

// deliver pushes one batch with the retry budget. Permanent rejections and
// exhausted budgets go to the dead-letter store exactly once.
func (d *Dispatcher) deliver(ctx context.Context, s sink.Sink, batch sink.Batch) {
	ctx, span := d.tracer.Start(ctx, "dispatch.deliver",
		trace.WithAttributes(
			attribute.String("sink.name", s.Name()),
			attribute.String("batch.kind", string(batch.Kind)),
			attribute.Int("batch.size", batch.Size()),
		))
	defer span.End()

	backoff := d.cfg.Retry.Base
	for attempt := 1; ; attempt++ {
		err := s.Push(ctx, batch)
		if err == nil {
			d.delivered.Add(1)
			return
		}

		if signal.IsSinkRejected(err) {
			d.logger.Error("sink rejected batch, dead-lettering",
				"sink", s.Name(), "batch", batch.ID, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch rejected")
			d.deadLetter(ctx, s.Name(), batch)
			return
		}

		if attempt >= d.cfg.Retry.MaxAttempts {
			d.logger.Error("retry budget exhausted, dead-lettering",
				"sink", s.Name(), "batch", batch.ID, "attempts", attempt, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "retry budget exhausted")
			d.deadLetter(ctx, s.Name(), batch)
			return
		}

		d.logger.Warn("sink push failed, retrying",
			"sink", s.Name(), "batch", batch.ID, "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			d.deadLetter(context.Background(), s.Name(), batch)
			return
		}

		backoff *= 2
		if backoff > d.cfg.Retry.Cap {
			backoff = d.cfg.Retry.Cap
		}
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, sinkName string, batch sink.Batch) {
	d.deadLettered.Add(1)
	if d.dead == nil {
		return
	}
	if err := d.dead.Append(ctx, sinkName, batch); err != nil {
		d.logger.Error("failed to write dead-letter entry",
			"sink", sinkName, "batch", batch.ID, "error", err)
	}
}

// Shutdown stops intake, flushes queued batches best effort, and waits up to
// the context deadline. Batches still queued when the deadline expires are
// abandoned by cancelling in-flight retries.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher drained", "delivered", d.delivered.Load(), "dead_lettered", d.deadLettered.Load())
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown grace expired, abandoning in-flight batches")
		if d.cancel != nil {
			d.cancel()
		}
		<-done
		return ctx.Err()
	}
}

// Delivered returns the number of successfully pushed batches across sinks.
func (d *Dispatcher) Delivered() int64 { return d.delivered.Load() }

// DeadLettered returns the number of dead-lettered batches across sinks.
func (d *Dispatcher) DeadLettered() int64 { return d.deadLettered.Load() }
