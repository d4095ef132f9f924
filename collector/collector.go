// Package collector wires the full collection pipeline: ingestion buffers,
// the metric aggregator, the span assembler, the alert evaluator, and the
// export dispatcher. A Collector is the single entry point host applications
// embed to record signals.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tidewatch/tidewatch/aggregator"
	"github.com/tidewatch/tidewatch/alerting"
	"github.com/tidewatch/tidewatch/assembler"
	"github.com/tidewatch/tidewatch/buffer"
	"github.com/tidewatch/tidewatch/dispatch"
	"github.com/tidewatch/tidewatch/signal"
	"github.com/tidewatch/tidewatch/sink"
)

// Config holds pipeline settings.
type Config struct {
	// WindowInterval is the aggregation window; snapshots, alert evaluation,
	// and trace batch flushes all run on this cadence.
	WindowInterval time.Duration
	// BufferCapacity bounds each per-kind ingestion buffer.
	BufferCapacity int
	// BackpressurePolicy selects reject or drop-oldest on full buffers.
	BackpressurePolicy buffer.Policy
	// TraceTimeout force-flushes traces whose root never completes.
	TraceTimeout time.Duration
	// SeriesMaxIdleWindows evicts metric series after this many empty windows.
	SeriesMaxIdleWindows int
	// AlertHysteresisWindows is the default downgrade hysteresis for rules
	// that do not set their own.
	AlertHysteresisWindows int
	// DrainInterval is the cadence at which buffers are drained into the
	// downstream stages.
	DrainInterval time.Duration
	// DrainMax bounds one drain pass per buffer.
	DrainMax int
	// ShutdownGrace bounds how long Stop waits for the dispatcher to flush.
	ShutdownGrace time.Duration

	Retry dispatch.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.WindowInterval <= 0 {
		c.WindowInterval = 10 * time.Second
	}
	if c.BufferCapacity < 1 {
		c.BufferCapacity = 4096
	}
	if c.BackpressurePolicy == "" {
		c.BackpressurePolicy = buffer.PolicyReject
	}
	if c.TraceTimeout <= 0 {
		c.TraceTimeout = 30 * time.Second
	}
	if c.AlertHysteresisWindows < 1 {
		c.AlertHysteresisWindows = 3
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = 250 * time.Millisecond
	}
	if c.DrainMax < 1 {
		c.DrainMax = 1024
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	return c
}

// Collector owns the whole pipeline. Record calls are safe from any
// goroutine and never block on sinks.
type Collector struct {
	cfg    Config
	logger *slog.Logger

	metricBuf *buffer.Ring[signal.MetricPoint]
	spanBuf   *buffer.Ring[signal.Span]
	logBuf    *buffer.Ring[signal.LogEntry]
	healthBuf *buffer.Ring[signal.HealthCheck]

	agg       *aggregator.Aggregator
	asm       *assembler.Assembler
	eval      *alerting.Evaluator
	disp      *dispatch.Dispatcher
	notifiers []alerting.Notifier

	// Traces flushed by the assembler accumulate here until the next batch
	// flush; the emit callback runs under an assembler shard lock and must
	// stay cheap.
	tracesMu      sync.Mutex
	flushedTraces []signal.Trace

	metrics *selfMetrics
	tracer  trace.Tracer

	nowFn   func() time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// New assembles a collector from its parts. Sinks, dead-letter store, alert
// rules, and notifiers come from the caller; everything else is built here.
func New(cfg Config, rules []signal.AlertRule, sinks []sink.Sink, dead dispatch.DeadLetter, notifiers []alerting.Notifier, logger *slog.Logger) *Collector {
	cfg = cfg.withDefaults()

	c := &Collector{
		cfg:    cfg,
		logger: logger.With("component", "collector"),

		metricBuf: buffer.NewRing[signal.MetricPoint](cfg.BufferCapacity, cfg.BackpressurePolicy),
		spanBuf:   buffer.NewRing[signal.Span](cfg.BufferCapacity, cfg.BackpressurePolicy),
		logBuf:    buffer.NewRing[signal.LogEntry](cfg.BufferCapacity, cfg.BackpressurePolicy),
		healthBuf: buffer.NewRing[signal.HealthCheck](cfg.BufferCapacity, cfg.BackpressurePolicy),

		notifiers: notifiers,
		metrics:   newSelfMetrics(),
		tracer:    otel.Tracer("tidewatch/collector"),
		nowFn:     time.Now,
	}

	c.agg = aggregator.New(aggregator.Config{
		WindowInterval: cfg.WindowInterval,
		MaxIdleWindows: cfg.SeriesMaxIdleWindows,
	}, logger)
	c.asm = assembler.New(assembler.Config{
		TraceTimeout: cfg.TraceTimeout,
	}, c.collectTrace, logger)
	c.eval = alerting.New(alerting.Config{
		HysteresisWindows: cfg.AlertHysteresisWindows,
	}, rules, logger)
	c.disp = dispatch.New(dispatch.Config{Retry: cfg.Retry}, sinks, dead, logger)

	c.metrics.registerGauges(c)
	return c
}

// Registry exposes the engine's self-metrics for scraping.
func (c *Collector) Registry() *prometheus.Registry {
	return c.metrics.registry
}

// RecordMetric records a single metric measurement.
func (c *Collector) RecordMetric(name string, value float64, unit string, tags map[string]string, ts time.Time) error {
	return c.RecordMetricPoint(signal.MetricPoint{
		Name:      name,
		Value:     value,
		Unit:      unit,
		Tags:      tags,
		Timestamp: ts,
	})
}

// RecordMetricPoint records a metric point.
func (c *Collector) RecordMetricPoint(p signal.MetricPoint) error {
	if err := p.Validate(); err != nil {
		c.metrics.malformed.WithLabelValues(signal.KindMetric.String()).Inc()
		return err
	}
	return push(c, c.metricBuf, p, signal.KindMetric)
}

// RecordSpan records a trace span.
func (c *Collector) RecordSpan(s signal.Span) error {
	if err := s.Validate(); err != nil {
		c.metrics.malformed.WithLabelValues(signal.KindSpan.String()).Inc()
		return err
	}
	return push(c, c.spanBuf, s, signal.KindSpan)
}

// RecordLog records a structured log entry.
func (c *Collector) RecordLog(e signal.LogEntry) error {
	if err := e.Validate(); err != nil {
		c.metrics.malformed.WithLabelValues(signal.KindLog.String()).Inc()
		return err
	}
	return push(c, c.logBuf, e, signal.KindLog)
}

// RecordHealthCheck records a component health report.
func (c *Collector) RecordHealthCheck(h signal.HealthCheck) error {
	if err := h.Validate(); err != nil {
		c.metrics.malformed.WithLabelValues(signal.KindHealthCheck.String()).Inc()
		return err
	}
	return push(c, c.healthBuf, h, signal.KindHealthCheck)
}

func push[T any](c *Collector, buf *buffer.Ring[T], v T, kind signal.Kind) error {
	if err := buf.Push(v); err != nil {
		c.metrics.dropped.WithLabelValues(kind.String()).Inc()
		return err
	}
	c.metrics.ingested.WithLabelValues(kind.String()).Inc()
	return nil
}

// Start launches the pipeline loops. The context bounds the collector's
// lifetime; Stop performs the graceful variant.
func (c *Collector) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("collector already started")
	}

	c.disp.Start(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go c.drainLoop(loopCtx)
	go c.windowLoop(loopCtx)

	c.logger.Info("collector started",
		"window_interval", c.cfg.WindowInterval,
		"buffer_capacity", c.cfg.BufferCapacity,
		"backpressure_policy", c.cfg.BackpressurePolicy,
	)
	return nil
}

// Stop drains the buffers, closes the in-progress window, force-flushes
// pending traces, and shuts the dispatcher down within the grace period.
func (c *Collector) Stop(ctx context.Context) error {
	if !c.started.Load() || !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	c.cancel()
	c.wg.Wait()

	now := c.nowFn()
	c.drainOnce(now)
	c.closeWindow(now)

	// Advancing past the trace timeout flushes every pending trace as
	// incomplete rather than losing it.
	c.asm.Sweep(now.Add(c.cfg.TraceTimeout + time.Second))
	c.flushTraces(now)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownGrace)
	defer cancel()
	if err := c.disp.Shutdown(shutdownCtx); err != nil {
		return err
	}

	c.logger.Info("collector stopped",
		"delivered", c.disp.Delivered(),
		"dead_lettered", c.disp.DeadLettered(),
	)
	return nil
}

func (c *Collector) drainLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.drainOnce(c.nowFn())
		}
	}
}

func (c *Collector) windowLoop(ctx context.Context) {
	defer c.wg.Done()

	window := time.NewTicker(c.cfg.WindowInterval)
	defer window.Stop()

	sweepEvery := c.cfg.TraceTimeout / 4
	if sweepEvery < time.Second {
		sweepEvery = time.Second
	}
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-window.C:
			c.closeWindow(c.nowFn())
		case <-sweep.C:
			now := c.nowFn()
			c.asm.Sweep(now)
			c.flushTraces(now)
		}
	}
}

// drainOnce moves buffered signals into the downstream stages. Logs and
// health checks are pass-through: they batch straight to the dispatcher.
func (c *Collector) drainOnce(now time.Time) {
	for {
		points := c.metricBuf.Drain(c.cfg.DrainMax)
		for _, p := range points {
			c.agg.Ingest(p)
		}
		if len(points) < c.cfg.DrainMax {
			break
		}
	}

	for {
		spans := c.spanBuf.Drain(c.cfg.DrainMax)
		for _, s := range spans {
			c.asm.Ingest(s, now)
		}
		if len(spans) < c.cfg.DrainMax {
			break
		}
	}

	if logs := c.logBuf.Drain(c.cfg.BufferCapacity); len(logs) > 0 {
		batch := sink.NewBatch(sink.BatchLogs, now)
		batch.Logs = logs
		c.dispatch(batch)
	}

	if checks := c.healthBuf.Drain(c.cfg.BufferCapacity); len(checks) > 0 {
		batch := sink.NewBatch(sink.BatchHealthChecks, now)
		batch.HealthChecks = checks
		c.dispatch(batch)
	}
}

// closeWindow finalizes the aggregation window, evaluates alert rules over
// the resulting snapshots, and flushes any traces completed since the last
// pass.
func (c *Collector) closeWindow(now time.Time) {
	ctx, span := c.tracer.Start(context.Background(), "collector.close_window")
	defer span.End()

	snapshots := c.agg.CloseWindow(now)
	if len(snapshots) > 0 {
		batch := sink.NewBatch(sink.BatchSnapshots, now)
		batch.Snapshots = snapshots
		c.dispatch(batch)
	}

	events := c.eval.Evaluate(snapshots, now)
	if len(events) > 0 {
		batch := sink.NewBatch(sink.BatchAlerts, now)
		batch.Events = events
		c.dispatch(batch)

		alerting.NotifyAll(ctx, c.notifiers, events, c.logger)
	}

	span.SetAttributes(
		attribute.Int("window.snapshots", len(snapshots)),
		attribute.Int("window.alert_events", len(events)),
	)

	c.flushTraces(now)
}

func (c *Collector) collectTrace(t signal.Trace) {
	c.tracesMu.Lock()
	c.flushedTraces = append(c.flushedTraces, t)
	c.tracesMu.Unlock()
}

func (c *Collector) flushTraces(now time.Time) {
	c.tracesMu.Lock()
	traces := c.flushedTraces
	c.flushedTraces = nil
	c.tracesMu.Unlock()

	if len(traces) == 0 {
		return
	}
	batch := sink.NewBatch(sink.BatchTraces, now)
	batch.Traces = traces
	c.dispatch(batch)
}

func (c *Collector) dispatch(batch sink.Batch) {
	c.metrics.batches.WithLabelValues(string(batch.Kind)).Inc()
	c.disp.Dispatch(batch)
}

// AlertStates returns the current per-rule alert states.
func (c *Collector) AlertStates() map[string]signal.AlertState {
	return c.eval.States()
}

// Health summarizes pipeline state for liveness endpoints.
type Health struct {
	SeriesCount   int   `json:"series_count"`
	PendingTraces int   `json:"pending_traces"`
	Delivered     int64 `json:"delivered_batches"`
	DeadLettered  int64 `json:"dead_lettered_batches"`
	DroppedSpans  int64 `json:"late_dropped_spans"`
	ClampedPoints int64 `json:"clamped_points"`
}

// Health reports a point-in-time pipeline summary.
func (c *Collector) Health() Health {
	return Health{
		SeriesCount:   c.agg.SeriesCount(),
		PendingTraces: c.asm.PendingCount(),
		Delivered:     c.disp.Delivered(),
		DeadLettered:  c.disp.DeadLettered(),
		DroppedSpans:  c.asm.LateDropped(),
		ClampedPoints: c.agg.ClampedCount(),
	}
}
