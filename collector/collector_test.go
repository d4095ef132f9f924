package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tidewatch/tidewatch/alerting"
	"github.com/tidewatch/tidewatch/buffer"
	"github.com/tidewatch/tidewatch/pkg/testutil"
	"github.com/tidewatch/tidewatch/signal"
	"github.com/tidewatch/tidewatch/sink"
)

// captureSink records every pushed batch.
type captureSink struct {
	mu      sync.Mutex
	batches []sink.Batch
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Push(ctx context.Context, batch sink.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *captureSink) byKind(kind sink.BatchKind) []sink.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sink.Batch
	for _, b := range s.batches {
		if b.Kind == kind {
			out = append(out, b)
		}
	}
	return out
}

// fakeNotifier counts notifications.
type fakeNotifier struct {
	mu     sync.Mutex
	events []signal.AlertEvent
}

func (f *fakeNotifier) Name() string { return "fake" }

func (f *fakeNotifier) Notify(ctx context.Context, event signal.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func testConfig() Config {
	return Config{
		WindowInterval: 200 * time.Millisecond,
		BufferCapacity: 64,
		TraceTimeout:   time.Second,
		DrainInterval:  20 * time.Millisecond,
	}
}

func TestCollector_MetricsFlowToSnapshots(t *testing.T) {
	cs := &captureSink{}
	c := New(testConfig(), nil, []sink.Sink{cs}, nil, nil, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := c.RecordMetric("requests", 1, "count", map[string]string{"zone": "eu"}, now); err != nil {
			t.Fatalf("RecordMetric() error = %v", err)
		}
	}

	testutil.WaitFor(t, 3*time.Second, func() bool {
		return len(cs.byKind(sink.BatchSnapshots)) > 0
	}, "snapshot batch dispatched")

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	batches := cs.byKind(sink.BatchSnapshots)
	snap := batches[0].Snapshots[0]
	if snap.Key != "requests|zone=eu" {
		t.Errorf("snapshot key = %q, want requests|zone=eu", snap.Key)
	}
	if snap.Sum != 3 || snap.Count != 3 {
		t.Errorf("snapshot sum = %v count = %v, want 3 and 3", snap.Sum, snap.Count)
	}
}

func TestCollector_SpansFlowToTraces(t *testing.T) {
	cs := &captureSink{}
	c := New(testConfig(), nil, []sink.Sink{cs}, nil, nil, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop(context.Background())

	start := time.Now()
	child := signal.Span{
		TraceID: "t1", SpanID: "s2", ParentSpanID: "s1",
		Name: "query", Start: start, End: start.Add(5 * time.Millisecond),
	}
	root := signal.Span{
		TraceID: "t1", SpanID: "s1", Name: "handle",
		ServiceName: "api", Start: start, End: start.Add(10 * time.Millisecond),
	}
	if err := c.RecordSpan(child); err != nil {
		t.Fatalf("RecordSpan(child) error = %v", err)
	}
	if err := c.RecordSpan(root); err != nil {
		t.Fatalf("RecordSpan(root) error = %v", err)
	}

	testutil.WaitFor(t, 3*time.Second, func() bool {
		return len(cs.byKind(sink.BatchTraces)) > 0
	}, "trace batch dispatched")

	trace := cs.byKind(sink.BatchTraces)[0].Traces[0]
	if trace.TraceID != "t1" || len(trace.Spans) != 2 {
		t.Fatalf("trace = %+v, want t1 with 2 spans", trace)
	}
	if !trace.Complete {
		t.Error("trace.Complete = false, want true for root-completed trace")
	}
	if trace.RootService != "api" || trace.RootOperation != "handle" {
		t.Errorf("trace root = %s/%s, want api/handle", trace.RootService, trace.RootOperation)
	}
}

func TestCollector_LogsAndHealthChecksPassThrough(t *testing.T) {
	cs := &captureSink{}
	c := New(testConfig(), nil, []sink.Sink{cs}, nil, nil, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop(context.Background())

	now := time.Now()
	if err := c.RecordLog(signal.LogEntry{Message: "boot", Level: "info", Timestamp: now}); err != nil {
		t.Fatalf("RecordLog() error = %v", err)
	}
	if err := c.RecordHealthCheck(signal.HealthCheck{Component: "db", Status: signal.HealthHealthy, LastChecked: now}); err != nil {
		t.Fatalf("RecordHealthCheck() error = %v", err)
	}

	testutil.WaitFor(t, 3*time.Second, func() bool {
		return len(cs.byKind(sink.BatchLogs)) > 0 && len(cs.byKind(sink.BatchHealthChecks)) > 0
	}, "log and health check batches dispatched")

	if got := cs.byKind(sink.BatchLogs)[0].Logs[0].Message; got != "boot" {
		t.Errorf("log message = %q, want boot", got)
	}
	if got := cs.byKind(sink.BatchHealthChecks)[0].HealthChecks[0].Component; got != "db" {
		t.Errorf("health check component = %q, want db", got)
	}
}

func TestCollector_AlertEventsEmitted(t *testing.T) {
	rules := []signal.AlertRule{{
		ID:         "high-requests",
		MetricKey:  "requests",
		Aggregate:  signal.AggregateSum,
		Threshold:  2,
		Comparator: signal.CompareGT,
		Severity:   signal.SeverityWarning,
	}}

	cs := &captureSink{}
	fn := &fakeNotifier{}
	c := New(testConfig(), rules, []sink.Sink{cs}, nil, []alerting.Notifier{fn}, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop(context.Background())

	now := time.Now()
	for i := 0; i < 5; i++ {
		if err := c.RecordMetric("requests", 1, "count", nil, now); err != nil {
			t.Fatalf("RecordMetric() error = %v", err)
		}
	}

	testutil.WaitFor(t, 3*time.Second, func() bool {
		return len(cs.byKind(sink.BatchAlerts)) > 0
	}, "alert batch dispatched")

	ev := cs.byKind(sink.BatchAlerts)[0].Events[0]
	if ev.RuleID != "high-requests" || ev.To != signal.SeverityWarning {
		t.Errorf("event = %+v, want high-requests transition to warning", ev)
	}

	testutil.WaitFor(t, time.Second, func() bool {
		return fn.count() > 0
	}, "notifier invoked")

	states := c.AlertStates()
	if states["high-requests"].Severity != signal.SeverityWarning {
		t.Errorf("alert state = %+v, want warning", states["high-requests"])
	}
}

func TestCollector_MalformedRejected(t *testing.T) {
	c := New(testConfig(), nil, nil, nil, nil, testutil.DiscardLogger())

	if err := c.RecordMetric("", 1, "", nil, time.Now()); !signal.IsMalformed(err) {
		t.Errorf("RecordMetric() error = %v, want malformed", err)
	}
	if err := c.RecordSpan(signal.Span{}); !signal.IsMalformed(err) {
		t.Errorf("RecordSpan() error = %v, want malformed", err)
	}
	if err := c.RecordLog(signal.LogEntry{}); !signal.IsMalformed(err) {
		t.Errorf("RecordLog() error = %v, want malformed", err)
	}
	if err := c.RecordHealthCheck(signal.HealthCheck{}); !signal.IsMalformed(err) {
		t.Errorf("RecordHealthCheck() error = %v, want malformed", err)
	}
}

func TestCollector_BackpressureReject(t *testing.T) {
	cfg := testConfig()
	cfg.BufferCapacity = 2
	cfg.BackpressurePolicy = buffer.PolicyReject
	// Long drain interval so the buffer stays full for the duration.
	cfg.DrainInterval = time.Minute
	cfg.WindowInterval = time.Minute

	c := New(cfg, nil, nil, nil, nil, testutil.DiscardLogger())

	now := time.Now()
	for i := 0; i < 2; i++ {
		if err := c.RecordMetric("m", 1, "", nil, now); err != nil {
			t.Fatalf("RecordMetric() error = %v", err)
		}
	}
	if err := c.RecordMetric("m", 1, "", nil, now); err != signal.ErrCapacityExceeded {
		t.Errorf("RecordMetric() error = %v, want ErrCapacityExceeded", err)
	}
}

func TestCollector_StopFlushesBufferedSignals(t *testing.T) {
	cfg := testConfig()
	// Ticks never fire; everything must come out through Stop.
	cfg.DrainInterval = time.Minute
	cfg.WindowInterval = time.Minute

	cs := &captureSink{}
	c := New(cfg, nil, []sink.Sink{cs}, nil, nil, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	now := time.Now()
	if err := c.RecordMetric("m", 7, "", nil, now); err != nil {
		t.Fatalf("RecordMetric() error = %v", err)
	}
	if err := c.RecordSpan(signal.Span{TraceID: "t1", SpanID: "s1", Name: "op", Start: now}); err != nil {
		t.Fatalf("RecordSpan() error = %v", err)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := cs.byKind(sink.BatchSnapshots); len(got) != 1 || got[0].Snapshots[0].Sum != 7 {
		t.Errorf("snapshot batches = %+v, want one with sum 7", got)
	}

	traces := cs.byKind(sink.BatchTraces)
	if len(traces) != 1 {
		t.Fatalf("trace batches = %d, want 1 (incomplete trace force-flushed)", len(traces))
	}
	if traces[0].Traces[0].Complete {
		t.Error("trace.Complete = true, want false for force-flushed trace")
	}
}

func TestCollector_EmitsInternalSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	cfg := testConfig()
	cfg.DrainInterval = time.Minute
	cfg.WindowInterval = time.Minute

	cs := &captureSink{}
	c := New(cfg, nil, []sink.Sink{cs}, nil, nil, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := c.RecordMetric("m", 1, "", nil, time.Now()); err != nil {
		t.Fatalf("RecordMetric() error = %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	names := make(map[string]int)
	for _, s := range exporter.GetSpans() {
		names[s.Name]++
	}
	if names["collector.close_window"] == 0 {
		t.Error("no collector.close_window span exported")
	}
	if names["dispatch.deliver"] == 0 {
		t.Error("no dispatch.deliver span exported")
	}
}

func TestCollector_StartTwice(t *testing.T) {
	c := New(testConfig(), nil, nil, nil, nil, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop(context.Background())

	if err := c.Start(ctx); err == nil {
		t.Error("second Start() error = nil, want error")
	}
}
