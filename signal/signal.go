// Package signal defines the data model shared by the collection pipeline:
// metric points, trace spans, log entries, health checks, alert rules, and
// the finalized snapshots produced by aggregation.
package signal

import (
	"sort"
	"strings"
	"time"
)

// Kind identifies the type of a recorded signal.
type Kind int

const (
	KindMetric Kind = iota
	KindSpan
	KindLog
	KindHealthCheck
)

// String returns the kind name used in logs and self-metrics labels.
func (k Kind) String() string {
	switch k {
	case KindMetric:
		return "metric"
	case KindSpan:
		return "span"
	case KindLog:
		return "log"
	case KindHealthCheck:
		return "healthcheck"
	default:
		return "unknown"
	}
}

// MetricPoint is a single metric measurement. Points are immutable once
// recorded.
type MetricPoint struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// IdentityKey returns the series identity for this point: the metric name
// joined with its tags in sorted key order. Two points with the same identity
// key belong to the same series.
func (p MetricPoint) IdentityKey() string {
	if len(p.Tags) == 0 {
		return p.Name
	}

	keys := make([]string, 0, len(p.Tags))
	for k := range p.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(p.Name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.Tags[k])
	}
	return b.String()
}

// Validate checks required fields. Malformed points are rejected at
// ingestion, never later in the pipeline.
func (p MetricPoint) Validate() error {
	if p.Name == "" {
		return &MalformedSignalError{Kind: KindMetric, Field: "name", Reason: "must not be empty"}
	}
	if p.Timestamp.IsZero() {
		return &MalformedSignalError{Kind: KindMetric, Field: "timestamp", Reason: "must be set"}
	}
	return nil
}

// SpanStatus represents the outcome of a span.
type SpanStatus int

const (
	SpanStatusUnspecified SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

func (s SpanStatus) String() string {
	switch s {
	case SpanStatusOK:
		return "ok"
	case SpanStatusError:
		return "error"
	default:
		return "unspecified"
	}
}

// Span is a single operation in a distributed trace. A span with no
// ParentSpanID is the root of its trace.
type Span struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Name         string            `json:"name"`
	ServiceName  string            `json:"service_name,omitempty"`
	Start        time.Time         `json:"start"`
	End          time.Time         `json:"end"`
	Status       SpanStatus        `json:"status"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Root reports whether this span is the root of its trace.
func (s Span) Root() bool {
	return s.ParentSpanID == ""
}

// Ended reports whether the span has finished.
func (s Span) Ended() bool {
	return !s.End.IsZero()
}

// Validate checks required fields.
func (s Span) Validate() error {
	if s.TraceID == "" {
		return &MalformedSignalError{Kind: KindSpan, Field: "trace_id", Reason: "must not be empty"}
	}
	if s.SpanID == "" {
		return &MalformedSignalError{Kind: KindSpan, Field: "span_id", Reason: "must not be empty"}
	}
	if s.Name == "" {
		return &MalformedSignalError{Kind: KindSpan, Field: "name", Reason: "must not be empty"}
	}
	if s.Start.IsZero() {
		return &MalformedSignalError{Kind: KindSpan, Field: "start", Reason: "must be set"}
	}
	return nil
}

// Trace is the set of spans sharing a trace ID. Complete is false when the
// trace was force-flushed by the assembler timeout before its root ended.
type Trace struct {
	TraceID       string        `json:"trace_id"`
	Spans         []Span        `json:"spans"`
	Start         time.Time     `json:"start"`
	Duration      time.Duration `json:"duration"`
	RootService   string        `json:"root_service,omitempty"`
	RootOperation string        `json:"root_operation,omitempty"`
	Complete      bool          `json:"complete"`
}

// LogEntry is a structured, append-only log record.
type LogEntry struct {
	Message       string         `json:"message"`
	Level         string         `json:"level"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Validate checks required fields.
func (e LogEntry) Validate() error {
	if e.Message == "" {
		return &MalformedSignalError{Kind: KindLog, Field: "message", Reason: "must not be empty"}
	}
	if e.Timestamp.IsZero() {
		return &MalformedSignalError{Kind: KindLog, Field: "timestamp", Reason: "must be set"}
	}
	return nil
}

// HealthStatus represents the reported health of a component.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is a point-in-time health report for a component.
type HealthCheck struct {
	Component    string       `json:"component"`
	Status       HealthStatus `json:"status"`
	LastChecked  time.Time    `json:"last_checked"`
	Dependencies []string     `json:"dependencies,omitempty"`
}

// Validate checks required fields.
func (h HealthCheck) Validate() error {
	if h.Component == "" {
		return &MalformedSignalError{Kind: KindHealthCheck, Field: "component", Reason: "must not be empty"}
	}
	switch h.Status {
	case HealthHealthy, HealthDegraded, HealthUnhealthy:
	default:
		return &MalformedSignalError{Kind: KindHealthCheck, Field: "status", Reason: "must be healthy, degraded or unhealthy"}
	}
	return nil
}

// Snapshot is the finalized aggregate of one metric series over one closed
// window. It carries counter, gauge, and histogram views of the same points;
// consumers pick the one matching their metric semantics.
type Snapshot struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Unit        string            `json:"unit,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`

	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Last  float64 `json:"last"`

	Buckets   []BucketCount      `json:"buckets,omitempty"`
	Quantiles map[string]float64 `json:"quantiles,omitempty"`
}

// BucketCount is a cumulative histogram bucket: the number of observed values
// less than or equal to UpperBound.
type BucketCount struct {
	UpperBound float64 `json:"le"`
	Count      int64   `json:"count"`
}

// Aggregate selects which snapshot value an alert rule compares against.
type Aggregate string

const (
	AggregateSum   Aggregate = "sum"
	AggregateCount Aggregate = "count"
	AggregateAvg   Aggregate = "avg"
	AggregateMin   Aggregate = "min"
	AggregateMax   Aggregate = "max"
	AggregateLast  Aggregate = "last"
)

// Value extracts the aggregate named by a from the snapshot.
func (s Snapshot) Value(a Aggregate) float64 {
	switch a {
	case AggregateSum:
		return s.Sum
	case AggregateCount:
		return float64(s.Count)
	case AggregateAvg:
		if s.Count == 0 {
			return 0
		}
		return s.Sum / float64(s.Count)
	case AggregateMin:
		return s.Min
	case AggregateMax:
		return s.Max
	default:
		return s.Last
	}
}
