// Package aggregator windows raw metric points into finalized snapshots.
// It is the single authority for metric series state: series are created on
// first ingest, rotated on window close, and evicted once idle.
package aggregator

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidewatch/tidewatch/signal"
)

const shardCount = 16

// Config holds aggregator settings.
type Config struct {
	// WindowInterval is the fixed wall-clock aggregation window.
	WindowInterval time.Duration
	// MaxIdleWindows is the number of consecutive empty windows after which
	// a series is evicted. Zero means evict after the first empty window.
	MaxIdleWindows int
	// BucketBounds are the histogram bucket upper bounds, ascending. Empty
	// uses DefaultBucketBounds.
	BucketBounds []float64
}

// DefaultBucketBounds covers the value ranges of latency-style and
// count-style metrics reasonably well.
var DefaultBucketBounds = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Aggregator routes points to their series by identity key. Ingest calls for
// series in different shards never contend.
type Aggregator struct {
	cfg    Config
	shards [shardCount]*shard
	logger *slog.Logger

	clamped atomic.Int64
}

type shard struct {
	mu     sync.Mutex
	series map[string]*series
}

type series struct {
	key  string
	name string
	unit string
	tags map[string]string

	points []signal.MetricPoint
	lastTS time.Time
	idle   int
}

// New creates an aggregator.
func New(cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.WindowInterval <= 0 {
		cfg.WindowInterval = 10 * time.Second
	}
	if len(cfg.BucketBounds) == 0 {
		cfg.BucketBounds = DefaultBucketBounds
	}

	a := &Aggregator{
		cfg:    cfg,
		logger: logger.With("component", "aggregator"),
	}
	for i := range a.shards {
		a.shards[i] = &shard{series: make(map[string]*series)}
	}
	return a
}

func (a *Aggregator) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return a.shards[h.Sum32()%shardCount]
}

// Ingest routes the point to its series, creating the series if absent.
// Per-series timestamps stay monotonic in insertion order: a point older than
// the last accepted one is clamped forward and counted.
func (a *Aggregator) Ingest(p signal.MetricPoint) {
	key := p.IdentityKey()
	sh := a.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.series[key]
	if !ok {
		s = &series{key: key, name: p.Name, unit: p.Unit, tags: p.Tags}
		sh.series[key] = s
	}

	if p.Timestamp.Before(s.lastTS) {
		p.Timestamp = s.lastTS
		a.clamped.Add(1)
	}
	s.lastTS = p.Timestamp
	s.points = append(s.points, p)
	s.idle = 0
}

// CloseWindow finalizes every series against the window ending at now and
// returns the snapshots. Points older than the window boundary are cleared;
// points stamped at or after now roll into the next window. Series that
// stayed empty beyond the idle budget are evicted.
func (a *Aggregator) CloseWindow(now time.Time) []signal.Snapshot {
	windowStart := now.Add(-a.cfg.WindowInterval)

	var snapshots []signal.Snapshot
	for _, sh := range a.shards {
		sh.mu.Lock()
		for key, s := range sh.series {
			closed, rest := splitAt(s.points, now)
			s.points = rest

			if len(closed) == 0 {
				s.idle++
				if s.idle > a.cfg.MaxIdleWindows {
					delete(sh.series, key)
					a.logger.Debug("evicted idle series", "key", key, "idle_windows", s.idle)
				}
				continue
			}

			snapshots = append(snapshots, a.finalize(s, closed, windowStart, now))
		}
		sh.mu.Unlock()
	}
	return snapshots
}

// splitAt partitions points into those belonging to the closing window
// (timestamp before cutoff) and the remainder. Points are in timestamp order
// because ingest clamps them monotonic.
func splitAt(points []signal.MetricPoint, cutoff time.Time) (closed, rest []signal.MetricPoint) {
	i := len(points)
	for j, p := range points {
		if !p.Timestamp.Before(cutoff) {
			i = j
			break
		}
	}
	if i == len(points) {
		return points, nil
	}
	rest = make([]signal.MetricPoint, len(points)-i)
	copy(rest, points[i:])
	return points[:i], rest
}

func (a *Aggregator) finalize(s *series, points []signal.MetricPoint, start, end time.Time) signal.Snapshot {
	snap := signal.Snapshot{
		Key:         s.key,
		Name:        s.name,
		Unit:        s.unit,
		Tags:        s.tags,
		WindowStart: start,
		WindowEnd:   end,
	}

	values := make([]float64, 0, len(points))
	for i, p := range points {
		v := p.Value
		values = append(values, v)
		snap.Sum += v
		if i == 0 || v < snap.Min {
			snap.Min = v
		}
		if i == 0 || v > snap.Max {
			snap.Max = v
		}
		snap.Last = v
	}
	snap.Count = int64(len(points))

	h := newHistogram(a.cfg.BucketBounds, values)
	snap.Buckets = h.buckets()
	snap.Quantiles = h.quantiles(0.5, 0.9, 0.99)

	return snap
}

// SeriesCount returns the number of live series across all shards.
func (a *Aggregator) SeriesCount() int {
	n := 0
	for _, sh := range a.shards {
		sh.mu.Lock()
		n += len(sh.series)
		sh.mu.Unlock()
	}
	return n
}

// ClampedCount returns how many out-of-order points were clamped forward.
func (a *Aggregator) ClampedCount() int64 {
	return a.clamped.Load()
}
