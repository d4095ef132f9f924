package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// selfMetrics tracks the engine's own health on a private registry so host
// applications embedding the collector never collide with its collectors.
type selfMetrics struct {
	registry *prometheus.Registry

	ingested  *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	malformed *prometheus.CounterVec
	batches   *prometheus.CounterVec
}

func newSelfMetrics() *selfMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &selfMetrics{
		registry: reg,
		ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "signals_ingested_total",
			Help:      "Signals accepted into the ingestion buffers.",
		}, []string{"kind"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "signals_dropped_total",
			Help:      "Signals dropped by backpressure at the ingestion buffers.",
		}, []string{"kind"}),
		malformed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "signals_malformed_total",
			Help:      "Signals rejected by validation at the recording surface.",
		}, []string{"kind"}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "batches_dispatched_total",
			Help:      "Finalized batches handed to the export dispatcher.",
		}, []string{"kind"}),
	}
}

// registerGauges wires the pull-style gauges that read live pipeline state.
// Called once the owning collector is fully constructed.
func (m *selfMetrics) registerGauges(c *Collector) {
	factory := promauto.With(m.registry)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tidewatch",
		Name:      "active_series",
		Help:      "Metric series currently tracked by the aggregator.",
	}, func() float64 { return float64(c.agg.SeriesCount()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tidewatch",
		Name:      "pending_traces",
		Help:      "Traces buffered in the assembler awaiting completion.",
	}, func() float64 { return float64(c.asm.PendingCount()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tidewatch",
		Name:      "batches_delivered_total",
		Help:      "Batches successfully pushed to a sink.",
	}, func() float64 { return float64(c.disp.Delivered()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tidewatch",
		Name:      "batches_dead_lettered_total",
		Help:      "Batches handed to the dead-letter store.",
	}, func() float64 { return float64(c.disp.DeadLettered()) })
}
