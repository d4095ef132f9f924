package sink

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/tidewatch/tidewatch/signal"
)

// InfluxSink writes metric snapshots as InfluxDB points. Other batch kinds
// are acknowledged without writing; Influx is a time-series store, not a
// trace or alert archive.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxSink creates an Influx sink for the given server, org, and bucket.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

func (s *InfluxSink) Name() string { return "influx" }

func (s *InfluxSink) Push(ctx context.Context, batch Batch) error {
	if batch.Kind != BatchSnapshots {
		return nil
	}

	points := make([]*write.Point, 0, len(batch.Snapshots))
	for _, snap := range batch.Snapshots {
		fields := map[string]any{
			"count": snap.Count,
			"sum":   snap.Sum,
			"min":   snap.Min,
			"max":   snap.Max,
			"last":  snap.Last,
		}
		for q, v := range snap.Quantiles {
			fields[q] = v
		}

		points = append(points, influxdb2.NewPoint(snap.Name, snap.Tags, fields, snap.WindowEnd))
	}
	if len(points) == 0 {
		return nil
	}

	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return &signal.SinkUnavailableError{
			Sink: s.Name(),
			Err:  fmt.Errorf("influx write failed: %w", err),
		}
	}
	return nil
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

var _ Sink = (*InfluxSink)(nil)
