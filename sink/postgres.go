package sink

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/tidewatch/tidewatch/pkg/database"
	"github.com/tidewatch/tidewatch/signal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresSink persists snapshots, traces, and alert events. Log and health
// check batches are acknowledged without storage; Postgres is the archive for
// aggregated signals, not a log store.
type PostgresSink struct {
	db *database.DB
}

// NewPostgresSink runs the sink's migrations and returns the sink.
func NewPostgresSink(ctx context.Context, db *database.DB) (*PostgresSink, error) {
	migrator := database.NewMigrator(db, "tidewatch")
	if err := migrator.LoadMigrations(migrationsFS, "migrations"); err != nil {
		return nil, fmt.Errorf("failed to load sink migrations: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply sink migrations: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Push(ctx context.Context, batch Batch) error {
	switch batch.Kind {
	case BatchSnapshots:
		return s.pushSnapshots(ctx, batch.Snapshots)
	case BatchTraces:
		return s.pushTraces(ctx, batch.Traces)
	case BatchAlerts:
		return s.pushAlerts(ctx, batch.Events)
	default:
		return nil
	}
}

func (s *PostgresSink) pushSnapshots(ctx context.Context, snaps []signal.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &signal.SinkUnavailableError{Sink: s.Name(), Err: err}
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO tidewatch_snapshots
			(series_key, name, unit, tags, window_start, window_end,
			 point_count, sum, min, max, last, buckets, quantiles)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for _, snap := range snaps {
		tags, err := json.Marshal(snap.Tags)
		if err != nil {
			return &signal.SinkRejectedError{Sink: s.Name(), Reason: err.Error()}
		}
		buckets, err := json.Marshal(snap.Buckets)
		if err != nil {
			return &signal.SinkRejectedError{Sink: s.Name(), Reason: err.Error()}
		}
		quantiles, err := json.Marshal(snap.Quantiles)
		if err != nil {
			return &signal.SinkRejectedError{Sink: s.Name(), Reason: err.Error()}
		}

		if _, err := tx.ExecContext(ctx, query,
			snap.Key, snap.Name, snap.Unit, tags,
			snap.WindowStart, snap.WindowEnd,
			snap.Count, snap.Sum, snap.Min, snap.Max, snap.Last,
			buckets, quantiles,
		); err != nil {
			return &signal.SinkUnavailableError{Sink: s.Name(), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &signal.SinkUnavailableError{Sink: s.Name(), Err: err}
	}
	return nil
}

func (s *PostgresSink) pushTraces(ctx context.Context, traces []signal.Trace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &signal.SinkUnavailableError{Sink: s.Name(), Err: err}
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO tidewatch_traces
			(trace_id, complete, start_time, duration_us, root_service, root_operation, spans)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (trace_id) DO NOTHING
	`
	for _, tr := range traces {
		spans, err := json.Marshal(tr.Spans)
		if err != nil {
			return &signal.SinkRejectedError{Sink: s.Name(), Reason: err.Error()}
		}

		if _, err := tx.ExecContext(ctx, query,
			tr.TraceID, tr.Complete, tr.Start, tr.Duration.Microseconds(),
			tr.RootService, tr.RootOperation, spans,
		); err != nil {
			return &signal.SinkUnavailableError{Sink: s.Name(), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &signal.SinkUnavailableError{Sink: s.Name(), Err: err}
	}
	return nil
}

func (s *PostgresSink) pushAlerts(ctx context.Context, events []signal.AlertEvent) error {
	const query = `
		INSERT INTO tidewatch_alert_events
			(id, rule_id, metric_key, from_severity, to_severity, value, threshold, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	for _, ev := range events {
		if _, err := s.db.ExecContext(ctx, query,
			ev.ID, ev.RuleID, ev.MetricKey,
			ev.From.String(), ev.To.String(),
			ev.Value, ev.Threshold, ev.At,
		); err != nil {
			return &signal.SinkUnavailableError{Sink: s.Name(), Err: err}
		}
	}
	return nil
}

var _ Sink = (*PostgresSink)(nil)
