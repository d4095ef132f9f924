package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidewatch/tidewatch/alerting"
	"github.com/tidewatch/tidewatch/buffer"
	"github.com/tidewatch/tidewatch/collector"
	"github.com/tidewatch/tidewatch/dispatch"
	"github.com/tidewatch/tidewatch/pkg/config"
	"github.com/tidewatch/tidewatch/pkg/database"
	"github.com/tidewatch/tidewatch/pkg/redisq"
	"github.com/tidewatch/tidewatch/pkg/telemetry"
	"github.com/tidewatch/tidewatch/server"
	sig "github.com/tidewatch/tidewatch/signal"
	"github.com/tidewatch/tidewatch/sink"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collection engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:     "tidewatch",
		ServiceVersion:  cfg.Version,
		Environment:     cfg.Environment,
		OTLPEndpoint:    cfg.OTLPEndpoint,
		TracingEnabled:  cfg.TracingEnabled,
		TracingSampling: cfg.TracingSampling,
		LogLevel:        cfg.LogLevel,
		LogFormat:       cfg.LogFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer tp.Shutdown(context.Background())

	logger := tp.Logger()

	var rules []sig.AlertRule
	if cfg.RulesPath != "" {
		rules, err = config.LoadRules(cfg.RulesPath)
		if err != nil {
			return fmt.Errorf("failed to load alert rules: %w", err)
		}
		logger.Info("loaded alert rules", "count", len(rules), "path", cfg.RulesPath)
	}

	sinks, closers, err := buildSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	dead, err := buildDeadLetter(ctx, cfg, logger)
	if err != nil {
		return err
	}

	notifiers := []alerting.Notifier{alerting.NewLogNotifier(logger)}
	if cfg.Sinks.AlertWebhook != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Sinks.AlertWebhook, nil))
	}

	col := collector.New(collector.Config{
		WindowInterval:         cfg.WindowInterval,
		BufferCapacity:         cfg.BufferCapacity,
		BackpressurePolicy:     buffer.ParsePolicy(cfg.BackpressurePolicy),
		TraceTimeout:           cfg.TraceTimeout,
		SeriesMaxIdleWindows:   cfg.SeriesMaxIdleWindows,
		AlertHysteresisWindows: cfg.AlertHysteresisWindows,
		ShutdownGrace:          cfg.ShutdownGrace,
		Retry: dispatch.RetryConfig{
			Base:        cfg.Retry.Base,
			Cap:         cfg.Retry.Cap,
			MaxAttempts: cfg.Retry.MaxAttempts,
		},
	}, rules, sinks, dead, notifiers, logger)

	if err := col.Start(ctx); err != nil {
		return fmt.Errorf("failed to start collector: %w", err)
	}

	srv := server.New(cfg.HTTPPort, col, logger)
	serveErr := srv.Start()

	logger.Info("tidewatch running",
		"http_port", cfg.HTTPPort,
		"sinks", len(sinks),
		"rules", len(rules),
		"env", cfg.Environment,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	case s := <-sigCh:
		logger.Info("shutdown signal received", "signal", s.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	return col.Stop(shutdownCtx)
}

// buildSinks constructs every enabled sink from the config, returning
// cleanup functions for those holding connections.
func buildSinks(ctx context.Context, cfg *config.Config) ([]sink.Sink, []func(), error) {
	var sinks []sink.Sink
	var closers []func()

	if cfg.Sinks.Console {
		sinks = append(sinks, sink.NewConsoleSink(os.Stdout))
	}

	if cfg.Sinks.FilePath != "" {
		fs, err := sink.NewFileSink(cfg.Sinks.FilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file sink: %w", err)
		}
		sinks = append(sinks, fs)
	}

	if cfg.Sinks.HTTPEndpoint != "" {
		sinks = append(sinks, sink.NewHTTPSink(cfg.Sinks.HTTPEndpoint, &http.Client{
			Timeout: 10 * time.Second,
		}, nil))
	}

	if cfg.Sinks.Postgres.Enabled {
		db, err := database.ConnectDSN(ctx, cfg.DatabaseDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		ps, err := sink.NewPostgresSink(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to initialize postgres sink: %w", err)
		}
		sinks = append(sinks, ps)
		closers = append(closers, func() { db.Close() })
	}

	if cfg.Sinks.Influx.Enabled {
		is := sink.NewInfluxSink(cfg.Sinks.Influx.URL, cfg.Sinks.Influx.Token,
			cfg.Sinks.Influx.Org, cfg.Sinks.Influx.Bucket)
		sinks = append(sinks, is)
		closers = append(closers, is.Close)
	}

	return sinks, closers, nil
}

func buildDeadLetter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.DeadLetter, error) {
	switch cfg.DeadLetter.Backend {
	case "file":
		dl, err := dispatch.NewFileDeadLetter(cfg.DeadLetter.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open dead-letter file: %w", err)
		}
		return dl, nil
	case "redis":
		rcfg := redisq.DefaultConfig()
		rcfg.Addr = cfg.Redis.Addr
		rcfg.Password = cfg.Redis.Password
		rcfg.DB = cfg.Redis.DB

		client, err := redisq.Connect(ctx, rcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		client = client.WithLogger(logger)
		return dispatch.NewRedisDeadLetter(client, cfg.DeadLetter.RedisKey, cfg.DeadLetter.MaxLen), nil
	default:
		return dispatch.NewLogDeadLetter(logger), nil
	}
}
