package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidewatch/tidewatch/signal"
)

// Notifier delivers alert events to an external channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event signal.AlertEvent) error
}

// NotifyAll fans an event batch out to every notifier. A failing notifier is
// logged and skipped; notification failures are never fatal to the pipeline.
func NotifyAll(ctx context.Context, notifiers []Notifier, events []signal.AlertEvent, logger *slog.Logger) {
	for _, ev := range events {
		for _, n := range notifiers {
			if err := n.Notify(ctx, ev); err != nil {
				logger.Error("alert notification failed",
					"notifier", n.Name(), "rule", ev.RuleID, "error", err)
			}
		}
	}
}

// LogNotifier writes alert events to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "alert-notifier")}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, event signal.AlertEvent) error {
	n.logger.Warn("alert",
		"rule", event.RuleID,
		"metric_key", event.MetricKey,
		"from", event.From,
		"to", event.To,
		"value", event.Value,
		"threshold", event.Threshold,
	)
	return nil
}

// WebhookNotifier POSTs alert events as JSON to a remote endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier for the given URL.
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, event signal.AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
)
