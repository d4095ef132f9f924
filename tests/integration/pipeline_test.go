// Package integration contains integration tests against a running
// tidewatch instance.
//
//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if addr := os.Getenv("TIDEWATCH_ADDR"); addr != "" {
		return "http://" + addr
	}
	return "http://localhost:8080"
}

func postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}

	resp, err := http.Post(baseURL()+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

func TestIngestMetrics(t *testing.T) {
	now := time.Now().Format(time.RFC3339Nano)
	body := []map[string]any{
		{"name": "integration.requests", "value": 1, "tags": map[string]string{"test": "pipeline"}, "timestamp": now},
		{"name": "integration.latency", "value": 12.5, "unit": "ms", "timestamp": now},
	}

	resp := postJSON(t, "/v1/metrics", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var result struct {
		Accepted int `json:"accepted"`
		Rejected int `json:"rejected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", result.Accepted)
	}
}

func TestIngestSpans(t *testing.T) {
	now := time.Now()
	traceID := fmt.Sprintf("it-%d", now.UnixNano())
	body := []map[string]any{
		{
			"trace_id": traceID, "span_id": "child", "parent_span_id": "root",
			"name": "db.query", "service_name": "integration",
			"start": now.Format(time.RFC3339Nano),
			"end":   now.Add(5 * time.Millisecond).Format(time.RFC3339Nano),
		},
		{
			"trace_id": traceID, "span_id": "root",
			"name": "handle", "service_name": "integration",
			"start": now.Format(time.RFC3339Nano),
			"end":   now.Add(10 * time.Millisecond).Format(time.RFC3339Nano),
		},
	}

	resp := postJSON(t, "/v1/spans", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}

func TestIngestLogs(t *testing.T) {
	body := []map[string]any{{
		"message": "integration test entry", "level": "info",
		"timestamp": time.Now().Format(time.RFC3339Nano),
	}}

	resp := postJSON(t, "/v1/logs", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}

func TestIngestHealthChecks(t *testing.T) {
	body := []map[string]any{{
		"component": "integration-suite", "status": "healthy",
		"last_checked": time.Now().Format(time.RFC3339Nano),
	}}

	resp := postJSON(t, "/v1/healthchecks", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}

func TestMalformedRejected(t *testing.T) {
	body := []map[string]any{{"name": "", "value": 1}}

	resp := postJSON(t, "/v1/metrics", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	resp, err := http.Get(baseURL() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status field = %q, want ok", health.Status)
	}
}

func TestSelfMetricsExposed(t *testing.T) {
	// Ingest something first so the counters exist.
	resp := postJSON(t, "/v1/metrics", []map[string]any{
		{"name": "integration.metrics_check", "value": 1, "timestamp": time.Now().Format(time.RFC3339Nano)},
	})
	resp.Body.Close()

	resp, err := http.Get(baseURL() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.Contains(string(data), "tidewatch_signals_ingested_total") {
		t.Error("metrics output missing tidewatch_signals_ingested_total")
	}
}
