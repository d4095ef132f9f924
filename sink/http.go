package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidewatch/tidewatch/signal"
)

// HTTPSink POSTs batches as JSON to a remote endpoint. Network failures,
// timeouts, 429 and 5xx responses are transient; other 4xx responses are
// permanent rejections.
type HTTPSink struct {
	url     string
	client  *http.Client
	headers map[string]string
}

// NewHTTPSink creates an HTTP sink for the given endpoint URL. A nil client
// uses a 10s-timeout default.
func NewHTTPSink(url string, client *http.Client, headers map[string]string) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSink{url: url, client: client, headers: headers}
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Push(ctx context.Context, batch Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return &signal.SinkRejectedError{Sink: s.Name(), Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &signal.SinkRejectedError{Sink: s.Name(), Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &signal.SinkUnavailableError{Sink: s.Name(), Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &signal.SinkUnavailableError{
			Sink: s.Name(),
			Err:  fmt.Errorf("endpoint returned status %d", resp.StatusCode),
		}
	default:
		return &signal.SinkRejectedError{
			Sink:   s.Name(),
			Reason: fmt.Sprintf("endpoint returned status %d", resp.StatusCode),
		}
	}
}

var _ Sink = (*HTTPSink)(nil)
