package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tidewatch/tidewatch/signal"
)

// ingestResult summarizes one ingest request. Items are accepted
// individually; one malformed item does not fail the rest.
type ingestResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// ingest runs record over each of n items and writes the per-item outcome.
// A capacity rejection stops the pass and reports 429: the remaining items
// would be rejected too, and the client should back off.
func ingest(c *gin.Context, n int, record func(i int) error) {
	result := ingestResult{}

	for i := 0; i < n; i++ {
		err := record(i)
		if err == nil {
			result.Accepted++
			continue
		}

		if errors.Is(err, signal.ErrCapacityExceeded) {
			result.Rejected = n - result.Accepted
			c.JSON(http.StatusTooManyRequests, result)
			return
		}

		result.Rejected++
		result.Errors = append(result.Errors, err.Error())
	}

	status := http.StatusAccepted
	if result.Accepted == 0 && result.Rejected > 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, result)
}

func (s *Server) handleMetrics(c *gin.Context) {
	var points []signal.MetricPoint
	if err := c.ShouldBindJSON(&points); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ingest(c, len(points), func(i int) error {
		return s.collector.RecordMetricPoint(points[i])
	})
}

func (s *Server) handleSpans(c *gin.Context) {
	var spans []signal.Span
	if err := c.ShouldBindJSON(&spans); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ingest(c, len(spans), func(i int) error {
		return s.collector.RecordSpan(spans[i])
	})
}

func (s *Server) handleLogs(c *gin.Context) {
	var entries []signal.LogEntry
	if err := c.ShouldBindJSON(&entries); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ingest(c, len(entries), func(i int) error {
		return s.collector.RecordLog(entries[i])
	})
}

func (s *Server) handleHealthChecks(c *gin.Context) {
	var checks []signal.HealthCheck
	if err := c.ShouldBindJSON(&checks); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ingest(c, len(checks), func(i int) error {
		return s.collector.RecordHealthCheck(checks[i])
	})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"pipeline": s.collector.Health(),
		"alerts":   s.collector.AlertStates(),
	})
}
