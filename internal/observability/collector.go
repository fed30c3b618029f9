// Package observability provides metrics collection and tracing for gateway operations.
package observability

import (
	"fmt"
	"sync"
	"time"
)

// RequestInfo describes an outgoing HTTP request.
type RequestInfo struct {
	Method    string
	URL       string
	RequestID string
	// Retried is true for the single resend that follows a 401.
	Retried bool
}

// RequestResult holds the outcome of a single HTTP request.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	Error      error
}

// RefreshInfo records a token refresh as seen by one caller.
type RefreshInfo struct {
	// Shared is true when the caller joined a refresh already in flight.
	Shared   bool
	Duration time.Duration
	Error    error
}

// RetryInfo records a backoff retry of a logical operation.
type RetryInfo struct {
	Operation string
	Attempt   int
	Delay     time.Duration
	Error     error
}

// CacheOutcome classifies a user cache lookup.
type CacheOutcome int

const (
	CacheHit CacheOutcome = iota
	CacheMiss
	CacheFallback // stale value served after a failed fetch
)

func (o CacheOutcome) String() string {
	switch o {
	case CacheHit:
		return "hit"
	case CacheMiss:
		return "miss"
	case CacheFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// SessionMetrics aggregates metrics for an entire CLI session.
type SessionMetrics struct {
	StartTime       time.Time
	EndTime         time.Time
	TotalRequests   int
	FailedRequests  int
	AuthRetries     int
	Refreshes       int
	SharedRefreshes int
	FailedRefreshes int
	TotalRetries    int
	CacheHits       int
	CacheMisses     int
	CacheFallbacks  int
	TotalLatency    time.Duration
}

// SessionCollector accumulates metrics across a CLI session.
// It is safe for concurrent use and uses counters instead of unbounded slices.
type SessionCollector struct {
	mu sync.Mutex
	m  SessionMetrics
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{m: SessionMetrics{StartTime: time.Now()}}
}

// RecordRequest records metrics for an HTTP request.
func (c *SessionCollector) RecordRequest(info RequestInfo, result RequestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.TotalRequests++
	c.m.TotalLatency += result.Duration
	if info.Retried {
		c.m.AuthRetries++
	}
	if result.Error != nil || result.StatusCode >= 400 {
		c.m.FailedRequests++
	}
}

// RecordRefresh records a token refresh.
func (c *SessionCollector) RecordRefresh(info RefreshInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if info.Shared {
		c.m.SharedRefreshes++
		return
	}
	c.m.Refreshes++
	if info.Error != nil {
		c.m.FailedRefreshes++
	}
}

// RecordRetry records a retry event.
func (c *SessionCollector) RecordRetry(_ RetryInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.TotalRetries++
}

// RecordCache records a user cache lookup.
func (c *SessionCollector) RecordCache(outcome CacheOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch outcome {
	case CacheHit:
		c.m.CacheHits++
	case CacheMiss:
		c.m.CacheMisses++
	case CacheFallback:
		c.m.CacheFallbacks++
	}
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.m
	m.EndTime = time.Now()
	return m
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = SessionMetrics{StartTime: time.Now()}
}

// ToMap converts metrics to the generic form carried in output envelopes.
func (m SessionMetrics) ToMap() map[string]any {
	return map[string]any{
		"duration_ms":      m.EndTime.Sub(m.StartTime).Milliseconds(),
		"requests":         m.TotalRequests,
		"failed_requests":  m.FailedRequests,
		"auth_retries":     m.AuthRetries,
		"refreshes":        m.Refreshes,
		"shared_refreshes": m.SharedRefreshes,
		"failed_refreshes": m.FailedRefreshes,
		"retries":          m.TotalRetries,
		"cache_hits":       m.CacheHits,
		"cache_misses":     m.CacheMisses,
		"cache_fallbacks":  m.CacheFallbacks,
		"latency_ms":       m.TotalLatency.Milliseconds(),
	}
}

// SessionMetricsFromMap rebuilds metrics from ToMap output. Values may have
// been through a JSON round-trip, so numbers arrive as float64.
func SessionMetricsFromMap(v map[string]any) SessionMetrics {
	num := func(key string) int {
		switch n := v[key].(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		default:
			return 0
		}
	}
	start := time.Time{}
	return SessionMetrics{
		StartTime:       start,
		EndTime:         start.Add(time.Duration(num("duration_ms")) * time.Millisecond),
		TotalRequests:   num("requests"),
		FailedRequests:  num("failed_requests"),
		AuthRetries:     num("auth_retries"),
		Refreshes:       num("refreshes"),
		SharedRefreshes: num("shared_refreshes"),
		FailedRefreshes: num("failed_refreshes"),
		TotalRetries:    num("retries"),
		CacheHits:       num("cache_hits"),
		CacheMisses:     num("cache_misses"),
		CacheFallbacks:  num("cache_fallbacks"),
		TotalLatency:    time.Duration(num("latency_ms")) * time.Millisecond,
	}
}

// FormatParts renders the non-zero metrics as short human-readable fragments.
func (m SessionMetrics) FormatParts() []string {
	var parts []string

	duration := m.EndTime.Sub(m.StartTime)
	if duration < time.Second {
		parts = append(parts, fmt.Sprintf("%dms", duration.Milliseconds()))
	} else {
		parts = append(parts, fmt.Sprintf("%.1fs", duration.Seconds()))
	}

	plural := func(n int, one, many string) {
		switch {
		case n == 1:
			parts = append(parts, "1 "+one)
		case n > 1:
			parts = append(parts, fmt.Sprintf("%d %s", n, many))
		}
	}
	plural(m.TotalRequests, "request", "requests")
	plural(m.Refreshes, "refresh", "refreshes")
	plural(m.TotalRetries, "retry", "retries")
	if m.CacheHits > 0 {
		parts = append(parts, fmt.Sprintf("%d cached", m.CacheHits))
	}
	if m.CacheFallbacks > 0 {
		parts = append(parts, fmt.Sprintf("%d stale", m.CacheFallbacks))
	}
	plural(m.FailedRequests, "failed", "failed")

	return parts
}
