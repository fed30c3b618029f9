package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// sensitiveParams are query parameter names that should be scrubbed from trace output.
var sensitiveParams = map[string]bool{
	"access":        true,
	"access_token":  true,
	"refresh":       true,
	"refresh_token": true,
	"token":         true,
	"password":      true,
	"secret":        true,
}

// TraceWriter outputs human-readable trace information to stderr.
// It formats output with timestamps relative to session start.
type TraceWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewTraceWriter creates a new TraceWriter that writes to stderr.
func NewTraceWriter() *TraceWriter {
	return NewTraceWriterTo(os.Stderr)
}

// NewTraceWriterTo creates a new TraceWriter that writes to the given writer.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{
		writer:    w,
		startTime: time.Now(),
	}
}

func (t *TraceWriter) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] "+format+"\n", append([]any{elapsed}, args...)...)
}

// WriteRequestStart writes a request start trace line.
// Format: [0.234s]   -> GET /api/users/current/ (retry)
func (t *TraceWriter) WriteRequestStart(info RequestInfo) {
	suffix := ""
	if info.Retried {
		suffix = " (after refresh)"
	}
	t.printf("  -> %s %s%s", info.Method, scrubURL(info.URL), suffix)
}

// WriteRequestEnd writes a request completion trace line.
// Format: [0.234s]   <- 200 (45ms)
func (t *TraceWriter) WriteRequestEnd(result RequestResult) {
	if result.Error != nil && result.StatusCode == 0 {
		t.printf("  <- ERROR: %v", result.Error)
		return
	}
	t.printf("  <- %d (%dms)", result.StatusCode, result.Duration.Milliseconds())
}

// WriteRefresh writes a token refresh trace line.
func (t *TraceWriter) WriteRefresh(info RefreshInfo) {
	switch {
	case info.Error != nil:
		t.printf("Token refresh failed: %v", info.Error)
	case info.Shared:
		t.printf("Token refresh joined in-flight refresh")
	default:
		t.printf("Token refreshed (%dms)", info.Duration.Milliseconds())
	}
}

// WriteRetry writes a retry trace line.
// Format: [0.234s] RETRY current-user #2 in 2s: connection refused
func (t *TraceWriter) WriteRetry(info RetryInfo) {
	t.printf("RETRY %s #%d in %s: %v", info.Operation, info.Attempt, info.Delay, info.Error)
}

// WriteCache writes a user cache trace line.
func (t *TraceWriter) WriteCache(outcome CacheOutcome) {
	t.printf("User cache %s", outcome)
}

// Reset resets the start time for relative timestamps.
func (t *TraceWriter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
}

// scrubURL redacts sensitive query parameters from a URL for safe logging.
// Returns a safe placeholder if the URL cannot be parsed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// Don't leak potentially sensitive malformed URLs
		return "[unparseable URL]"
	}

	query := u.Query()
	modified := false
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			query.Set(key, "[REDACTED]")
			modified = true
		}
	}

	if !modified {
		return rawURL
	}

	u.RawQuery = query.Encode()
	return u.String()
}
