package observability

import (
	"context"
	"sync"
)

// Hooks receives lifecycle events from the request pipeline, the session
// manager and the current-user fetcher.
type Hooks interface {
	OnRequestStart(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd(ctx context.Context, info RequestInfo, result RequestResult)
	OnRefresh(ctx context.Context, info RefreshInfo)
	OnRetry(ctx context.Context, info RetryInfo)
	OnCache(ctx context.Context, outcome CacheOutcome)
}

// NopHooks ignores every event.
type NopHooks struct{}

func (NopHooks) OnRequestStart(ctx context.Context, _ RequestInfo) context.Context { return ctx }
func (NopHooks) OnRequestEnd(context.Context, RequestInfo, RequestResult)          {}
func (NopHooks) OnRefresh(context.Context, RefreshInfo)                            {}
func (NopHooks) OnRetry(context.Context, RetryInfo)                                {}
func (NopHooks) OnCache(context.Context, CacheOutcome)                             {}

// Verify implementations at compile time.
var (
	_ Hooks = NopHooks{}
	_ Hooks = (*CLIHooks)(nil)
)

// CLIHooks implements Hooks for CLI observability.
// It supports configurable verbosity levels:
//   - 0: Silent (collect stats only, no output)
//   - 1: Session events (refreshes, retries, cache outcomes)
//   - 2: Session events + HTTP requests
type CLIHooks struct {
	mu        sync.Mutex
	level     int
	collector *SessionCollector
	writer    *TraceWriter
}

// NewCLIHooks creates a new CLIHooks with the given verbosity level.
// If collector is nil, metrics are not collected.
// If writer is nil, no trace output is produced.
func NewCLIHooks(level int, collector *SessionCollector, writer *TraceWriter) *CLIHooks {
	return &CLIHooks{
		level:     level,
		collector: collector,
		writer:    writer,
	}
}

// SetLevel changes the verbosity level at runtime.
func (h *CLIHooks) SetLevel(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// Level returns the current verbosity level.
func (h *CLIHooks) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

func (h *CLIHooks) snapshot() (int, *SessionCollector, *TraceWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level, h.collector, h.writer
}

// OnRequestStart is called before an HTTP request is sent.
func (h *CLIHooks) OnRequestStart(ctx context.Context, info RequestInfo) context.Context {
	level, _, writer := h.snapshot()
	if level >= 2 && writer != nil {
		writer.WriteRequestStart(info)
	}
	return ctx
}

// OnRequestEnd is called after an HTTP request completes.
func (h *CLIHooks) OnRequestEnd(_ context.Context, info RequestInfo, result RequestResult) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRequest(info, result)
	}
	if level >= 2 && writer != nil {
		writer.WriteRequestEnd(result)
	}
}

// OnRefresh is called after a token refresh completes.
func (h *CLIHooks) OnRefresh(_ context.Context, info RefreshInfo) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRefresh(info)
	}
	if level >= 1 && writer != nil {
		writer.WriteRefresh(info)
	}
}

// OnRetry is called before a backoff retry.
func (h *CLIHooks) OnRetry(_ context.Context, info RetryInfo) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRetry(info)
	}
	if level >= 1 && writer != nil {
		writer.WriteRetry(info)
	}
}

// OnCache is called after a user cache lookup.
func (h *CLIHooks) OnCache(_ context.Context, outcome CacheOutcome) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordCache(outcome)
	}
	if level >= 1 && writer != nil {
		writer.WriteCache(outcome)
	}
}
