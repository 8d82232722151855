package sdk

import (
	"context"
	"net/http"
	"time"
)

// TelemetryHooks expose observability callbacks without forcing dependencies on the caller.
// The telemetry subpackage provides zerolog and Prometheus implementations.
type TelemetryHooks struct {
	// OnHTTPRequest fires before each attempt is sent, replays included.
	OnHTTPRequest func(ctx context.Context, req *http.Request)
	// OnHTTPResponse fires after each attempt completes (even when err != nil).
	OnHTTPResponse func(ctx context.Context, req *http.Request, resp *http.Response, err error, latency time.Duration)
	// OnLogEntry allows callers to capture SDK log events.
	OnLogEntry func(ctx context.Context, entry LogEntry)
	// OnMetric records lightweight counters/gauges for observability dashboards.
	OnMetric func(ctx context.Context, metric Metric)
}

// LogLevel encodes the severity for log hooks.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry captures structured log details for SDK consumers.
type LogEntry struct {
	Level   LogLevel
	Message string
	Fields  map[string]any
}

// Metric represents a single observability datapoint.
type Metric struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// Metric names emitted by the SDK.
const (
	MetricHTTPLatency   = "sdk_http_request_latency_ms"
	MetricTokenRefresh  = "sdk_token_refresh_total"
	MetricSessionPurge  = "sdk_session_purge_total"
	MetricFailsafeFired = "sdk_failsafe_timeout_total"
	MetricLogoutFailure = "sdk_logout_transport_failure_total"
)

func (t TelemetryHooks) log(ctx context.Context, level LogLevel, msg string, fields map[string]any) {
	if t.OnLogEntry == nil {
		return
	}
	entry := LogEntry{Level: level, Message: msg, Fields: fields}
	t.OnLogEntry(ctx, entry)
}

func (t TelemetryHooks) metric(ctx context.Context, name string, value float64, labels map[string]string) {
	if t.OnMetric == nil {
		return
	}
	t.OnMetric(ctx, Metric{Name: name, Value: value, Labels: labels})
}

func (t TelemetryHooks) count(ctx context.Context, name string, labels map[string]string) {
	t.metric(ctx, name, 1, labels)
}
