// Package telemetry adapts the SDK's TelemetryHooks to zerolog and Prometheus.
package telemetry

import (
	"context"

	"github.com/rs/zerolog"

	sdk "github.com/matorder/matorder/sdk/go"
)

// Zerolog returns an OnLogEntry hook that writes SDK events to logger.
func Zerolog(logger zerolog.Logger) func(context.Context, sdk.LogEntry) {
	return func(_ context.Context, entry sdk.LogEntry) {
		ev := logger.WithLevel(zerologLevel(entry.Level)).Str("component", "matorder-sdk")
		if len(entry.Fields) > 0 {
			ev = ev.Fields(entry.Fields)
		}
		ev.Msg(entry.Message)
	}
}

func zerologLevel(level sdk.LogLevel) zerolog.Level {
	switch level {
	case sdk.LogLevelDebug:
		return zerolog.DebugLevel
	case sdk.LogLevelWarn:
		return zerolog.WarnLevel
	case sdk.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Hooks combines a zerolog logger and an optional Prometheus sink into TelemetryHooks.
func Hooks(logger zerolog.Logger, prom *Prometheus) sdk.TelemetryHooks {
	hooks := sdk.TelemetryHooks{OnLogEntry: Zerolog(logger)}
	if prom != nil {
		hooks.OnMetric = prom.Observe
	}
	return hooks
}
