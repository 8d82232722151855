package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	sdk "github.com/matorder/matorder/sdk/go"
	"github.com/matorder/matorder/sdk/go/routes"
	"github.com/matorder/matorder/sdk/go/testutil"
)

func TestZerologWritesStructuredEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	Zerolog(logger)(context.Background(), sdk.LogEntry{
		Level:   sdk.LogLevelWarn,
		Message: "logout_transport_failure",
		Fields:  map[string]any{"error": "connection refused"},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "warn", line["level"])
	require.Equal(t, "logout_transport_failure", line["message"])
	require.Equal(t, "matorder-sdk", line["component"])
	require.Equal(t, "connection refused", line["error"])
}

func TestZerologRespectsLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	Zerolog(logger)(context.Background(), sdk.LogEntry{Level: sdk.LogLevelDebug, Message: "http_request"})
	require.Zero(t, buf.Len())
}

func TestPrometheusObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)

	ctx := context.Background()
	p.Observe(ctx, sdk.Metric{Name: sdk.MetricTokenRefresh, Value: 1, Labels: map[string]string{"outcome": "success"}})
	p.Observe(ctx, sdk.Metric{Name: sdk.MetricSessionPurge, Value: 1, Labels: map[string]string{"reason": "explicit"}})
	p.Observe(ctx, sdk.Metric{Name: sdk.MetricFailsafeFired, Value: 1})
	p.Observe(ctx, sdk.Metric{Name: sdk.MetricHTTPLatency, Value: 12, Labels: map[string]string{"method": "GET", "path": "/api/users/1", "status": "200"}})
	p.Observe(ctx, sdk.Metric{Name: sdk.MetricHTTPLatency, Value: 0.25, Labels: map[string]string{"method": "GET", "path": "/api/users/2", "status": "200"}})
	p.Observe(ctx, sdk.Metric{Name: "unknown_metric", Value: 3})

	require.Equal(t, 1.0, promtestutil.ToFloat64(p.refresh.WithLabelValues("success")))
	require.Equal(t, 1.0, promtestutil.ToFloat64(p.purge.WithLabelValues("explicit")))
	require.Equal(t, 1.0, promtestutil.ToFloat64(p.failsafe))
	require.Equal(t, 1, promtestutil.CollectAndCount(p.latency), "paths must not create series")
	require.InDelta(t, 0.01225, histogramSum(t, reg), 1e-9)

	_, err = NewPrometheus(reg)
	require.Error(t, err, "registering twice must fail")
}

func TestHooksWithClient(t *testing.T) {
	api, server := testutil.NewAuthServer(testutil.AuthAPIConfig{})
	defer server.Close()

	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	prom, err := NewPrometheus(reg)
	require.NoError(t, err)

	client, err := sdk.NewClient(sdk.Config{
		BaseURL:   server.URL,
		Telemetry: Hooks(zerolog.New(&buf), prom),
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.Session.Login(ctx, "a@b.com", "pw")
	require.NoError(t, err)
	api.ExpireAccessTokens()
	require.NoError(t, client.Do(ctx, http.MethodGet, routes.UsersProfile, nil, nil))
	require.NoError(t, client.Session.Logout(ctx))

	require.Equal(t, 1.0, promtestutil.ToFloat64(prom.refresh.WithLabelValues("success")))
	require.Equal(t, 1.0, promtestutil.ToFloat64(prom.purge.WithLabelValues("explicit")))
	require.True(t, strings.Contains(buf.String(), `"message":"token_refresh"`))
	require.True(t, strings.Contains(buf.String(), `"message":"session_purged"`))
}

func histogramSum(t *testing.T, g prometheus.Gatherer) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "matorder_sdk_http_request_duration_seconds" {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			sum += m.GetHistogram().GetSampleSum()
		}
		return sum
	}
	t.Fatalf("latency histogram not gathered")
	return 0
}
