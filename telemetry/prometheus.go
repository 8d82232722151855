package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	sdk "github.com/matorder/matorder/sdk/go"
)

const namespace = "matorder_sdk"

// Prometheus turns SDK metrics into Prometheus collectors.
type Prometheus struct {
	latency       *prometheus.HistogramVec
	refresh       *prometheus.CounterVec
	purge         *prometheus.CounterVec
	failsafe      prometheus.Counter
	logoutFailure prometheus.Counter
}

// NewPrometheus registers the SDK collectors on reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of each API request attempt, replays included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Refresh token exchanges by outcome.",
		}, []string{"outcome"}),
		purge: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_purge_total",
			Help:      "Local session purges by reason.",
		}, []string{"reason"}),
		failsafe: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failsafe_timeout_total",
			Help:      "Sign-outs completed by the failsafe deadline.",
		}),
		logoutFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logout_transport_failure_total",
			Help:      "Server-side logout calls that failed; local state was purged anyway.",
		}),
	}
	for _, c := range []prometheus.Collector{p.latency, p.refresh, p.purge, p.failsafe, p.logoutFailure} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Observe is an sdk.TelemetryHooks.OnMetric hook.
func (p *Prometheus) Observe(_ context.Context, m sdk.Metric) {
	switch m.Name {
	case sdk.MetricHTTPLatency:
		// Paths carry ids; keeping them out of the labels bounds the series count.
		p.latency.WithLabelValues(m.Labels["method"], m.Labels["status"]).Observe(m.Value / 1000)
	case sdk.MetricTokenRefresh:
		p.refresh.WithLabelValues(m.Labels["outcome"]).Add(m.Value)
	case sdk.MetricSessionPurge:
		p.purge.WithLabelValues(m.Labels["reason"]).Add(m.Value)
	case sdk.MetricFailsafeFired:
		p.failsafe.Add(m.Value)
	case sdk.MetricLogoutFailure:
		p.logoutFailure.Add(m.Value)
	}
}
