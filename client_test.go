package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/matorder/matorder/sdk/go/headers"
)

func TestNewClientValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing base url", Config{}},
		{"no scheme", Config{BaseURL: "console.example.com"}},
		{"negative logout timeout", Config{BaseURL: "http://x", LogoutTimeout: -time.Second}},
		{"negative refresh skew", Config{BaseURL: "http://x", RefreshSkew: -time.Second}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClient(tc.cfg)
			var cfgErr ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, _ := newTestClient(t, "https://console.example.com/")
	if c.BaseURL() != "https://console.example.com" {
		t.Fatalf("unexpected base url %q", c.BaseURL())
	}
	if c.failsafe.Timeout() != DefaultLogoutTimeout {
		t.Fatalf("expected default logout timeout, got %s", c.failsafe.Timeout())
	}
	if _, ok := c.store.(*MemoryStore); !ok {
		t.Fatalf("expected MemoryStore default, got %T", c.store)
	}
	if c.retry.MaxAttempts != 2 {
		t.Fatalf("expected 2 refresh attempts by default, got %d", c.retry.MaxAttempts)
	}
}

func TestBearerTokenDuplication(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer my-secret-token" {
			t.Errorf("Expected 'Bearer my-secret-token', got '%s'", auth)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	for name, token := range map[string]string{
		"CleanToken":      "my-secret-token",
		"TokenWithPrefix": "Bearer my-secret-token",
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestClient(t, server.URL)
			if err := c.store.Set(context.Background(), CredentialPair{AccessToken: token, RefreshToken: "r"}, nil); err != nil {
				t.Fatalf("seed store: %v", err)
			}
			if err := c.Do(context.Background(), http.MethodGet, "/foo", nil, nil); err != nil {
				t.Errorf("Request failed: %v", err)
			}
		})
	}
}

func TestAnonymousRequestHasNoAuthorization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("expected no Authorization header, got %q", got)
		}
		if r.Header.Get(headers.RequestID) == "" {
			t.Errorf("expected a request id")
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "matorder-sdk-go/") {
			t.Errorf("unexpected user agent %q", ua)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL)
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.Do(context.Background(), http.MethodGet, "public/status", nil, &out); err != nil {
		t.Fatalf("do: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected decoded body")
	}
}

func TestDoDecodesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headers.RequestID, "req-42")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"success":false,"message":"Admin only"}`))
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL)
	err := c.Do(context.Background(), http.MethodGet, "/api/users", nil, nil)
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Message != "Admin only" || apiErr.RequestID != "req-42" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	assertReasons(t, rec)
}

func TestDoTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c, _ := newTestClient(t, url)
	err := c.Do(context.Background(), http.MethodGet, "/api/users", nil, nil)
	if !IsNetworkError(err) {
		t.Fatalf("expected network error, got %v", err)
	}
	var te TransportError
	if errors.As(err, &te) && te.Kind != TransportErrorConnect {
		t.Fatalf("expected connect kind, got %s", te.Kind)
	}
}

func TestTraceparentInjected(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(headers.Traceparent)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL)
	if err := c.Do(ctx, http.MethodGet, "/api/orders", nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	if got != want {
		t.Fatalf("expected traceparent %s, got %s", want, got)
	}
}

func TestHTTPClientRoutesThroughGateway(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL)
	if err := c.store.Set(context.Background(), CredentialPair{AccessToken: "A1", RefreshToken: "R1"}, nil); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	resp, err := c.HTTPClient().Get(server.URL + "/api/orders")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestTelemetryHooksObserveAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	var requests, responses int
	var metrics []Metric
	c, _ := newTestClient(t, server.URL, func(cfg *Config) {
		cfg.Telemetry = TelemetryHooks{
			OnHTTPRequest: func(context.Context, *http.Request) { requests++ },
			OnHTTPResponse: func(context.Context, *http.Request, *http.Response, error, time.Duration) {
				responses++
			},
			OnMetric: func(_ context.Context, m Metric) { metrics = append(metrics, m) },
		}
	})
	if err := c.Do(context.Background(), http.MethodGet, "/api/orders", nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if requests != 1 || responses != 1 {
		t.Fatalf("expected one request/response hook, got %d/%d", requests, responses)
	}
	if len(metrics) != 1 || metrics[0].Name != MetricHTTPLatency || metrics[0].Labels["status"] != "200" {
		t.Fatalf("unexpected metrics %+v", metrics)
	}
	if metrics[0].Labels["method"] != http.MethodGet {
		t.Fatalf("expected method label, got %+v", metrics[0].Labels)
	}
	if metrics[0].Value <= 0 {
		t.Fatalf("expected fractional milliseconds for a local call, got %v", metrics[0].Value)
	}
}
