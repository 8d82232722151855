package sdk

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/matorder/matorder/sdk/go/testutil"
)

type reasonRecorder struct {
	mu      sync.Mutex
	reasons []LogoutReason
}

func (r *reasonRecorder) record(_ context.Context, reason LogoutReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *reasonRecorder) all() []LogoutReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogoutReason(nil), r.reasons...)
}

type logRecorder struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (l *logRecorder) hook(_ context.Context, entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *logRecorder) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Message == msg {
			return true
		}
	}
	return false
}

func newTestClient(t *testing.T, baseURL string, mutate ...func(*Config)) (*Client, *reasonRecorder) {
	t.Helper()
	rec := &reasonRecorder{}
	cfg := Config{
		BaseURL:       baseURL,
		LoginRequired: rec.record,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new test client: %v", err)
	}
	return client, rec
}

func newFakeAPI(t *testing.T, cfg testutil.AuthAPIConfig) (*testutil.AuthAPI, *httptest.Server) {
	t.Helper()
	api, srv := testutil.NewAuthServer(cfg)
	t.Cleanup(srv.Close)
	return api, srv
}

func mustLogin(t *testing.T, c *Client) UserProfile {
	t.Helper()
	profile, err := c.Session.Login(context.Background(), "a@b.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return profile
}

func mustPair(t *testing.T, c *Client) CredentialPair {
	t.Helper()
	pair, err := c.store.Get(context.Background())
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if pair == nil {
		t.Fatalf("expected a stored pair")
	}
	return *pair
}

func assertEmptyStore(t *testing.T, c *Client) {
	t.Helper()
	pair, err := c.store.Get(context.Background())
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if pair != nil {
		t.Fatalf("expected empty store, got %+v", pair)
	}
	profile, err := c.store.Profile(context.Background())
	if err != nil {
		t.Fatalf("store profile: %v", err)
	}
	if profile != nil {
		t.Fatalf("expected no cached profile, got %+v", profile)
	}
}

func assertReasons(t *testing.T, rec *reasonRecorder, want ...LogoutReason) {
	t.Helper()
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("expected login-required reasons %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected login-required reasons %v, got %v", want, got)
		}
	}
}
