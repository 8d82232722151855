package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/matorder/matorder/sdk/go/auth"
)

const defaultUserAgent = "matorder-sdk-go/" + Version

const (
	// DefaultLogoutTimeout bounds SignOut when the API does not answer.
	DefaultLogoutTimeout = 3 * time.Second

	defaultRefreshTimeout = 10 * time.Second
)

// LoginRequiredFunc is called whenever the session ends and the user has to log in again. It is
// the SDK's equivalent of navigating the console to its login page.
type LoginRequiredFunc func(ctx context.Context, reason LogoutReason)

// Config wires the API base URL, credential persistence and telemetry for the client.
type Config struct {
	// BaseURL is the console origin; auth routes already carry their /api prefix.
	BaseURL string
	// HTTPClient supplies the base transport and timeout. Its Jar is replaced by the SDK's own so
	// purging a session can drop cookies.
	HTTPClient *http.Client
	// Store persists credentials. Defaults to a MemoryStore.
	Store     TokenStore
	Telemetry TelemetryHooks
	UserAgent string
	// LogoutTimeout bounds SignOut. Defaults to DefaultLogoutTimeout.
	LogoutTimeout time.Duration
	// RefreshSkew enables refreshing JWT access tokens this long before their exp claim.
	// Zero disables proactive refresh; expiry is then detected from 401 responses only.
	RefreshSkew time.Duration
	// RefreshTimeout bounds a single shared refresh exchange.
	RefreshTimeout time.Duration
	// Retry controls refresh retries after transport failures.
	Retry *RetryConfig
	// LoginRequired is notified once per session end.
	LoginRequired LoginRequiredFunc
}

// Client is the entry point of the SDK. Every request issued through Do or HTTPClient carries
// the stored bearer token and recovers from access token expiry on its own.
type Client struct {
	baseURL        string
	store          TokenStore
	jar            *resettableJar
	httpClient     *http.Client
	authAPI        *auth.Client
	telemetry      TelemetryHooks
	userAgent      string
	retry          RetryConfig
	refreshSkew    time.Duration
	refreshTimeout time.Duration
	failsafe       *Failsafe
	loginRequired  LoginRequiredFunc
	refreshGroup   singleflight.Group
	now            func() time.Time

	// sessionMu serializes writes that start or end a session against refresh commits.
	sessionMu sync.Mutex
	// epoch identifies the current session; login and purge advance it.
	epoch uint64

	Session *SessionClient
}

// NewClient validates the configuration and returns a ready-to-use Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ConfigError{Reason: "base URL required"}
	}
	normalized, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, ConfigError{Reason: err.Error()}
	}
	if cfg.LogoutTimeout < 0 {
		return nil, ConfigError{Reason: "logout timeout must not be negative"}
	}
	if cfg.RefreshSkew < 0 {
		return nil, ConfigError{Reason: "refresh skew must not be negative"}
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	retry := defaultRetryConfig()
	if cfg.Retry != nil {
		retry = cfg.Retry.normalized()
	}
	refreshTimeout := cfg.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}

	base := http.DefaultTransport
	var timeout time.Duration
	if cfg.HTTPClient != nil {
		if cfg.HTTPClient.Transport != nil {
			base = cfg.HTTPClient.Transport
		}
		timeout = cfg.HTTPClient.Timeout
	}

	client := &Client{
		baseURL:        normalized,
		store:          store,
		jar:            newResettableJar(),
		telemetry:      cfg.Telemetry,
		userAgent:      ua,
		retry:          retry,
		refreshSkew:    cfg.RefreshSkew,
		refreshTimeout: refreshTimeout,
		failsafe:       NewFailsafe(cfg.LogoutTimeout),
		loginRequired:  cfg.LoginRequired,
		now:            time.Now,
	}
	client.httpClient = &http.Client{
		Transport: &gatewayTransport{base: base, client: client, recover: true},
		Jar:       client.jar,
		Timeout:   timeout,
	}
	// Auth endpoints answer 401 for bad credentials and rejected refresh tokens; those must never
	// trigger session recovery.
	authHTTP := &http.Client{
		Transport: &gatewayTransport{base: base, client: client, recover: false},
		Jar:       client.jar,
		Timeout:   timeout,
	}
	authAPI, err := auth.NewClient(auth.Config{
		BaseURL:    normalized,
		HTTPClient: authHTTP,
		UserAgent:  ua,
	})
	if err != nil {
		return nil, ConfigError{Reason: err.Error()}
	}
	client.authAPI = authAPI
	client.Session = &SessionClient{client: client}
	return client, nil
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("base URL required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" {
		return "", errors.New("base URL missing scheme (http/https)")
	}
	if u.Host == "" {
		return "", errors.New("base URL missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return strings.TrimSuffix(u.String(), "/"), nil
}

// HTTPClient returns an *http.Client routed through the session gateway, for callers that build
// their own requests. Relative URLs are not resolved; use absolute URLs under the base URL.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// BaseURL returns the normalized API origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends a JSON request to path and decodes a JSON response into out (when non-nil).
// Non-2xx answers surface as APIError, network failures as TransportError.
func (c *Client) Do(ctx context.Context, method, path string, payload, out any) error {
	req, err := c.newJSONRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	//nolint:errcheck // best-effort cleanup on return
	defer func() { _ = resp.Body.Close() }()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("sdk: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return nil, err
		}
		return nil, newTransportError("request failed", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func (c *Client) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// sessionEpoch returns the identifier of the current session.
func (c *Client) sessionEpoch() uint64 {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.epoch
}

// beginSession stores the pair of a fresh login and starts a new session epoch, so refreshes
// still in flight for the previous session are discarded.
func (c *Client) beginSession(ctx context.Context, pair CredentialPair, profile *UserProfile) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if err := c.store.Set(ctx, pair, profile); err != nil {
		return err
	}
	c.epoch++
	return nil
}

// commitRefresh stores a refreshed pair only while the session that started the refresh is
// still current.
func (c *Client) commitRefresh(ctx context.Context, epoch uint64, pair CredentialPair) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.epoch != epoch {
		return errSessionChanged
	}
	if err := c.store.Set(ctx, pair, nil); err != nil {
		return StoreError{Operation: "set", Cause: err}
	}
	return nil
}

// cacheProfile replaces the cached profile while the session identified by epoch is current and
// still holds tokens. A purge or a new login in the meantime leaves the store alone.
func (c *Client) cacheProfile(ctx context.Context, epoch uint64, profile UserProfile) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.epoch != epoch {
		return nil
	}
	pair, err := c.store.Get(ctx)
	if err != nil || pair == nil {
		return err
	}
	return c.store.SetProfile(ctx, profile)
}

// purge ends the session locally: tokens, profile and cookies are dropped and LoginRequired is
// notified. It runs on a non-cancellable context so an abandoned caller cannot stop it halfway.
func (c *Client) purge(ctx context.Context, reason LogoutReason) error {
	ctx = context.WithoutCancel(ctx)
	c.sessionMu.Lock()
	err := c.clearLocked(ctx)
	c.sessionMu.Unlock()
	c.notifyPurged(ctx, reason, err)
	return err
}

// purgeEpoch is purge restricted to the session identified by epoch. It reports whether the
// session was purged; a session that already ended or was replaced is left alone.
func (c *Client) purgeEpoch(ctx context.Context, epoch uint64, reason LogoutReason) bool {
	ctx = context.WithoutCancel(ctx)
	c.sessionMu.Lock()
	if c.epoch != epoch {
		c.sessionMu.Unlock()
		c.telemetry.log(ctx, LogLevelDebug, "stale_purge_skipped", map[string]any{"reason": string(reason)})
		return false
	}
	err := c.clearLocked(ctx)
	c.sessionMu.Unlock()
	c.notifyPurged(ctx, reason, err)
	return true
}

// purgeAfterRefresh ends the session whose refresh failed. Nothing is purged when the caller
// gave up waiting or the session changed while the refresh was in flight.
func (c *Client) purgeAfterRefresh(ctx context.Context, epoch uint64, err error) {
	if ctx.Err() != nil || errors.Is(err, errSessionChanged) {
		return
	}
	reason := LogoutRefreshFailed
	if errors.Is(err, ErrNoRefreshToken) {
		reason = LogoutNoRefreshToken
	}
	c.purgeEpoch(ctx, epoch, reason)
}

func (c *Client) clearLocked(ctx context.Context) error {
	c.epoch++
	err := c.store.Clear(ctx)
	c.jar.Reset()
	if err != nil {
		return StoreError{Operation: "clear", Cause: err}
	}
	return nil
}

func (c *Client) notifyPurged(ctx context.Context, reason LogoutReason, err error) {
	fields := map[string]any{"reason": string(reason)}
	if err != nil {
		fields["error"] = err.Error()
		c.telemetry.log(ctx, LogLevelError, "session_purge_failed", fields)
	} else {
		c.telemetry.log(ctx, LogLevelInfo, "session_purged", fields)
	}
	c.telemetry.count(ctx, MetricSessionPurge, map[string]string{"reason": string(reason)})
	if c.loginRequired != nil {
		c.loginRequired(ctx, reason)
	}
}
