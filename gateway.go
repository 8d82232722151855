package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/matorder/matorder/sdk/go/headers"
)

// pendingRequest is the per-call recovery state. retried flips false→true at most once.
type pendingRequest struct {
	retried bool
}

func (p *pendingRequest) markRetried() bool {
	if p.retried {
		return false
	}
	p.retried = true
	return true
}

// gatewayTransport attaches the stored bearer token to every request and, when recover is set,
// resolves a 401 by refreshing the pair and replaying the request once.
type gatewayTransport struct {
	base    http.RoundTripper
	client  *Client
	recover bool
}

func (t *gatewayTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	c := t.client
	requestID := req.Header.Get(headers.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	epoch := c.sessionEpoch()
	pair, err := c.store.Get(ctx)
	if err != nil {
		closeRequestBody(req)
		return nil, StoreError{Operation: "get", Cause: err}
	}
	if t.recover && pair != nil && expiresWithin(pair.AccessToken, c.refreshSkew, c.now()) {
		next, err := c.refreshFrom(ctx, pair.AccessToken, epoch)
		switch {
		case err == nil:
			pair = &next
		case ctx.Err() != nil:
			closeRequestBody(req)
			return nil, err
		default:
			// The access token has not expired yet; a 401 will decide whether the session ends.
			c.telemetry.log(ctx, LogLevelWarn, "proactive_refresh_failed", map[string]any{
				"error":      err.Error(),
				"request_id": requestID,
			})
		}
	}

	pending := &pendingRequest{}
	replay := false
	for {
		sent := ""
		if pair != nil {
			sent = pair.AccessToken
		}
		resp, err := t.attempt(req, sent, requestID, replay)
		if err != nil {
			return nil, err
		}
		if !t.recover || resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		if !pending.markRetried() {
			c.telemetry.log(ctx, LogLevelWarn, "unauthorized_after_refresh", map[string]any{
				"path":       req.URL.Path,
				"request_id": requestID,
			})
			c.purgeEpoch(ctx, epoch, LogoutSessionExpired)
			return resp, nil
		}

		current, err := c.store.Get(ctx)
		if err != nil {
			return resp, nil
		}
		if current == nil || current.RefreshToken == "" {
			c.purgeEpoch(ctx, epoch, LogoutNoRefreshToken)
			return resp, nil
		}
		next, err := c.refreshFrom(ctx, sent, epoch)
		if err != nil {
			c.purgeAfterRefresh(ctx, epoch, err)
			return resp, nil
		}
		if !replayable(req) {
			return resp, nil
		}
		drainAndClose(resp)
		pair = &next
		replay = true
	}
}

func (t *gatewayTransport) attempt(req *http.Request, token, requestID string, replay bool) (*http.Response, error) {
	ctx := req.Context()
	c := t.client
	r := req.Clone(ctx)
	if replay && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("sdk: rewind request body for replay: %w", err)
		}
		r.Body = body
	}
	if value := bearerValue(token); value != "" {
		r.Header.Set(headers.Authorization, headers.BearerPrefix+value)
	}
	r.Header.Set(headers.RequestID, requestID)
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", c.userAgent)
	}
	injectTraceparent(ctx, r)

	if c.telemetry.OnHTTPRequest != nil {
		c.telemetry.OnHTTPRequest(ctx, r)
	}
	c.telemetry.log(ctx, LogLevelDebug, "http_request", map[string]any{
		"method":     r.Method,
		"url":        r.URL.String(),
		"request_id": requestID,
		"replay":     replay,
	})
	start := time.Now()
	resp, err := t.base.RoundTrip(r)
	latency := time.Since(start)
	if c.telemetry.OnHTTPResponse != nil {
		c.telemetry.OnHTTPResponse(ctx, r, resp, err, latency)
	}
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	c.telemetry.metric(ctx, MetricHTTPLatency, float64(latency)/float64(time.Millisecond), map[string]string{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	return resp, err
}

// refreshFrom exchanges the refresh token for a new pair on behalf of the session identified by
// epoch. stale is the access token the caller was rejected with; when the store already holds a
// different pair, another caller has rotated it and that pair is returned without a network call.
// Concurrent callers of one session share one exchange. refreshFrom never purges: callers decide
// with purgeAfterRefresh.
func (c *Client) refreshFrom(ctx context.Context, stale string, epoch uint64) (CredentialPair, error) {
	if c.sessionEpoch() != epoch {
		return CredentialPair{}, errSessionChanged
	}
	if stale != "" {
		current, err := c.store.Get(ctx)
		if err != nil {
			return CredentialPair{}, StoreError{Operation: "get", Cause: err}
		}
		if current != nil && current.Complete() && current.AccessToken != stale {
			return *current, nil
		}
	}

	key := "refresh:" + strconv.FormatUint(epoch, 10)
	ch := c.refreshGroup.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		return c.refreshOnce(rctx, stale, epoch)
	})
	select {
	case <-ctx.Done():
		return CredentialPair{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return CredentialPair{}, res.Err
		}
		return res.Val.(CredentialPair), nil
	}
}

func (c *Client) refreshOnce(ctx context.Context, stale string, epoch uint64) (CredentialPair, error) {
	pair, err := c.store.Get(ctx)
	if err != nil {
		return CredentialPair{}, StoreError{Operation: "get", Cause: err}
	}
	// A flight that finished between the caller's check and this one already rotated the pair.
	if stale != "" && pair != nil && pair.Complete() && pair.AccessToken != stale {
		return *pair, nil
	}
	if pair == nil || pair.RefreshToken == "" {
		return CredentialPair{}, fmt.Errorf("%w: %w", ErrSessionExpired, ErrNoRefreshToken)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.retry.wait(ctx, attempt); err != nil {
				break
			}
		}
		resp, err := c.authAPI.Refresh(ctx, authRefreshRequest(pair.RefreshToken))
		if err == nil {
			next := CredentialPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
			if next.RefreshToken == "" {
				// The server did not rotate the refresh token.
				next.RefreshToken = pair.RefreshToken
			}
			if !next.Complete() {
				lastErr = ErrIncompletePair
				break
			}
			if err := c.commitRefresh(ctx, epoch, next); err != nil {
				if errors.Is(err, errSessionChanged) {
					c.telemetry.log(ctx, LogLevelInfo, "token_refresh_discarded", map[string]any{"attempt": attempt})
					c.telemetry.count(ctx, MetricTokenRefresh, map[string]string{"outcome": "discarded"})
					return CredentialPair{}, err
				}
				lastErr = err
				break
			}
			c.telemetry.log(ctx, LogLevelInfo, "token_refresh", map[string]any{"attempt": attempt})
			c.telemetry.count(ctx, MetricTokenRefresh, map[string]string{"outcome": "success"})
			return next, nil
		}
		lastErr = translateAuthError(err)
		if !IsNetworkError(lastErr) {
			break
		}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}

	c.telemetry.log(ctx, LogLevelWarn, "token_refresh_failed", map[string]any{"error": lastErr.Error()})
	c.telemetry.count(ctx, MetricTokenRefresh, map[string]string{"outcome": "failure"})
	return CredentialPair{}, fmt.Errorf("%w: %w", ErrSessionExpired, lastErr)
}

func injectTraceparent(ctx context.Context, req *http.Request) {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return
	}
	traceparent := fmt.Sprintf("00-%s-%s-%s", sc.TraceID().String(), sc.SpanID().String(), sc.TraceFlags().String())
	req.Header.Set(headers.Traceparent, traceparent)
}

// bearerValue strips a "Bearer " prefix some backends include in the issued token.
func bearerValue(token string) string {
	token = strings.TrimSpace(token)
	if len(token) >= len(headers.BearerPrefix) && strings.EqualFold(token[:len(headers.BearerPrefix)], headers.BearerPrefix) {
		token = strings.TrimSpace(token[len(headers.BearerPrefix):])
	}
	return token
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}

func closeRequestBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
