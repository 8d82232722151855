package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/matorder/matorder/sdk/go/auth"
	"github.com/matorder/matorder/sdk/go/routes"
)

// LogoutReason says why a session ended.
type LogoutReason string

const (
	// LogoutExplicit is a user-initiated logout.
	LogoutExplicit LogoutReason = "explicit"
	// LogoutSessionExpired is a 401 on a request that was already replayed with a fresh token.
	LogoutSessionExpired LogoutReason = "session_expired"
	// LogoutRefreshFailed is a refresh exchange the server rejected or that never completed.
	LogoutRefreshFailed LogoutReason = "refresh_failed"
	// LogoutNoRefreshToken is a 401 while no refresh token was stored.
	LogoutNoRefreshToken LogoutReason = "no_refresh_token"
	// LogoutFailsafeTimeout is a sign-out whose server call did not settle in time.
	LogoutFailsafeTimeout LogoutReason = "failsafe_timeout"
)

// RegisterRequest carries the registration form fields.
type RegisterRequest = auth.RegisterRequest

// SessionClient groups login, logout, refresh and profile operations.
type SessionClient struct {
	client *Client
}

// Login authenticates with email and password and persists the issued pair and profile.
//
// A rejection surfaces as an error matching ErrInvalidCredentials; a network failure as a
// TransportError. The store is left untouched on every failure.
func (s *SessionClient) Login(ctx context.Context, email, password string) (UserProfile, error) {
	if err := s.ensureInitialized(); err != nil {
		return UserProfile{}, err
	}
	resp, err := s.client.authAPI.Login(ctx, auth.Credentials{Email: email, Password: password})
	if err != nil {
		return UserProfile{}, credentialsError(err)
	}
	return s.establish(ctx, resp, "login")
}

// Register creates an account and logs it in, with the same contract as Login.
func (s *SessionClient) Register(ctx context.Context, req RegisterRequest) (UserProfile, error) {
	if err := s.ensureInitialized(); err != nil {
		return UserProfile{}, err
	}
	resp, err := s.client.authAPI.Register(ctx, req)
	if err != nil {
		return UserProfile{}, credentialsError(err)
	}
	return s.establish(ctx, resp, "register")
}

// Refresh exchanges the stored refresh token for a new pair. On any failure the session is
// purged and the error matches ErrSessionExpired.
func (s *SessionClient) Refresh(ctx context.Context) (CredentialPair, error) {
	if err := s.ensureInitialized(); err != nil {
		return CredentialPair{}, err
	}
	c := s.client
	epoch := c.sessionEpoch()
	pair, err := c.refreshFrom(ctx, "", epoch)
	if err != nil {
		c.purgeAfterRefresh(ctx, epoch, err)
		return CredentialPair{}, err
	}
	return pair, nil
}

// WhoAmI fetches the current user and refreshes the cached profile. It returns nil on any
// failure; profile caching is best-effort.
func (s *SessionClient) WhoAmI(ctx context.Context) *UserProfile {
	if s.ensureInitialized() != nil {
		return nil
	}
	c := s.client
	var payload struct {
		Success bool         `json:"success"`
		User    *UserProfile `json:"user"`
	}
	epoch := c.sessionEpoch()
	if err := c.Do(ctx, http.MethodGet, routes.AuthMe, nil, &payload); err != nil {
		c.telemetry.log(ctx, LogLevelWarn, "whoami_failed", map[string]any{"error": err.Error()})
		return nil
	}
	if !payload.Success || payload.User == nil {
		c.telemetry.log(ctx, LogLevelWarn, "whoami_failed", map[string]any{"error": "missing user in response"})
		return nil
	}
	if err := c.cacheProfile(ctx, epoch, *payload.User); err != nil {
		c.telemetry.log(ctx, LogLevelWarn, "profile_cache_failed", map[string]any{"error": err.Error()})
	}
	return payload.User
}

// CachedProfile returns the cached profile without network I/O.
func (s *SessionClient) CachedProfile(ctx context.Context) *UserProfile {
	if s.ensureInitialized() != nil {
		return nil
	}
	profile, err := s.client.store.Profile(ctx)
	if err != nil {
		return nil
	}
	return profile
}

// State reports whether an access token is stored. A store that cannot be read counts as
// anonymous.
func (s *SessionClient) State(ctx context.Context) SessionState {
	if s.ensureInitialized() != nil {
		return SessionAnonymous
	}
	pair, err := s.client.store.Get(ctx)
	if err != nil {
		return SessionAnonymous
	}
	return stateOf(pair)
}

// Logout invalidates the refresh token server-side on a best-effort basis, then purges the
// session whatever the server call did. The server call is skipped when no refresh token is
// stored. Only a failure to clear local state is returned.
func (s *SessionClient) Logout(ctx context.Context) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	return s.logout(ctx, s.client.purge)
}

// SignOut is Logout bounded by the failsafe timeout: when the server does not answer in time
// the session is purged anyway and a *FailsafeTimeoutError is returned. LoginRequired fires
// exactly once either way.
func (s *SessionClient) SignOut(ctx context.Context) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	c := s.client
	var (
		once     sync.Once
		purgeErr error
	)
	finish := func(ctx context.Context, reason LogoutReason) error {
		once.Do(func() { purgeErr = c.purge(ctx, reason) })
		return purgeErr
	}
	return c.failsafe.Run(ctx,
		func(ctx context.Context) error {
			return s.logout(ctx, finish)
		},
		func(ctx context.Context) {
			c.telemetry.log(ctx, LogLevelWarn, "failsafe_timeout", map[string]any{
				"timeout_ms": c.failsafe.Timeout().Milliseconds(),
			})
			c.telemetry.count(ctx, MetricFailsafeFired, nil)
			_ = finish(ctx, LogoutFailsafeTimeout)
		},
	)
}

func (s *SessionClient) logout(ctx context.Context, finish func(context.Context, LogoutReason) error) error {
	c := s.client
	pair, err := c.store.Get(ctx)
	if err != nil {
		c.telemetry.log(ctx, LogLevelWarn, "logout_store_read_failed", map[string]any{"error": err.Error()})
	}
	if pair != nil && pair.RefreshToken != "" {
		if err := c.authAPI.Logout(ctx, authRefreshRequest(pair.RefreshToken)); err != nil {
			c.telemetry.log(ctx, LogLevelWarn, "logout_transport_failure", map[string]any{
				"error": translateAuthError(err).Error(),
			})
			c.telemetry.count(ctx, MetricLogoutFailure, nil)
		}
	}
	return finish(ctx, LogoutExplicit)
}

func (s *SessionClient) establish(ctx context.Context, resp auth.Response, op string) (UserProfile, error) {
	c := s.client
	pair := CredentialPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if !pair.Complete() {
		return UserProfile{}, fmt.Errorf("sdk: %s response: %w", op, ErrIncompletePair)
	}
	var profile UserProfile
	if len(resp.User) > 0 {
		if err := json.Unmarshal(resp.User, &profile); err != nil {
			return UserProfile{}, fmt.Errorf("sdk: decode %s user: %w", op, err)
		}
	}
	if err := c.beginSession(ctx, pair, &profile); err != nil {
		return UserProfile{}, StoreError{Operation: "set", Cause: err}
	}
	c.telemetry.log(ctx, LogLevelInfo, op, map[string]any{"user_id": string(profile.ID)})
	return profile, nil
}

func (s *SessionClient) ensureInitialized() error {
	if s == nil || s.client == nil {
		return errors.New("sdk: session client not initialized")
	}
	return nil
}

func authRefreshRequest(refreshToken string) auth.RefreshRequest {
	return auth.RefreshRequest{RefreshToken: refreshToken}
}

// translateAuthError maps auth client failures onto the SDK error types.
func translateAuthError(err error) error {
	var authErr auth.Error
	if errors.As(err, &authErr) {
		return APIError{Status: authErr.Status, Message: authErr.Message}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return newTransportError("auth request failed", err)
	}
	return err
}

func credentialsError(err error) error {
	translated := translateAuthError(err)
	var apiErr APIError
	if errors.As(translated, &apiErr) {
		if apiErr.Status >= http.StatusInternalServerError {
			return apiErr
		}
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, apiErr)
	}
	if errors.Is(translated, auth.ErrMissingCredentials) {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, translated)
	}
	return translated
}
