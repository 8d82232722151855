// Package auth is the wire client for the admin console auth endpoints. It performs no token
// bookkeeping: callers decide what to persist.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/matorder/matorder/sdk/go/routes"
)

const defaultUserAgent = "matorder-sdk-auth/1"

// ErrMissingCredentials is returned before any request when email or password is empty.
var ErrMissingCredentials = errors.New("sdk/auth: email and password required")

// Config controls how the auth client talks to the API.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

// Client issues login, register, refresh and logout requests.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Credentials encapsulates email/password inputs for login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest carries the registration form.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// RefreshRequest wraps the token used during refresh and logout.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Response mirrors the API envelope shared by all auth endpoints.
type Response struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message,omitempty"`
	User         json.RawMessage `json:"user,omitempty"`
	AccessToken  string          `json:"accessToken,omitempty"`
	RefreshToken string          `json:"refreshToken,omitempty"`
}

// Error conveys a non-2xx answer, or a 2xx answer with success=false.
type Error struct {
	Status  int
	Message string
	Body    string
}

func (e Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	return fmt.Sprintf("sdk/auth: http %d: %s", e.Status, msg)
}

// NewClient constructs a Client with sane defaults.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("sdk/auth: base url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		baseURL:    strings.TrimSuffix(base, "/"),
		httpClient: client,
		userAgent:  ua,
	}, nil
}

// Login exchanges user credentials for a token pair and profile.
func (c *Client) Login(ctx context.Context, creds Credentials) (Response, error) {
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return Response{}, ErrMissingCredentials
	}
	return c.post(ctx, routes.AuthLogin, creds)
}

// Register creates an account; the response has the same shape as Login.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (Response, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return Response{}, ErrMissingCredentials
	}
	return c.post(ctx, routes.AuthRegister, req)
}

// Refresh swaps a refresh token for a new token pair. The refresh token in the response may be
// empty when the server does not rotate it.
func (c *Client) Refresh(ctx context.Context, req RefreshRequest) (Response, error) {
	if strings.TrimSpace(req.RefreshToken) == "" {
		return Response{}, errors.New("sdk/auth: refresh token required")
	}
	return c.post(ctx, routes.AuthRefreshToken, req)
}

// Logout invalidates the refresh token server-side.
func (c *Client) Logout(ctx context.Context, req RefreshRequest) error {
	_, err := c.post(ctx, routes.AuthLogout, req)
	return err
}

func (c *Client) post(ctx context.Context, path string, payload any) (Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	//nolint:errcheck // best-effort cleanup on return
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	var out Response
	if resp.StatusCode >= 400 {
		_ = json.Unmarshal(body, &out)
		return Response{}, Error{Status: resp.StatusCode, Message: out.Message, Body: string(body)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return Response{}, Error{Status: resp.StatusCode, Message: "empty response body"}
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, fmt.Errorf("sdk/auth: decode %s response: %w", path, err)
	}
	if !out.Success {
		return Response{}, Error{Status: resp.StatusCode, Message: out.Message, Body: string(body)}
	}
	return out, nil
}
