package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/matorder/matorder/sdk/go/headers"
)

var (
	// ErrInvalidCredentials marks login/register rejections (4xx from the auth API).
	ErrInvalidCredentials = errors.New("sdk: invalid credentials")
	// ErrSessionExpired marks an unrecoverable authentication failure; the session has been purged.
	ErrSessionExpired = errors.New("sdk: session expired")
	// ErrNoRefreshToken is returned when a refresh is requested with nothing to refresh.
	ErrNoRefreshToken = errors.New("sdk: no refresh token stored")
	// ErrIncompletePair is returned when a credential pair is missing one of its tokens.
	ErrIncompletePair = errors.New("sdk: incomplete credential pair")

	errSessionChanged = fmt.Errorf("%w: session ended while refreshing", ErrSessionExpired)
)

// APIError captures a non-2xx response from the API.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

// Error implements the error interface.
func (e APIError) Error() string {
	if e.Code == "" {
		e.Code = strings.ReplaceAll(strings.ToUpper(http.StatusText(e.Status)), " ", "_")
	}
	if e.Code == "" {
		e.Code = "UNKNOWN"
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("%s (%d)", e.Code, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := APIError{
		Status:    resp.StatusCode,
		RequestID: resp.Header.Get(headers.RequestID),
	}
	if resp.Request != nil && apiErr.RequestID == "" {
		apiErr.RequestID = resp.Request.Header.Get(headers.RequestID)
	}
	if len(data) == 0 {
		apiErr.Message = resp.Status
		return apiErr
	}
	var payload struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Code    string `json:"code"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Code = payload.Code
	apiErr.Message = payload.Message
	if apiErr.Message == "" {
		apiErr.Message = payload.Error
	}
	if apiErr.Message == "" {
		apiErr.Message = resp.Status
	}
	return apiErr
}

// TransportErrorKind classifies failures where no HTTP response was received.
type TransportErrorKind string

const (
	TransportErrorTimeout       TransportErrorKind = "timeout"
	TransportErrorConnect       TransportErrorKind = "connect"
	TransportErrorCanceled      TransportErrorKind = "canceled"
	TransportErrorEmptyResponse TransportErrorKind = "empty_response"
	TransportErrorOther         TransportErrorKind = "other"
)

// TransportError reports a network failure: the request never produced a response.
type TransportError struct {
	Kind    TransportErrorKind
	Message string
	Cause   error
}

func (e TransportError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "transport failure"
	}
	if e.Cause != nil {
		return fmt.Sprintf("sdk: %s (%s): %v", msg, e.Kind, e.Cause)
	}
	return fmt.Sprintf("sdk: %s (%s)", msg, e.Kind)
}

func (e TransportError) Unwrap() error { return e.Cause }

func classifyTransportErrorKind(err error) TransportErrorKind {
	if err == nil {
		return TransportErrorOther
	}
	if errors.Is(err, context.Canceled) {
		return TransportErrorCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransportErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransportErrorTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return TransportErrorConnect
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return TransportErrorEmptyResponse
	}
	return TransportErrorOther
}

func newTransportError(message string, cause error) TransportError {
	return TransportError{
		Kind:    classifyTransportErrorKind(cause),
		Message: message,
		Cause:   cause,
	}
}

// ConfigError reports an invalid client configuration.
type ConfigError struct {
	Reason string
}

func (e ConfigError) Error() string { return "sdk: invalid config: " + e.Reason }

// StoreError wraps a TokenStore failure.
type StoreError struct {
	Operation string
	Cause     error
}

func (e StoreError) Error() string {
	if e.Cause == nil {
		return "sdk: token store " + e.Operation + " failed"
	}
	return fmt.Sprintf("sdk: token store %s: %v", e.Operation, e.Cause)
}

func (e StoreError) Unwrap() error { return e.Cause }

// FailsafeTimeoutError is returned when an operation guarded by the failsafe did not settle in
// time. The fallback has already run when the caller sees it.
type FailsafeTimeoutError struct {
	Timeout time.Duration
}

func (e *FailsafeTimeoutError) Error() string {
	return fmt.Sprintf("sdk: operation did not settle within %s; forced fallback", e.Timeout)
}

// IsNetworkError reports whether err is a transport failure (no response received).
func IsNetworkError(err error) bool {
	var te TransportError
	return errors.As(err, &te)
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// IsInvalidCredentials reports whether err is a login/register rejection.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsSessionExpired reports whether err ended the session.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}
