// Package headers defines HTTP header names the admin console API and its clients agree on.
package headers

const (
	// Authorization carries the bearer access token.
	Authorization = "Authorization"

	// RequestID correlates a client request with server logs. Replays of a request reuse the id.
	RequestID = "X-Request-Id"

	// Traceparent propagates the W3C trace context.
	Traceparent = "Traceparent"
)

// BearerPrefix precedes the access token in the Authorization header.
const BearerPrefix = "Bearer "
