package kurirgo

import (
	"context"
	"net/http"
)

// Transport sends a prepared request and returns the raw response or a
// transport-level error. The pipeline treats it as a black box; connection
// management, TLS and redirects live behind this interface.
type Transport interface {
	Send(req *http.Request) (*http.Response, error)
}

// TransportFunc adapts a plain function to the Transport interface.
type TransportFunc func(req *http.Request) (*http.Response, error)

func (f TransportFunc) Send(req *http.Request) (*http.Response, error) {
	return f(req)
}

// TokenProvider supplies bearer tokens for outbound requests and performs
// refreshes when a request is rejected with 401.
type TokenProvider interface {
	// AccessToken returns the current token, or "" when none is available.
	AccessToken(ctx context.Context) (string, error)
	// HasValidToken reports whether the current token is known usable.
	HasValidToken(ctx context.Context) bool
	// RefreshToken obtains a new token. It returns "" (with or without an
	// error) when no new token could be obtained.
	RefreshToken(ctx context.Context) (string, error)
}

// UnauthorizedHandler is invoked as a fire-and-forget side effect when a
// request stays unauthorized after refresh handling, e.g. sign-out
// navigation in a UI shell.
type UnauthorizedHandler func()

// ConnectivityProbe answers a best-effort "is the network reachable" check
// used as an optional pre-flight gate.
type ConnectivityProbe interface {
	IsConnected(ctx context.Context) bool
}

// Logger is the minimal structured logging interface used for debug output.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Middleware is a user-supplied cross-cutting stage wrapped around the
// transport boundary. Middleware observes the fully decorated outbound
// request and the raw inbound response.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper is the transport-shaped interface middleware wraps.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware composition.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// CacheCondition decides whether a request participates in response caching.
type CacheCondition func(req *http.Request) bool

// CacheKeyFunc derives the cache fingerprint for a request.
type CacheKeyFunc func(req *http.Request) string

// DeduplicationCondition decides whether a request is eligible for
// in-flight deduplication.
type DeduplicationCondition func(req *http.Request) bool

// DeduplicationKeyFunc derives the deduplication fingerprint for a request.
type DeduplicationKeyFunc func(req *http.Request) string

// RequestTransform is an optional hook applied to the outbound body before
// auth decoration. Returning an error aborts the request.
type RequestTransform func(endpoint string, body []byte, req *http.Request) ([]byte, error)

// ResponseTransform is an optional hook applied to the inbound body. The
// returned bytes replace the response body; all other envelope fields are
// preserved. Returning an error aborts the request.
type ResponseTransform func(endpoint string, resp *http.Response) ([]byte, error)

// requestContext is the explicit per-attempt state threaded through
// pipeline stages: correlation id, attempt counter and derived keys. It
// replaces the mutable extension-bag pattern with a typed record.
type requestContext struct {
	id                  string
	attempt             int
	cacheKey            string
	dedupKey            string
	retriedAfterRefresh bool
	unauthorizedFired   bool
}

// Option configures a Client at construction time.
type Option func(*Client)
