package kurirgo

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// WithBaseURL sets the base URL that relative endpoints are resolved
// against.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithDefaultHeaders replaces the default header set sent with every
// request.
func WithDefaultHeaders(headers http.Header) Option {
	return func(c *Client) {
		c.defaultHeaders = headers.Clone()
	}
}

// WithHeader adds one default header.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if c.defaultHeaders == nil {
			c.defaultHeaders = http.Header{}
		}
		c.defaultHeaders.Set(key, value)
	}
}

// WithTransport replaces the transport.
func WithTransport(transport Transport) Option {
	return func(c *Client) {
		c.transport = transport
	}
}

// WithHTTPClient uses the given http.Client as the transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.transport = NewHTTPTransport(client)
	}
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithRetryDisabled turns retries off entirely.
func WithRetryDisabled() Option {
	return func(c *Client) {
		policy := DefaultRetryPolicy()
		policy.MaxRetries = 0
		c.retryPolicy = policy
	}
}

// WithCache enables response caching with an in-memory store bounded to
// maxEntries and the given default TTL.
func WithCache(maxEntries int, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = NewInMemoryCache(maxEntries)
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithCustomCache enables response caching backed by a user-provided
// store.
func WithCustomCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithCacheTTLRules sets per-path TTL overrides, evaluated in order with
// first match winning.
func WithCacheTTLRules(rules []TTLRule) Option {
	return func(c *Client) {
		c.cacheRules = rules
	}
}

// WithCacheKeyFunc replaces the cache fingerprint function.
func WithCacheKeyFunc(fn CacheKeyFunc) Option {
	return func(c *Client) {
		c.cacheKeyFunc = fn
	}
}

// WithCacheCondition replaces the cache eligibility check.
func WithCacheCondition(condition CacheCondition) Option {
	return func(c *Client) {
		c.cacheCondition = condition
	}
}

// WithDeduplication enables in-flight request deduplication with the given
// fan-out window.
func WithDeduplication(window time.Duration) Option {
	return func(c *Client) {
		c.dedup = NewDeduplicationTracker(window)
	}
}

// WithDeduplicationKeyFunc replaces the deduplication fingerprint
// function.
func WithDeduplicationKeyFunc(fn DeduplicationKeyFunc) Option {
	return func(c *Client) {
		c.dedupKeyFunc = fn
	}
}

// WithDeduplicationCondition replaces the deduplication eligibility check.
func WithDeduplicationCondition(condition DeduplicationCondition) Option {
	return func(c *Client) {
		c.dedupCondition = condition
	}
}

// WithTokenProvider enables bearer auth backed by the given provider.
func WithTokenProvider(provider TokenProvider) Option {
	return func(c *Client) {
		if c.auth == nil {
			c.auth = newAuthCoordinator(provider, nil, "")
			return
		}
		c.auth.provider = provider
	}
}

// WithUnauthorizedHandler sets the handler fired when a request stays
// unauthorized after refresh handling.
func WithUnauthorizedHandler(handler UnauthorizedHandler) Option {
	return func(c *Client) {
		if c.auth == nil {
			c.auth = newAuthCoordinator(nil, handler, "")
			return
		}
		c.auth.onUnauthorized = handler
	}
}

// WithLocale sets the Accept-Language value injected on every request.
func WithLocale(locale string) Option {
	return func(c *Client) {
		if c.auth == nil {
			c.auth = newAuthCoordinator(nil, nil, locale)
			return
		}
		c.auth.locale = locale
	}
}

// WithRequestTransform sets the outbound body hook.
func WithRequestTransform(transform RequestTransform) Option {
	return func(c *Client) {
		c.requestTransform = transform
	}
}

// WithResponseTransform sets the inbound body hook.
func WithResponseTransform(transform ResponseTransform) Option {
	return func(c *Client) {
		c.responseTransform = transform
	}
}

// WithResponseParser replaces the default response parser.
func WithResponseParser(parser ResponseParser) Option {
	return func(c *Client) {
		c.parser = parser
	}
}

// WithMiddleware appends middleware; the first registered is outermost.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithConnectivityProbe enables the pre-flight connectivity gate.
func WithConnectivityProbe(probe ConnectivityProbe) Option {
	return func(c *Client) {
		c.probe = probe
	}
}

// WithLogger sets the structured logger used for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithZerolog wires a zerolog logger as the debug logger.
func WithZerolog(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = NewZerologLogger(logger)
	}
}

// WithDebug enables debug logging for all concerns, with a stderr zerolog
// logger unless one was configured.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		if c.logger == nil {
			c.logger = NewZerologLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
		}
	}
}

// WithDebugConfig replaces the debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithRequestIDGenerator replaces the correlation id generator.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector enables metrics with a pre-built collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// requestOptions is the resolved per-call configuration.
type requestOptions struct {
	query             url.Values
	headers           http.Header
	timeout           time.Duration
	minTimeout        time.Duration
	skipCache         bool
	skipDedup         bool
	skipTransform     bool
	cacheTTL          time.Duration
	parser            ResponseParser
	forcedContentType string
	progress          ProgressFunc
}

func newRequestOptions() *requestOptions {
	return &requestOptions{
		query:   url.Values{},
		headers: http.Header{},
	}
}

// RequestOption configures a single request.
type RequestOption func(*requestOptions)

// WithQueryParam adds a query parameter to the request URL.
func WithQueryParam(key, value string) RequestOption {
	return func(ro *requestOptions) {
		ro.query.Add(key, value)
	}
}

// WithQueryParams merges a set of query parameters into the request URL.
func WithQueryParams(values url.Values) RequestOption {
	return func(ro *requestOptions) {
		for key, vals := range values {
			for _, v := range vals {
				ro.query.Add(key, v)
			}
		}
	}
}

// WithRequestHeader sets a header for this request, overriding any default
// header of the same name.
func WithRequestHeader(key, value string) RequestOption {
	return func(ro *requestOptions) {
		ro.headers.Set(key, value)
	}
}

// WithRequestTimeout overrides the client timeout for this request.
func WithRequestTimeout(timeout time.Duration) RequestOption {
	return func(ro *requestOptions) {
		ro.timeout = timeout
	}
}

// WithCacheBypass skips the cache check and cache population for this
// request.
func WithCacheBypass() RequestOption {
	return func(ro *requestOptions) {
		ro.skipCache = true
	}
}

// WithRequestCacheTTL overrides the cache TTL for this request's response.
func WithRequestCacheTTL(ttl time.Duration) RequestOption {
	return func(ro *requestOptions) {
		ro.cacheTTL = ttl
	}
}

// WithDeduplicationBypass skips in-flight deduplication for this request.
func WithDeduplicationBypass() RequestOption {
	return func(ro *requestOptions) {
		ro.skipDedup = true
	}
}

// WithProgress reports transfer progress: bytes sent for uploads, bytes
// received for downloads.
func WithProgress(fn ProgressFunc) RequestOption {
	return func(ro *requestOptions) {
		ro.progress = fn
	}
}

// WithParser overrides the response parser for this request.
func WithParser(parser ResponseParser) RequestOption {
	return func(ro *requestOptions) {
		ro.parser = parser
	}
}

// ValidateConfiguration checks the client configuration for invalid or
// extreme values and returns an aggregate error describing every problem
// found.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	if c.timeout < 0 {
		problems = append(problems, "Timeout must be non-negative")
	}
	if c.timeout > 10*time.Minute {
		problems = append(problems, "Timeout > 10m may cause requests to hang for a long time")
	}
	if c.baseURL != "" {
		if _, err := url.Parse(c.baseURL); err != nil {
			problems = append(problems, fmt.Sprintf("BaseURL is not a valid URL: %v", err))
		}
	}

	if c.retryPolicy == nil {
		problems = append(problems, "RetryPolicy must not be nil")
	} else {
		problems = append(problems, c.retryPolicy.validate()...)
	}

	if c.cache != nil {
		if c.cacheTTL <= 0 {
			problems = append(problems, "cache default TTL must be positive")
		}
		if c.cacheKeyFunc == nil {
			problems = append(problems, "cache key function must not be nil when caching is enabled")
		}
		if c.cacheCondition == nil {
			problems = append(problems, "cache condition must not be nil when caching is enabled")
		}
		for _, rule := range c.cacheRules {
			if rule.Pattern == "" {
				problems = append(problems, "cache TTL rule pattern must not be empty")
			}
			if rule.TTL <= 0 {
				problems = append(problems, fmt.Sprintf("cache TTL rule %q must have a positive TTL", rule.Pattern))
			}
		}
	}

	if c.dedup != nil {
		if c.dedupKeyFunc == nil {
			problems = append(problems, "deduplication key function must not be nil when deduplication is enabled")
		}
		if c.dedupCondition == nil {
			problems = append(problems, "deduplication condition must not be nil when deduplication is enabled")
		}
	}

	if c.parser == nil {
		problems = append(problems, "response parser must not be nil")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
