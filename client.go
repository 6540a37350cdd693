package kurirgo

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
	"time"
)

// Client is an HTTP client runtime that layers deduplication, caching,
// retries with backoff, token-based auth with single-flight refresh and
// request/response transformation around a pluggable transport. Every
// public operation resolves to a Result rather than raising across the
// boundary. A Client is safe for concurrent use; no two clients share
// cache, dedup or auth state.
type Client struct {
	baseURL        string
	transport      Transport
	timeout        time.Duration
	defaultHeaders http.Header

	retryPolicy *RetryPolicy

	cache          Cache
	cacheTTL       time.Duration
	cacheRules     []TTLRule
	cacheKeyFunc   CacheKeyFunc
	cacheCondition CacheCondition

	dedup          *DeduplicationTracker
	dedupKeyFunc   DeduplicationKeyFunc
	dedupCondition DeduplicationCondition

	auth *authCoordinator

	requestTransform  RequestTransform
	responseTransform ResponseTransform

	parser     ResponseParser
	middleware []Middleware
	probe      ConnectivityProbe
	metrics    *MetricsCollector
	debug      *DebugConfig
	logger     Logger

	validationError error
}

// New constructs a Client from functional options. A best-effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		timeout:        30 * time.Second,
		defaultHeaders: http.Header{},
		retryPolicy:    DefaultRetryPolicy(),
		cacheTTL:       5 * time.Minute,
		cacheKeyFunc:   DefaultCacheKeyFunc,
		cacheCondition: DefaultCacheCondition,
		dedupKeyFunc:   DefaultDeduplicationKeyFunc,
		dedupCondition: DefaultDeduplicationCondition,
		parser:         EnvelopeParser{},
		debug:          DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if client.transport == nil {
		client.transport = NewHTTPTransport(&http.Client{Timeout: client.timeout})
	}
	if client.debug == nil {
		client.debug = DefaultDebugConfig()
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool { return c.validationError == nil }

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error { return c.validationError }

// Get performs an HTTP GET against the endpoint.
func (c *Client) Get(ctx context.Context, endpoint string, opts ...RequestOption) Result[*RawResponse] {
	return c.execute(ctx, http.MethodGet, endpoint, nil, opts)
}

// Post performs an HTTP POST with the given payload.
func (c *Client) Post(ctx context.Context, endpoint string, payload any, opts ...RequestOption) Result[*RawResponse] {
	return c.execute(ctx, http.MethodPost, endpoint, payload, opts)
}

// Put performs an HTTP PUT with the given payload.
func (c *Client) Put(ctx context.Context, endpoint string, payload any, opts ...RequestOption) Result[*RawResponse] {
	return c.execute(ctx, http.MethodPut, endpoint, payload, opts)
}

// Patch performs an HTTP PATCH with the given payload.
func (c *Client) Patch(ctx context.Context, endpoint string, payload any, opts ...RequestOption) Result[*RawResponse] {
	return c.execute(ctx, http.MethodPatch, endpoint, payload, opts)
}

// Delete performs an HTTP DELETE against the endpoint.
func (c *Client) Delete(ctx context.Context, endpoint string, opts ...RequestOption) Result[*RawResponse] {
	return c.execute(ctx, http.MethodDelete, endpoint, nil, opts)
}

// GetAs performs a GET and decodes the response data into T.
func GetAs[T any](ctx context.Context, c *Client, endpoint string, opts ...RequestOption) Result[*BaseResponse[T]] {
	return decodeResult[T](c.Get(ctx, endpoint, opts...))
}

// PostAs performs a POST and decodes the response data into T.
func PostAs[T any](ctx context.Context, c *Client, endpoint string, payload any, opts ...RequestOption) Result[*BaseResponse[T]] {
	return decodeResult[T](c.Post(ctx, endpoint, payload, opts...))
}

// PutAs performs a PUT and decodes the response data into T.
func PutAs[T any](ctx context.Context, c *Client, endpoint string, payload any, opts ...RequestOption) Result[*BaseResponse[T]] {
	return decodeResult[T](c.Put(ctx, endpoint, payload, opts...))
}

// PatchAs performs a PATCH and decodes the response data into T.
func PatchAs[T any](ctx context.Context, c *Client, endpoint string, payload any, opts ...RequestOption) Result[*BaseResponse[T]] {
	return decodeResult[T](c.Patch(ctx, endpoint, payload, opts...))
}

// DeleteAs performs a DELETE and decodes the response data into T.
func DeleteAs[T any](ctx context.Context, c *Client, endpoint string, opts ...RequestOption) Result[*BaseResponse[T]] {
	return decodeResult[T](c.Delete(ctx, endpoint, opts...))
}

// InvalidateCache removes cached responses whose key matches the glob
// pattern, returning the number of entries removed.
func (c *Client) InvalidateCache(pattern string) int {
	if c.cache == nil {
		return 0
	}
	return c.cache.InvalidatePattern(pattern)
}

// execute is the facade entry: it builds the request, runs the pipeline
// and parses the outcome into a Result.
func (c *Client) execute(ctx context.Context, method, endpoint string, payload any, opts []RequestOption) Result[*RawResponse] {
	body, contentType, err := encodeBody(payload)
	if err != nil {
		return Err[*RawResponse](&Failure{
			Kind:      KindUnexpected,
			Message:   "encoding request payload",
			Cause:     err,
			Method:    method,
			URL:       endpoint,
			Timestamp: time.Now(),
		})
	}
	return c.run(ctx, method, endpoint, body, contentType, opts)
}

// run performs a request whose body is already encoded.
func (c *Client) run(ctx context.Context, method, endpoint string, body []byte, contentType string, opts []RequestOption) Result[*RawResponse] {
	rc := &requestContext{id: c.newRequestID()}

	if c.validationError != nil {
		return Err[*RawResponse](&Failure{
			Kind:      KindUnexpected,
			Message:   "client configuration is invalid",
			Cause:     c.validationError,
			RequestID: rc.id,
			Timestamp: time.Now(),
		})
	}

	ro := newRequestOptions()
	for _, opt := range opts {
		opt(ro)
	}

	target, err := c.buildURL(endpoint, ro.query)
	if err != nil {
		return Err[*RawResponse](&Failure{
			Kind:      KindUnexpected,
			Message:   "building request URL",
			Cause:     err,
			RequestID: rc.id,
			Method:    method,
			URL:       endpoint,
			Timestamp: time.Now(),
		})
	}

	timeout := c.timeout
	if ro.timeout > 0 {
		timeout = ro.timeout
	}
	if ro.minTimeout > 0 && timeout < ro.minTimeout {
		timeout = ro.minTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return Err[*RawResponse](&Failure{
			Kind:      KindUnexpected,
			Message:   "building request",
			Cause:     err,
			RequestID: rc.id,
			Method:    method,
			URL:       target,
			Timestamp: time.Now(),
		})
	}
	if body != nil {
		setRequestBody(req, body)
		if ro.progress != nil {
			attachProgress(req, ro.progress)
		}
	}

	for key, values := range c.defaultHeaders {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, values := range ro.headers {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if ro.forcedContentType != "" {
		req.Header.Set("Content-Type", ro.forcedContentType)
	}

	resp, err := c.do(req, ro, rc)
	return c.finish(req, rc, resp, err, ro)
}

// do runs the pipeline for one request. Request-phase stage order is
// fixed: connectivity gate, dedup begin, cache check, outbound transform,
// auth decoration, send. The response phase unwinds in reverse: auth 401
// handling, inbound transform, cache population, dedup settlement.
func (c *Client) do(req *http.Request, ro *requestOptions, rc *requestContext) (*http.Response, error) {
	start := time.Now()
	endpoint := endpointFromRequest(req)

	c.logDebug(c.debug.LogRequests, "starting request",
		"requestID", rc.id, "method", req.Method, "url", req.URL.String())
	c.metrics.RecordRequestStart(req.Method, endpoint)
	defer c.metrics.RecordRequestEnd(req.Method, endpoint)

	record := func(resp *http.Response) {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		c.metrics.RecordRequest(req.Method, endpoint, statusCode, time.Since(start))
	}

	if c.probe != nil && !c.probe.IsConnected(req.Context()) {
		failure := c.newFailure(KindNoInternet, "network is unreachable", nil, req, rc)
		record(nil)
		return nil, failure
	}

	dedupEnabled := c.dedup != nil && !ro.skipDedup && c.dedupCondition(req)
	var dedupEntry *DeduplicationEntry
	var isLeader bool
	if dedupEnabled {
		rc.dedupKey = c.dedupKeyFunc(req)
		dedupEntry, isLeader = c.dedup.GetOrCreateEntry(rc.dedupKey)
		if !isLeader {
			c.logDebug(c.debug.LogDedup, "joining in-flight request", "requestID", rc.id, "dedupKey", rc.dedupKey)
			c.metrics.RecordDeduplicationHit(req.Method, endpoint)
			resp, err := dedupEntry.Wait(req.Context())
			record(resp)
			return resp, err
		}
		c.logDebug(c.debug.LogDedup, "leading request", "requestID", rc.id, "dedupKey", rc.dedupKey)
	}
	settle := func(resp *http.Response, err error) {
		if dedupEnabled && isLeader {
			c.dedup.Complete(rc.dedupKey, dedupEntry, resp, err)
		}
	}

	cacheEnabled := c.cache != nil && !ro.skipCache && c.cacheCondition(req)
	if cacheEnabled {
		rc.cacheKey = c.cacheKeyFunc(req)
		if entry, found := c.cache.Get(rc.cacheKey); found {
			c.logDebug(c.debug.LogCache, "cache hit", "requestID", rc.id, "cacheKey", rc.cacheKey)
			c.metrics.RecordCacheHit(req.Method, endpoint)
			resp := responseFromCache(entry)
			settle(resp, nil)
			record(resp)
			return resp, nil
		}
		c.logDebug(c.debug.LogCache, "cache miss", "requestID", rc.id, "cacheKey", rc.cacheKey)
		c.metrics.RecordCacheMiss(req.Method, endpoint)
	}

	// Transform runs before auth so injected auth headers are never
	// visible to user hooks.
	if !ro.skipTransform {
		if err := applyRequestTransform(c.requestTransform, endpoint, req); err != nil {
			failure := c.newFailure(KindUnexpected, "request transform failed", err, req, rc)
			settle(nil, failure)
			record(nil)
			return nil, failure
		}
	}

	c.auth.decorate(req.Context(), req)

	resp, err := c.sendWithRetry(req, rc)

	if err == nil && resp != nil && resp.StatusCode == http.StatusUnauthorized {
		resp, err = c.handleUnauthorized(req, rc, resp)
	}

	if err == nil && !ro.skipTransform {
		if terr := applyResponseTransform(c.responseTransform, endpoint, resp); terr != nil {
			err = c.newFailure(KindUnexpected, "response transform failed", terr, req, rc)
			resp = nil
		}
	}

	if cacheEnabled && err == nil && resp != nil &&
		resp.StatusCode >= 200 && resp.StatusCode < 300 && req.Context().Err() == nil {
		entry, snapErr := cacheEntryFromResponse(resp)
		if snapErr == nil {
			ttl := ro.cacheTTL
			if ttl <= 0 {
				ttl = resolveTTL(c.cacheRules, req.URL.Path, c.cacheTTL)
			}
			c.cache.Set(rc.cacheKey, entry, ttl)
			c.metrics.RecordCacheSize("default", c.cache.Len())
			c.logDebug(c.debug.LogCache, "response cached", "requestID", rc.id, "cacheKey", rc.cacheKey, "ttl", ttl)
		}
	}

	settle(resp, err)
	record(resp)
	return resp, err
}

// sendWithRetry sends the request, retrying per the policy. Retries
// re-invoke the transport directly: they bypass dedup and cache checks so
// a resend is never coalesced against fresh concurrent requests.
func (c *Client) sendWithRetry(req *http.Request, rc *requestContext) (*http.Response, error) {
	endpoint := endpointFromRequest(req)

	for {
		if rc.attempt > 0 {
			c.logDebug(c.debug.LogRetries, "retry attempt",
				"requestID", rc.id, "attempt", rc.attempt, "maxRetries", c.retryPolicy.MaxRetries, "endpoint", endpoint)
			c.metrics.RecordRetry(req.Method, endpoint, rc.attempt)
			if req.GetBody != nil {
				if fresh, err := req.GetBody(); err == nil {
					req.Body = fresh
				}
			}
		}

		resp, err := c.send(req)

		failure := c.attemptFailure(req, rc, resp, err)
		if failure == nil {
			return resp, nil
		}

		if !c.retryPolicy.ShouldRetry(failure, rc.attempt) {
			if err != nil {
				return nil, failure
			}
			// Non-retryable HTTP status: hand the raw response up so the
			// auth stage and the facade can interpret it.
			return resp, nil
		}

		if resp != nil && resp.Body != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		delay := c.retryPolicy.DelayFor(rc.attempt)
		rc.attempt++
		c.logDebug(c.debug.LogRetries, "scheduling retry",
			"requestID", rc.id, "attempt", rc.attempt, "backoff", delay, "endpoint", endpoint)

		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			// A deadline expiring here means the attempt's failure is the
			// real outcome; Cancelled is reserved for explicit cancellation.
			if errors.Is(req.Context().Err(), context.DeadlineExceeded) {
				return nil, failure
			}
			return nil, c.newFailure(KindCancelled, "request cancelled while waiting to retry", req.Context().Err(), req, rc)
		}
	}
}

// send runs the user middleware chain around the transport. Middleware is
// applied in reverse registration order so the first registered middleware
// is outermost.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.transport.Send(req)
	}

	current := RoundTripperFunc(c.transport.Send)
	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}
	return current.RoundTrip(req)
}

// handleUnauthorized coordinates the 401 path: refresh the token through
// the single-flight group, replay the request once with the new token and
// the retried-after-refresh marker, and fall back to the unauthorized
// handler when refresh cannot help. The marker prevents refresh loops.
func (c *Client) handleUnauthorized(req *http.Request, rc *requestContext, resp *http.Response) (*http.Response, error) {
	a := c.auth
	if a == nil || a.provider == nil {
		return resp, nil
	}

	if rc.retriedAfterRefresh {
		a.notifyUnauthorized(rc)
		return resp, nil
	}

	c.logDebug(c.debug.LogAuth, "unauthorized response, attempting token refresh", "requestID", rc.id)
	token := a.refreshToken(req.Context())
	if token == "" {
		c.metrics.RecordAuthRefresh("failure")
		c.logDebug(c.debug.LogAuth, "token refresh failed", "requestID", rc.id)
		a.notifyUnauthorized(rc)
		return resp, nil
	}
	c.metrics.RecordAuthRefresh("success")

	if resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	replay := req.Clone(req.Context())
	if req.GetBody != nil {
		if fresh, err := req.GetBody(); err == nil {
			replay.Body = fresh
		}
	}
	replay.Header.Set("Authorization", "Bearer "+token)
	rc.retriedAfterRefresh = true

	c.logDebug(c.debug.LogAuth, "replaying request with refreshed token", "requestID", rc.id)
	newResp, err := c.send(replay)
	if err != nil {
		return nil, c.newFailure(classifyTransportError(err), "resend after token refresh failed", err, replay, rc)
	}
	if newResp.StatusCode == http.StatusUnauthorized {
		a.notifyUnauthorized(rc)
	}
	return newResp, nil
}

// attemptFailure converts one attempt's outcome into a Failure, or nil
// when the attempt needs no recovery at this layer.
func (c *Client) attemptFailure(req *http.Request, rc *requestContext, resp *http.Response, err error) *Failure {
	if err != nil {
		kind := classifyTransportError(err)
		if errors.Is(req.Context().Err(), context.Canceled) {
			kind = KindCancelled
		}
		return c.newFailure(kind, "transport request failed", err, req, rc)
	}
	if resp != nil && resp.StatusCode >= 400 {
		failure := c.newFailure(failureKindForStatus(resp.StatusCode), http.StatusText(resp.StatusCode), nil, req, rc)
		failure.StatusCode = resp.StatusCode
		return failure
	}
	return nil
}

// finish parses the pipeline outcome into the public Result: read the
// body, parse it through the configured parser and validate the status
// code.
func (c *Client) finish(req *http.Request, rc *requestContext, resp *http.Response, err error, ro *requestOptions) Result[*RawResponse] {
	endpoint := endpointFromRequest(req)

	if err != nil {
		failure := c.asFailure(req, rc, err)
		c.metrics.RecordFailure(failure.Kind, req.Method, endpoint)
		return Err[*RawResponse](failure)
	}

	var body []byte
	if resp.Body != nil {
		var readErr error
		body, readErr = io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			failure := c.newFailure(classifyTransportError(readErr), "reading response body", readErr, req, rc)
			c.metrics.RecordFailure(failure.Kind, req.Method, endpoint)
			return Err[*RawResponse](failure)
		}
	}

	parser := c.parser
	if ro.parser != nil {
		parser = ro.parser
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		raw, parseErr := parser.Parse(resp.StatusCode, body)
		if parseErr != nil {
			failure := c.newFailure(KindBadResponse, "parsing response body", parseErr, req, rc)
			failure.StatusCode = resp.StatusCode
			failure.Body = body
			c.metrics.RecordFailure(failure.Kind, req.Method, endpoint)
			return Err[*RawResponse](failure)
		}
		return Ok(raw)
	default:
		message := http.StatusText(resp.StatusCode)
		if raw, parseErr := parser.Parse(resp.StatusCode, body); parseErr == nil && raw.Message != "" {
			message = raw.Message
		}
		failure := c.newFailure(failureKindForStatus(resp.StatusCode), message, nil, req, rc)
		failure.StatusCode = resp.StatusCode
		failure.Body = body
		c.metrics.RecordFailure(failure.Kind, req.Method, endpoint)
		return Err[*RawResponse](failure)
	}
}

// newFailure builds a Failure enriched with correlation context.
func (c *Client) newFailure(kind FailureKind, message string, cause error, req *http.Request, rc *requestContext) *Failure {
	return &Failure{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		RequestID: rc.id,
		Method:    req.Method,
		URL:       req.URL.String(),
		Attempt:   rc.attempt,
		Timestamp: time.Now(),
	}
}

// asFailure passes an existing *Failure through and wraps anything else.
func (c *Client) asFailure(req *http.Request, rc *requestContext, err error) *Failure {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	return c.newFailure(classifyTransportError(err), "request failed", err, req, rc)
}

func (c *Client) newRequestID() string {
	if c.debug != nil && c.debug.RequestIDGen != nil {
		return c.debug.RequestIDGen()
	}
	return ""
}

func (c *Client) logDebug(flag bool, msg string, keysAndValues ...any) {
	if c.debug != nil && c.debug.Enabled && flag && c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

// buildURL joins the endpoint with the client base URL and merges extra
// query parameters. Absolute endpoints are used as-is.
func (c *Client) buildURL(endpoint string, query url.Values) (string, error) {
	target := endpoint
	if !strings.Contains(endpoint, "://") && c.baseURL != "" {
		target = strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		merged := u.Query()
		for key, values := range query {
			for _, value := range values {
				merged.Add(key, value)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

// encodeBody turns a verb payload into wire bytes and a content type.
func encodeBody(payload any) ([]byte, string, error) {
	switch v := payload.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return v, "", nil
	case json.RawMessage:
		return v, "application/json", nil
	case string:
		return []byte(v), "", nil
	case url.Values:
		return []byte(v.Encode()), "application/x-www-form-urlencoded", nil
	case io.Reader:
		body, err := io.ReadAll(v)
		if err != nil {
			return nil, "", err
		}
		return body, "", nil
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("marshaling payload: %w", err)
		}
		return body, "application/json", nil
	}
}

// responseFromCache rebuilds an HTTP response from a stored snapshot. Each
// call yields an independent body reader.
func responseFromCache(entry *CacheEntry) *http.Response {
	return &http.Response{
		StatusCode: entry.StatusCode,
		Header:     entry.Header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(entry.Body)),
	}
}

// cacheEntryFromResponse snapshots a response for storage, restoring the
// body for downstream consumption.
func cacheEntryFromResponse(resp *http.Response) (*CacheEntry, error) {
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}
	return &CacheEntry{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
	}, nil
}

// endpointFromRequest extracts host+path for metrics and log labels.
func endpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)
	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}
