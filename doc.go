// Package kurirgo provides a resilient HTTP client runtime with a fixed
// interceptor pipeline and typed results:
//
//   - Request deduplication (concurrent identical requests share one network call)
//   - In-memory response caching with TTL rules and bounded LRU eviction
//   - Retries with exponential backoff + full jitter
//   - Bearer auth with single-flight 401-triggered token refresh
//   - Request/response transformation hooks
//   - Middleware chain for cross-cutting concerns (tracing, logging, etc.)
//   - Prometheus metrics and lightweight structured debug logging
//
// Every operation returns a Result rather than raising across the API
// boundary: a request resolves to either a parsed BaseResponse or a
// Failure from a closed taxonomy (timeouts, connection errors, HTTP status
// families, cancellation).
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Deterministic stage order: dedup, cache, transform, auth on the way
//     out; auth, transform, cache, dedup on the way back
//   - Safe concurrent use of a single *Client instance
//   - Extensibility via pluggable transport, cache, parser and middleware
//
// Typical usage:
//
//	client := kurirgo.New(
//	    kurirgo.WithBaseURL("https://api.example.com"),
//	    kurirgo.WithCache(1000, 5*time.Minute),
//	    kurirgo.WithDeduplication(500*time.Millisecond),
//	    kurirgo.WithTokenProvider(provider),
//	)
//	result := kurirgo.GetAs[User](ctx, client, "/users/42")
//	if result.IsFailure() {
//	    // result.Failure().Kind tells you what went wrong
//	}
//
// The library avoids opinionated logging: provide a Logger (e.g. via
// WithZerolog) and enable debug flags selectively (WithDebug /
// WithDebugConfig) for insight without noise.
package kurirgo
