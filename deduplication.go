package kurirgo

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultDeduplicationWindow bounds how long an in-flight entry accepts
// followers.
const DefaultDeduplicationWindow = 500 * time.Millisecond

// DeduplicationEntry is one in-flight request shared between a leader and
// its followers. It settles exactly once; late settlement attempts are
// no-ops.
type DeduplicationEntry struct {
	createdAt time.Time
	done      chan struct{}
	settle    sync.Once

	statusCode int
	header     http.Header
	body       []byte
	err        error
}

// Settle records the outcome and releases all waiters. The response body is
// snapshotted so every waiter can be handed an independent copy; the passed
// response stays readable for the leader.
func (e *DeduplicationEntry) Settle(resp *http.Response, err error) {
	e.settle.Do(func() {
		if resp != nil {
			e.statusCode = resp.StatusCode
			e.header = resp.Header.Clone()
			if resp.Body != nil {
				body, readErr := io.ReadAll(resp.Body)
				resp.Body.Close()
				if readErr == nil {
					e.body = body
					resp.Body = io.NopCloser(bytes.NewReader(body))
				} else {
					err = readErr
					resp = nil
				}
			}
		}
		if resp == nil {
			e.statusCode = 0
		}
		e.err = err
		close(e.done)
	})
}

// Wait blocks until the entry settles or the follower's context cancels,
// then returns an independent copy of the shared outcome.
func (e *DeduplicationEntry) Wait(ctx context.Context) (*http.Response, error) {
	select {
	case <-e.done:
		if e.err != nil {
			return nil, e.err
		}
		return &http.Response{
			StatusCode: e.statusCode,
			Header:     e.header.Clone(),
			Body:       io.NopCloser(bytes.NewReader(e.body)),
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeduplicationTracker coalesces concurrent identical requests: the first
// caller for a fresh fingerprint leads and performs the network call,
// callers arriving within the window follow and share its outcome.
type DeduplicationTracker struct {
	mu      sync.Mutex
	entries map[string]*DeduplicationEntry
	window  time.Duration
}

// NewDeduplicationTracker returns a tracker with the given fan-out window.
// A non-positive window falls back to DefaultDeduplicationWindow.
func NewDeduplicationTracker(window time.Duration) *DeduplicationTracker {
	if window <= 0 {
		window = DefaultDeduplicationWindow
	}
	return &DeduplicationTracker{
		entries: make(map[string]*DeduplicationEntry),
		window:  window,
	}
}

// GetOrCreateEntry returns the entry for key and whether the caller is the
// leader. Entries older than the window are purged lazily here; their
// leader still settles the stale handle for any followers already waiting
// on it.
func (dt *DeduplicationTracker) GetOrCreateEntry(key string) (*DeduplicationEntry, bool) {
	now := time.Now()

	dt.mu.Lock()
	defer dt.mu.Unlock()

	if entry, exists := dt.entries[key]; exists {
		if now.Sub(entry.createdAt) <= dt.window {
			return entry, false
		}
		delete(dt.entries, key)
	}

	entry := &DeduplicationEntry{
		createdAt: now,
		done:      make(chan struct{}),
	}
	dt.entries[key] = entry
	return entry, true
}

// Complete settles the entry and removes it from the table. Removal happens
// immediately on settlement: once resolved, a fingerprint no longer has an
// in-flight call to share.
func (dt *DeduplicationTracker) Complete(key string, entry *DeduplicationEntry, resp *http.Response, err error) {
	entry.Settle(resp, err)

	dt.mu.Lock()
	if dt.entries[key] == entry {
		delete(dt.entries, key)
	}
	dt.mu.Unlock()
}

// Len reports the number of in-flight entries.
func (dt *DeduplicationTracker) Len() int {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return len(dt.entries)
}

// DefaultDeduplicationKeyFunc fingerprints a request as method plus
// normalized URL (path + sorted query).
func DefaultDeduplicationKeyFunc(req *http.Request) string {
	return req.Method + " " + normalizedURL(req)
}

// BodyDeduplicationKeyFunc extends the default fingerprint with a hash of
// the request body, for configurations that deduplicate non-idempotent
// verbs.
func BodyDeduplicationKeyFunc(req *http.Request) string {
	return DefaultDeduplicationKeyFunc(req) + "#" + bodyDigest(req)
}

// DefaultDeduplicationCondition restricts deduplication to read-only verbs
// whose side effects are safe to share.
func DefaultDeduplicationCondition(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
