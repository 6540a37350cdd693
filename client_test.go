package kurirgo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetryPolicy(maxRetries int) *RetryPolicy {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = maxRetries
	policy.InitialDelay = time.Millisecond
	policy.MaxDelay = 10 * time.Millisecond
	policy.Jitter = false
	return policy
}

func TestGetParsesEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"id":42,"name":"alice"},"message":"ok"}`))
	}))
	defer server.Close()

	type user struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	client := New(WithBaseURL(server.URL))
	result := GetAs[user](context.Background(), client, "/users/42")
	if result.IsFailure() {
		t.Fatalf("expected success, got failure: %v", result.Failure())
	}

	resp := result.Value()
	if !resp.IsSuccess() {
		t.Errorf("expected IsSuccess, got status=%d success=%v", resp.StatusCode, resp.Success)
	}
	if resp.Data.ID != 42 || resp.Data.Name != "alice" {
		t.Errorf("unexpected data: %+v", resp.Data)
	}
	if resp.Message != "ok" {
		t.Errorf("unexpected message: %q", resp.Message)
	}
}

func TestPostSendsJSONBody(t *testing.T) {
	var gotContentType string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	result := client.Post(context.Background(), "/things", map[string]string{"name": "widget"})
	if result.IsFailure() {
		t.Fatalf("expected success, got failure: %v", result.Failure())
	}
	if gotContentType != "application/json" {
		t.Errorf("expected application/json content type, got %q", gotContentType)
	}
	if gotBody["name"] != "widget" {
		t.Errorf("unexpected body: %v", gotBody)
	}
	if result.Value().StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", result.Value().StatusCode)
	}
}

func TestStatusValidationMapsFailureKinds(t *testing.T) {
	cases := []struct {
		status int
		kind   FailureKind
	}{
		{http.StatusBadRequest, KindBadRequest},
		{http.StatusUnprocessableEntity, KindBadRequest},
		{http.StatusForbidden, KindUnauthorized},
		{http.StatusNotFound, KindNotFound},
		{http.StatusInternalServerError, KindInternalServerError},
		{http.StatusServiceUnavailable, KindServiceUnavailable},
		{http.StatusTeapot, KindBadResponse},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"message":"nope"}`))
		}))

		client := New(WithBaseURL(server.URL), WithRetryDisabled())
		result := client.Get(context.Background(), "/x")
		if result.IsSuccess() {
			t.Errorf("status %d: expected failure", tc.status)
			server.Close()
			continue
		}
		failure := result.Failure()
		if failure.Kind != tc.kind {
			t.Errorf("status %d: expected kind %s, got %s", tc.status, tc.kind, failure.Kind)
		}
		if failure.StatusCode != tc.status {
			t.Errorf("status %d: failure carries status %d", tc.status, failure.StatusCode)
		}
		if failure.Message != "nope" {
			t.Errorf("status %d: expected server message, got %q", tc.status, failure.Message)
		}
		server.Close()
	}
}

func TestRetryRecoversFromTransientStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithRetryPolicy(fastRetryPolicy(3)))
	result := client.Get(context.Background(), "/flaky")
	if result.IsFailure() {
		t.Fatalf("expected recovery, got failure: %v", result.Failure())
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRetryExhaustionSurfacesLastFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithRetryPolicy(fastRetryPolicy(2)))
	result := client.Get(context.Background(), "/down")
	if result.IsSuccess() {
		t.Fatal("expected failure after exhausting retries")
	}
	if result.Failure().Kind != KindServiceUnavailable {
		t.Errorf("expected ServiceUnavailable, got %s", result.Failure().Kind)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestNonRetryableStatusIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithRetryPolicy(fastRetryPolicy(3)))
	result := client.Get(context.Background(), "/bad")
	if result.IsSuccess() {
		t.Fatal("expected failure")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestCachedResponseSkipsTransport(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"success":true,"data":{"n":1}}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithCache(100, time.Minute))

	for i := 0; i < 3; i++ {
		result := client.Get(context.Background(), "/cached")
		if result.IsFailure() {
			t.Fatalf("call %d failed: %v", i, result.Failure())
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single network call, got %d", got)
	}
}

func TestCacheBypassForcesNetworkCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithCache(100, time.Minute))
	client.Get(context.Background(), "/x")
	client.Get(context.Background(), "/x", WithCacheBypass())

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 network calls with bypass, got %d", got)
	}
}

func TestPostIsNotCached(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithCache(100, time.Minute))
	client.Post(context.Background(), "/x", nil)
	client.Post(context.Background(), "/x", nil)

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected POST to bypass cache, got %d calls", got)
	}
}

func TestDeduplicationCoalescesConcurrentRequests(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.Write([]byte(`{"success":true,"data":{"n":7}}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithDeduplication(5*time.Second))

	const n = 8
	var wg sync.WaitGroup
	results := make([]Result[*RawResponse], n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = client.Get(context.Background(), "/shared")
		}(i)
	}

	// Let all callers join the in-flight entry, then release the leader.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single network call, got %d", got)
	}
	for i, result := range results {
		if result.IsFailure() {
			t.Errorf("caller %d failed: %v", i, result.Failure())
			continue
		}
		var data map[string]int
		if err := json.Unmarshal(result.Value().Data, &data); err != nil || data["n"] != 7 {
			t.Errorf("caller %d got unexpected data: %s", i, result.Value().Data)
		}
	}
}

func TestFollowerCancellationDoesNotAffectLeader(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithDeduplication(5*time.Second))

	leaderDone := make(chan Result[*RawResponse], 1)
	go func() {
		leaderDone <- client.Get(context.Background(), "/slow")
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	followerDone := make(chan Result[*RawResponse], 1)
	go func() {
		followerDone <- client.Get(ctx, "/slow")
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	follower := <-followerDone
	if follower.IsSuccess() {
		t.Error("expected cancelled follower to fail")
	} else if follower.Failure().Kind != KindCancelled {
		t.Errorf("expected Cancelled, got %s", follower.Failure().Kind)
	}

	close(release)
	leader := <-leaderDone
	if leader.IsFailure() {
		t.Errorf("leader should be unaffected by follower cancellation: %v", leader.Failure())
	}
}

func TestUnauthorizedTriggersRefreshAndReplay(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	var refreshes int32
	provider := NewStaticTokenProvider("stale", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&refreshes, 1)
		return "fresh", nil
	})

	client := New(WithBaseURL(server.URL), WithTokenProvider(provider), WithRetryDisabled())
	result := client.Get(context.Background(), "/secure")
	if result.IsFailure() {
		t.Fatalf("expected success after refresh, got %v", result.Failure())
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected original + replay = 2 calls, got %d", got)
	}
	if got := atomic.LoadInt32(&refreshes); got != 1 {
		t.Errorf("expected a single refresh, got %d", got)
	}
	if token, _ := provider.AccessToken(context.Background()); token != "fresh" {
		t.Errorf("provider should hold the refreshed token, got %q", token)
	}
}

func TestUnauthorizedAfterReplayFiresHandlerOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	fired := make(chan struct{}, 4)
	provider := NewStaticTokenProvider("stale", func(ctx context.Context) (string, error) {
		return "fresh", nil
	})

	client := New(
		WithBaseURL(server.URL),
		WithTokenProvider(provider),
		WithUnauthorizedHandler(func() { fired <- struct{}{} }),
		WithRetryDisabled(),
	)

	result := client.Get(context.Background(), "/secure")
	if result.IsSuccess() {
		t.Fatal("expected failure")
	}
	if result.Failure().Kind != KindUnauthorized {
		t.Errorf("expected Unauthorized, got %s", result.Failure().Kind)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("unauthorized handler never fired")
	}
	select {
	case <-fired:
		t.Error("unauthorized handler fired more than once for one request")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFailedRefreshPropagatesOriginalUnauthorized(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	provider := NewStaticTokenProvider("stale", func(ctx context.Context) (string, error) {
		return "", context.DeadlineExceeded
	})

	client := New(WithBaseURL(server.URL), WithTokenProvider(provider), WithRetryDisabled())
	result := client.Get(context.Background(), "/secure")
	if result.IsSuccess() {
		t.Fatal("expected failure")
	}
	if result.Failure().Kind != KindUnauthorized {
		t.Errorf("expected Unauthorized, got %s", result.Failure().Kind)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("failed refresh must not replay, got %d calls", got)
	}
}

func TestBearerTokenIsInjected(t *testing.T) {
	var gotAuth, gotLang string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotLang = r.Header.Get("Accept-Language")
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithTokenProvider(NewStaticTokenProvider("opaque-token", nil)),
		WithLocale("id-ID"),
	)
	if result := client.Get(context.Background(), "/x"); result.IsFailure() {
		t.Fatalf("request failed: %v", result.Failure())
	}
	if gotAuth != "Bearer opaque-token" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotLang != "id-ID" {
		t.Errorf("expected locale header, got %q", gotLang)
	}
}

func TestCancellationResolvesAsCancelled(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result[*RawResponse], 1)
	go func() {
		done <- client.Get(ctx, "/slow")
	}()
	<-started
	cancel()

	result := <-done
	if result.IsSuccess() {
		t.Fatal("expected failure")
	}
	if result.Failure().Kind != KindCancelled {
		t.Errorf("expected Cancelled, got %s", result.Failure().Kind)
	}
}

func TestTimeoutSurfacesTimeoutKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithTimeout(100*time.Millisecond),
		WithRetryPolicy(fastRetryPolicy(3)),
	)
	result := client.Get(context.Background(), "/slow")
	if result.IsSuccess() {
		t.Fatal("expected failure")
	}

	failure := result.Failure()
	if failure.Kind != KindReceiveTimeout {
		t.Errorf("a timed-out request must surface a timeout kind, got %s", failure.Kind)
	}
	if !IsTransient(failure) {
		t.Error("timed-out requests are transient")
	}
}

func TestConcurrentUnauthorizedSharesOneRefresh(t *testing.T) {
	const n = 3
	var firstRound sync.WaitGroup
	firstRound.Add(n)
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			// Hold every first-round request until all have arrived so
			// their refresh attempts overlap.
			firstRound.Done()
			firstRound.Wait()
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	var refreshes int32
	provider := NewStaticTokenProvider("stale", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&refreshes, 1)
		time.Sleep(50 * time.Millisecond)
		return "fresh", nil
	})

	client := New(WithBaseURL(server.URL), WithTokenProvider(provider), WithRetryDisabled())

	var wg sync.WaitGroup
	results := make([]Result[*RawResponse], n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = client.Get(context.Background(), fmt.Sprintf("/secure/%d", i))
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&refreshes); got != 1 {
		t.Errorf("concurrent 401s must share one refresh, got %d", got)
	}
	for i, result := range results {
		if result.IsFailure() {
			t.Errorf("request %d failed after shared refresh: %v", i, result.Failure())
		}
	}
	if got := atomic.LoadInt32(&calls); got != 2*n {
		t.Errorf("expected %d calls (originals + replays), got %d", 2*n, got)
	}
}

func TestConnectivityProbeGatesRequests(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	probe := connectivityFunc(func(ctx context.Context) bool { return false })
	client := New(WithBaseURL(server.URL), WithConnectivityProbe(probe))

	result := client.Get(context.Background(), "/x")
	if result.IsSuccess() {
		t.Fatal("expected failure")
	}
	if result.Failure().Kind != KindNoInternet {
		t.Errorf("expected NoInternet, got %s", result.Failure().Kind)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("request must not reach the transport when offline")
	}
}

type connectivityFunc func(ctx context.Context) bool

func (f connectivityFunc) IsConnected(ctx context.Context) bool { return f(ctx) }

func TestMiddlewareWrapsTransportInOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) Middleware {
		return func(req *http.Request, next RoundTripper) (*http.Response, error) {
			mu.Lock()
			order = append(order, name+">")
			mu.Unlock()
			resp, err := next.RoundTrip(req)
			mu.Lock()
			order = append(order, "<"+name)
			mu.Unlock()
			return resp, err
		}
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithMiddleware(record("outer"), record("inner")))
	if result := client.Get(context.Background(), "/x"); result.IsFailure() {
		t.Fatalf("request failed: %v", result.Failure())
	}

	want := []string{"outer>", "inner>", "<inner", "<outer"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestMiddlewareSeesDecoratedRequest(t *testing.T) {
	var sawAuth string
	observe := func(req *http.Request, next RoundTripper) (*http.Response, error) {
		sawAuth = req.Header.Get("Authorization")
		return next.RoundTrip(req)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithTokenProvider(NewStaticTokenProvider("tok", nil)),
		WithMiddleware(observe),
	)
	if result := client.Get(context.Background(), "/x"); result.IsFailure() {
		t.Fatalf("request failed: %v", result.Failure())
	}
	if sawAuth != "Bearer tok" {
		t.Errorf("middleware should observe the decorated request, got %q", sawAuth)
	}
}

func TestQueryParamsAndHeadersMerge(t *testing.T) {
	var gotQuery, gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("page")
		gotHeader = r.Header.Get("X-Trace")
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithHeader("X-Trace", "default"))
	result := client.Get(context.Background(), "/list",
		WithQueryParam("page", "3"),
		WithRequestHeader("X-Trace", "override"),
	)
	if result.IsFailure() {
		t.Fatalf("request failed: %v", result.Failure())
	}
	if gotQuery != "3" {
		t.Errorf("expected page=3, got %q", gotQuery)
	}
	if gotHeader != "override" {
		t.Errorf("per-request header must win, got %q", gotHeader)
	}
}

func TestInvalidConfigurationFailsFast(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = -1
	client := New(WithRetryPolicy(policy))

	if client.IsValid() {
		t.Fatal("expected invalid configuration")
	}
	result := client.Get(context.Background(), "http://example.com/")
	if result.IsSuccess() {
		t.Fatal("expected failure from invalid client")
	}
	if result.Failure().Kind != KindUnexpected {
		t.Errorf("expected Unexpected, got %s", result.Failure().Kind)
	}
}

func TestInvalidateCache(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithCache(100, time.Minute))
	client.Get(context.Background(), "/users/1")
	if removed := client.InvalidateCache("/users/*"); removed != 1 {
		t.Errorf("expected 1 invalidated entry, got %d", removed)
	}
	client.Get(context.Background(), "/users/1")
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected refetch after invalidation, got %d calls", got)
	}
}
