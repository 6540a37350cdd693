package kurirgo

import (
	"testing"
	"time"
)

func TestShouldRetryRespectsCap(t *testing.T) {
	policy := DefaultRetryPolicy()
	failure := &Failure{Kind: KindServiceUnavailable, StatusCode: 503}

	if !policy.ShouldRetry(failure, 0) {
		t.Error("attempt 0 should be retryable")
	}
	if !policy.ShouldRetry(failure, 2) {
		t.Error("attempt 2 should be retryable")
	}
	if policy.ShouldRetry(failure, 3) {
		t.Error("attempt at the cap must not retry")
	}
}

func TestShouldRetryNeverRetriesCancellation(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Predicate = func(failure *Failure, attempt int) bool { return true }

	if policy.ShouldRetry(&Failure{Kind: KindCancelled}, 0) {
		t.Error("cancellation must never be retried, even with an authoritative predicate")
	}
}

func TestShouldRetryPredicateIsAuthoritative(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Predicate = func(failure *Failure, attempt int) bool {
		return failure.StatusCode == 418
	}

	if !policy.ShouldRetry(&Failure{Kind: KindBadResponse, StatusCode: 418}, 0) {
		t.Error("predicate should allow 418")
	}
	if policy.ShouldRetry(&Failure{Kind: KindServiceUnavailable, StatusCode: 503}, 0) {
		t.Error("predicate should override the built-in status set")
	}
}

func TestShouldRetryKindFlags(t *testing.T) {
	policy := DefaultRetryPolicy()

	for _, kind := range []FailureKind{KindConnectionTimeout, KindSendTimeout, KindReceiveTimeout} {
		if !policy.ShouldRetry(&Failure{Kind: kind}, 0) {
			t.Errorf("%s should retry when RetryOnTimeout is set", kind)
		}
	}
	policy.RetryOnTimeout = false
	if policy.ShouldRetry(&Failure{Kind: KindReceiveTimeout}, 0) {
		t.Error("timeout retry flag should be honored")
	}

	if !policy.ShouldRetry(&Failure{Kind: KindConnectionError}, 0) {
		t.Error("connection errors should retry by default")
	}
	policy.RetryOnConnectionError = false
	if policy.ShouldRetry(&Failure{Kind: KindConnectionError}, 0) {
		t.Error("connection error retry flag should be honored")
	}

	for _, kind := range []FailureKind{KindBadCertificate, KindNoInternet} {
		if policy.ShouldRetry(&Failure{Kind: kind}, 0) {
			t.Errorf("%s must never be retried", kind)
		}
	}
}

func TestShouldRetryStatusCodes(t *testing.T) {
	policy := DefaultRetryPolicy()

	if !policy.ShouldRetry(&Failure{Kind: KindBadResponse, StatusCode: 429}, 0) {
		t.Error("429 should be retryable by default")
	}
	if policy.ShouldRetry(&Failure{Kind: KindBadRequest, StatusCode: 400}, 0) {
		t.Error("400 must not be retried")
	}
	if policy.ShouldRetry(&Failure{Kind: KindUnauthorized, StatusCode: 401}, 0) {
		t.Error("401 must not be retried; the auth stage owns it")
	}

	policy.RetryOnServerError = false
	if policy.ShouldRetry(&Failure{Kind: KindInternalServerError, StatusCode: 500}, 0) {
		t.Error("server error retry flag should be honored")
	}
	if !policy.ShouldRetry(&Failure{Kind: KindBadResponse, StatusCode: 429}, 0) {
		t.Error("429 is not a server error and should still retry")
	}
}

func TestDelayForWithoutJitter(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries:        5,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          1 * time.Second,
		BackoffMultiplier: 2.0,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second}, // capped
	}
	for _, tc := range cases {
		if got := policy.DelayFor(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestDelayForWithJitterStaysInRange(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	for i := 0; i < 100; i++ {
		delay := policy.DelayFor(2)
		if delay < 0 || delay >= 400*time.Millisecond {
			t.Fatalf("jittered delay %v outside [0, 400ms)", delay)
		}
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	if problems := DefaultRetryPolicy().validate(); len(problems) != 0 {
		t.Errorf("default policy should validate cleanly, got %v", problems)
	}

	bad := &RetryPolicy{
		MaxRetries:        -1,
		InitialDelay:      0,
		MaxDelay:          -time.Second,
		BackoffMultiplier: 0,
	}
	if problems := bad.validate(); len(problems) == 0 {
		t.Error("expected validation problems")
	}

	extreme := DefaultRetryPolicy()
	extreme.MaxRetries = 200
	extreme.MaxDelay = 2 * time.Hour
	problems := extreme.validate()
	if len(problems) != 2 {
		t.Errorf("expected 2 extreme-value warnings, got %v", problems)
	}
}
