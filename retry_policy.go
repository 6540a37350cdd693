package kurirgo

import (
	"time"

	"github.com/ambiyansyah-risyal/kurirgo/internal/backoff"
)

// RetryPredicate overrides the built-in retry rules entirely. When set it is
// authoritative: the per-kind flags and status-code set are not consulted.
// The retry cap and the no-retry-on-cancellation rule still apply.
type RetryPredicate func(failure *Failure, attempt int) bool

// RetryPolicy is an immutable retry configuration shared read-only across
// all requests on a client.
type RetryPolicy struct {
	MaxRetries             int
	InitialDelay           time.Duration
	MaxDelay               time.Duration
	BackoffMultiplier      float64
	Jitter                 bool
	RetryableStatusCodes   map[int]bool
	RetryOnTimeout         bool
	RetryOnConnectionError bool
	RetryOnServerError     bool
	Predicate              RetryPredicate
}

// DefaultRetryPolicy returns the stock policy: 3 retries, 100ms initial
// delay doubling up to 10s, full jitter, retry on timeouts, connection
// errors, 429 and the common 5xx codes.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableStatusCodes: map[int]bool{
			429: true,
			500: true,
			502: true,
			503: true,
			504: true,
		},
		RetryOnTimeout:         true,
		RetryOnConnectionError: true,
		RetryOnServerError:     true,
	}
}

// ShouldRetry evaluates whether the given failure warrants another attempt.
// attempt is the number of retries already performed. Pure; the caller is
// responsible for sleeping and re-issuing.
func (p *RetryPolicy) ShouldRetry(failure *Failure, attempt int) bool {
	if failure == nil {
		return false
	}
	if attempt >= p.MaxRetries {
		return false
	}
	if failure.Kind == KindCancelled {
		return false
	}
	if p.Predicate != nil {
		return p.Predicate(failure, attempt)
	}

	switch failure.Kind {
	case KindConnectionTimeout, KindSendTimeout, KindReceiveTimeout:
		return p.RetryOnTimeout
	case KindConnectionError:
		return p.RetryOnConnectionError
	case KindBadCertificate, KindNoInternet:
		return false
	}

	if failure.StatusCode > 0 {
		if !p.RetryableStatusCodes[failure.StatusCode] {
			return false
		}
		if failure.StatusCode >= 500 && !p.RetryOnServerError {
			return false
		}
		return true
	}

	return false
}

// DelayFor computes the backoff before retry number attempt+1. Without
// jitter this is round(InitialDelay * BackoffMultiplier^attempt) capped at
// MaxDelay; with jitter the delay is uniformly random in [0, computed).
func (p *RetryPolicy) DelayFor(attempt int) time.Duration {
	var strategy backoff.Strategy = backoff.Exponential{}
	if p.Jitter {
		strategy = backoff.FullJitter{}
	}
	return strategy.Delay(attempt, p.InitialDelay, p.MaxDelay, p.BackoffMultiplier)
}

// validate collects human-readable configuration violations.
func (p *RetryPolicy) validate() []string {
	var problems []string
	if p.MaxRetries < 0 {
		problems = append(problems, "retry MaxRetries must be non-negative")
	}
	if p.MaxRetries > 0 && p.InitialDelay <= 0 {
		problems = append(problems, "retry InitialDelay must be positive")
	}
	if p.MaxDelay < p.InitialDelay {
		problems = append(problems, "retry MaxDelay must be greater than or equal to InitialDelay")
	}
	if p.MaxRetries > 0 && p.BackoffMultiplier <= 0 {
		problems = append(problems, "retry BackoffMultiplier must be positive")
	}
	if p.MaxRetries > 100 {
		problems = append(problems, "retry MaxRetries > 100 may cause excessive resource usage")
	}
	if p.MaxDelay > time.Hour {
		problems = append(problems, "retry MaxDelay > 1h may cause extremely long delays")
	}
	return problems
}
