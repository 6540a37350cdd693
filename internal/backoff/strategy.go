package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before a retry attempt. Implementations are
// pure with respect to their inputs aside from randomness.
type Strategy interface {
	Delay(attempt int, initial, max time.Duration, multiplier float64) time.Duration
}

// Exponential grows the delay geometrically: round(initial * multiplier^attempt),
// capped at max. attempt 0 yields the initial delay.
type Exponential struct{}

func (Exponential) Delay(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if initial <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	// Overflow guard; beyond this every delay is capped anyway.
	if attempt > 30 {
		attempt = 30
	}
	d := time.Duration(math.Round(float64(initial) * Pow(multiplier, attempt)))
	if d < 0 || (max > 0 && d > max) {
		d = max
	}
	return d
}

// FullJitter replaces the exponential delay with a uniformly random value
// in [0, computed). Full jitter decorrelates retries across concurrent
// clients hammering the same endpoint.
type FullJitter struct {
	Base Strategy
}

func (s FullJitter) Delay(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	base := s.Base
	if base == nil {
		base = Exponential{}
	}
	d := base.Delay(attempt, initial, max, multiplier)
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

// Pow computes base^exponent for non-negative integer exponents without
// importing the generality of math.Pow on the hot path.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
