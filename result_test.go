package kurirgo

import (
	"errors"
	"testing"
)

func TestResultSuccess(t *testing.T) {
	result := Ok(42)

	if !result.IsSuccess() || result.IsFailure() {
		t.Error("Ok must be a success")
	}
	if result.Value() != 42 {
		t.Errorf("expected 42, got %d", result.Value())
	}
	if result.Failure() != nil {
		t.Error("success carries no failure")
	}
	if result.Err() != nil {
		t.Errorf("success yields nil error, got %v", result.Err())
	}
}

func TestResultFailure(t *testing.T) {
	failure := &Failure{Kind: KindNotFound, Message: "gone"}
	result := Err[int](failure)

	if result.IsSuccess() || !result.IsFailure() {
		t.Error("Err must be a failure")
	}
	if result.Failure() != failure {
		t.Error("failure should round-trip")
	}
	if !errors.Is(result.Err(), &Failure{Kind: KindNotFound}) {
		t.Error("Err() should expose the failure as an error")
	}

	value, got := result.Get()
	if value != 0 || got != failure {
		t.Errorf("Get returned (%d, %v)", value, got)
	}
}

func TestFold(t *testing.T) {
	doubled := Fold(Ok(21),
		func(f *Failure) int { return -1 },
		func(v int) int { return v * 2 },
	)
	if doubled != 42 {
		t.Errorf("expected 42, got %d", doubled)
	}

	fallback := Fold(Err[int](&Failure{Kind: KindUnexpected}),
		func(f *Failure) int { return -1 },
		func(v int) int { return v * 2 },
	)
	if fallback != -1 {
		t.Errorf("expected failure branch, got %d", fallback)
	}
}

func TestMapResult(t *testing.T) {
	mapped := MapResult(Ok(2), func(v int) string {
		if v == 2 {
			return "two"
		}
		return "other"
	})
	if mapped.Value() != "two" {
		t.Errorf("expected mapped value, got %q", mapped.Value())
	}

	failure := &Failure{Kind: KindBadResponse}
	kept := MapResult(Err[int](failure), func(v int) string { return "unused" })
	if kept.Failure() != failure {
		t.Error("mapping a failure must preserve it")
	}
}
