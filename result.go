package kurirgo

// Result is the success/failure union returned by every public operation.
// A Result holds either a value of type T or a *Failure, never both. The
// zero value is a success carrying the zero value of T.
type Result[T any] struct {
	value   T
	failure *Failure
}

// Ok wraps a value in a successful Result.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Err wraps a failure in an unsuccessful Result.
func Err[T any](failure *Failure) Result[T] {
	return Result[T]{failure: failure}
}

// IsSuccess reports whether the result carries a value.
func (r Result[T]) IsSuccess() bool { return r.failure == nil }

// IsFailure reports whether the result carries a failure.
func (r Result[T]) IsFailure() bool { return r.failure != nil }

// Value returns the carried value; the zero value of T on failure.
func (r Result[T]) Value() T { return r.value }

// Failure returns the carried failure, or nil on success.
func (r Result[T]) Failure() *Failure { return r.failure }

// Get unpacks the result into its value and failure halves.
func (r Result[T]) Get() (T, *Failure) { return r.value, r.failure }

// Err returns the failure as a plain error, or nil on success.
func (r Result[T]) Err() error {
	if r.failure == nil {
		return nil
	}
	return r.failure
}

// Fold collapses a Result into a single value by applying exactly one of
// the two functions.
func Fold[T, U any](r Result[T], onFailure func(*Failure) U, onSuccess func(T) U) U {
	if r.failure != nil {
		return onFailure(r.failure)
	}
	return onSuccess(r.value)
}

// MapResult applies fn to the value of a successful result, passing a
// failure through untouched.
func MapResult[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.failure != nil {
		return Err[U](r.failure)
	}
	return Ok(fn(r.value))
}
