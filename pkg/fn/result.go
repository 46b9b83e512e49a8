// Package fn holds the small generic toolkit the pricing pipeline is built
// from: a Result type that carries either a value or an error, and Stages
// that compose into traced pipelines.
package fn

// Result[T] carries a stage output or the error that stopped it.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v, ok: true}
}

// Err wraps a failure. A nil error still yields a failed Result.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// FromPair lifts a (value, error) pair.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// IsErr reports whether the Result carries a failure.
func (r Result[T]) IsErr() bool { return !r.ok }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }
