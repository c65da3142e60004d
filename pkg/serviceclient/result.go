package serviceclient

import "fmt"

// Status is the outcome of a best-effort lookup against a sibling service.
type Status int

const (
	StatusFound Status = iota + 1
	StatusNotFound
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result carries a lookup outcome that callers must branch on instead of treating a
// failed enrichment as a handler error.
type Result[T any] struct {
	status Status
	value  T
	err    error
}

func Found[T any](value T) Result[T] {
	return Result[T]{status: StatusFound, value: value}
}

func NotFound[T any]() Result[T] {
	return Result[T]{status: StatusNotFound}
}

func Unavailable[T any](err error) Result[T] {
	return Result[T]{status: StatusUnavailable, err: err}
}

func (r Result[T]) Status() Status {
	return r.status
}

// Value returns the looked-up value and whether it was found.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.status == StatusFound
}

// Err explains an unavailable result; it is nil otherwise.
func (r Result[T]) Err() error {
	return r.err
}
