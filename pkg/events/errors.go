package events

import (
	"errors"
	"fmt"

	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
)

// ErrUnsupportedEventType is returned by the router for event types without a handler.
var ErrUnsupportedEventType = errors.New("unsupported event type")

// DecodeError marks a body that can never be processed.
type DecodeError struct {
	Reason string
	Err    error
}

func newDecodeError(reason string, err error) *DecodeError {
	return &DecodeError{Reason: reason, Err: err}
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsDecodeError reports whether err wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}

// NonRetryableError marks handler failures that redelivery cannot fix.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps err unless it is nil.
func NewNonRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return NonRetryableError{Err: err}
}

// IsNonRetryable reports whether the consumer should stop retrying err.
// Coded errors follow their metadata; uncoded errors are retried.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var target NonRetryableError
	if errors.As(err, &target) {
		return true
	}
	if IsDecodeError(err) {
		return true
	}
	if pkgerrors.As(err) != nil {
		return !pkgerrors.IsRetryable(err)
	}
	return false
}
