package predict

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrServiceUnavailable is returned while no model is loaded. Callers
	// should retry after a delay.
	ErrServiceUnavailable = errors.New("model not loaded yet")
	// ErrInvalidInput is returned for missing or undecodable images.
	ErrInvalidInput = errors.New("input buffer contains unsupported image format")
	// ErrQueueFull is returned when every inference slot is taken.
	ErrQueueFull = fmt.Errorf("%w: inference queue is full", ErrServiceUnavailable)
)

// InternalError wraps unexpected failures during preprocessing or
// inference. The stack is captured where the error is created and is only
// exposed to clients in development.
type InternalError struct {
	Op    string
	Err   error
	Stack string
}

func newInternalError(op string, err error) *InternalError {
	return &InternalError{Op: op, Err: err, Stack: string(debug.Stack())}
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
