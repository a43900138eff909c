package gpu

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded is returned synchronously when a write does not fit a
	// fixed-capacity buffer or addresses a negative offset.
	ErrCapacityExceeded = errors.New("gpu: capacity exceeded")

	// ErrInvalidHandle is reported when an event other than Create is dispatched
	// on an object whose native resource does not exist.
	ErrInvalidHandle = errors.New("gpu: invalid handle")

	// ErrUnsupportedEvent is reported when an object receives an event kind it
	// does not handle.
	ErrUnsupportedEvent = errors.New("gpu: unsupported event")

	// ErrNotCreated is returned by WaitCreated when the object was disposed
	// before its Create event produced a handle.
	ErrNotCreated = errors.New("gpu: object was never created")
)

// CompileError carries the driver's info log for a failed shader stage or
// program link.
type CompileError struct {
	Name string
	Log  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("gpu: compiling %q failed: %s", e.Name, e.Log)
}

// DispatchError describes an event whose dispatch failed on the context thread.
type DispatchError struct {
	Object Object
	Event  Event
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("gpu: dispatching %s on %q: %v", e.Event.Kind(), e.Object.Name(), e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
