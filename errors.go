package daqsync

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of
// these with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrClockSync     = errors.New("clock sync error")
	ErrStartup       = errors.New("startup error")
	ErrReadTimeout   = errors.New("read timeout error")
	ErrHardwareFault = errors.New("hardware fault")
	ErrSink          = errors.New("sink error")
)

// errorKinds lists the sentinels in the order KindOf checks them.
var errorKinds = []error{ErrConfiguration, ErrClockSync, ErrStartup, ErrReadTimeout,
	ErrHardwareFault, ErrSink}

// TaskError records a failure of one operation on one DeviceTask.
type TaskError struct {
	Kind error  // one of the Err* sentinels
	Role Role   // the task involved
	Op   string // "start", "read", "stop", "clear"...
	Err  error  // the underlying cause, possibly from the driver
}

func (e *TaskError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s %s", e.Kind, e.Role, e.Op)
	}
	return fmt.Sprintf("%v: %s %s: %v", e.Kind, e.Role, e.Op, e.Err)
}

// Unwrap lets errors.Is match both the kind and the cause.
func (e *TaskError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the error kind sentinel matched by err, or nil if err
// matches none of them.
func KindOf(err error) error {
	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// configErrorf builds an ErrConfiguration error.
func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// clockErrorf builds an ErrClockSync error.
func clockErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrClockSync, fmt.Sprintf(format, args...))
}
