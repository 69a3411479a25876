package engine

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrEngineClosed is returned by submissions against an engine that has
// already been shut down.
var ErrEngineClosed = errors.New("engine is closed")

// EngineInitError reports an invalid construction parameter. It is
// fatal, the engine never starts.
type EngineInitError struct {
	// name of the offending parameter
	Param string

	// value that was rejected
	Value int

	// why it was rejected
	Reason string
}

func (e *EngineInitError) Error() string {
	return fmt.Sprintf("engine init: %s=%d %s", e.Param, e.Value, e.Reason)
}

// AlignmentError reports a buffer address, buffer size or file offset
// that does not satisfy the direct io alignment contract. A rejected
// submission never consumes a queue slot.
type AlignmentError struct {
	// which constraint was violated (address, size or offset)
	What string

	// the misaligned value
	Value int64

	// required alignment in bytes
	Alignment int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("misaligned %s %d, direct io requires %d byte alignment", e.What, e.Value, e.Alignment)
}

// QueueFullError is returned by a non-blocking submit when every queue
// slot is taken.
type QueueFullError struct {
	// configured queue depth
	Depth int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue full, %d operations already in flight", e.Depth)
}

// IOError reports a failed positioned read or write. It is surfaced on
// the operation result at wait time and never aborts other in flight
// requests.
type IOError struct {
	// errno from the failing syscall, 0 if unavailable
	Errno syscall.Errno

	// file offset the failing transfer started at
	Offset int64

	// target file
	Path string

	// underlying error
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error on %s at offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// wrapIOError attaches the syscall errno and failing offset to an io
// failure
func wrapIOError(err error, path string, offset int64) error {
	var errno syscall.Errno
	errors.As(err, &errno)
	return &IOError{Errno: errno, Offset: offset, Path: path, Err: err}
}
