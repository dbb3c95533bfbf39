package fbchan

import (
	"syscall"
	"time"
)

// CompletionFunc receives the result of an asynchronous I/O operation.
// result follows the usual syscall convention: a non-negative count or file
// descriptor on success, -1 on failure with errno set. Completion callbacks
// may fire on arbitrary goroutines; cb may be nil for fire-and-forget
// operations.
type CompletionFunc func(result int, errno syscall.Errno)

// Request is an opaque handle to an in-flight asynchronous I/O operation,
// usable with [AsyncIO.Cancel].
type Request interface{}

// AsyncIO is the asynchronous filesystem engine consumed by
// [FileBufferedChannel]. Implementations must be safe for use from any
// goroutine and must invoke each operation's completion callback exactly
// once (nil callbacks excepted), including for canceled operations.
//
// Cancel is advisory: an operation that has not started yet completes with
// ECANCELED without performing any I/O; an operation already in flight runs
// to completion and its callback still fires (callers detect cancellation
// through their own flags).
type AsyncIO interface {
	// Open opens path with the given flags and permission bits, completing
	// with a file descriptor.
	Open(path string, flags int, perm uint32, cb CompletionFunc) Request

	// Read reads len(p) bytes from fd at offset off into p.
	Read(fd int, p []byte, off int64, cb CompletionFunc) Request

	// Write writes p to fd at offset off.
	Write(fd int, p []byte, off int64, cb CompletionFunc) Request

	// Unlink removes path.
	Unlink(path string, cb CompletionFunc) Request

	// Close closes fd.
	Close(fd int, cb CompletionFunc) Request

	// Busy completes with zero after the given delay.
	Busy(d time.Duration, cb CompletionFunc) Request

	// Cancel requests cancellation of req.
	Cancel(req Request)
}
