package fbchan

import (
	"sync/atomic"
)

// WriterState is the state of the writer ("mover"), meaningful only in the
// in-file mode.
type WriterState uint8

const (
	// WriterInactive means the writer has nothing to do. It is activated by
	// the next Feed (with auto-start enabled) or mode switch.
	WriterInactive WriterState = iota

	// WriterCreatingFile means the spill file is being created.
	WriterCreatingFile

	// WriterMoving means buffers are being moved to the spill file.
	WriterMoving

	// WriterTerminated means the writer saw the end-of-stream sentinel or an
	// error and will not issue further writes.
	WriterTerminated
)

// String returns a human-readable representation of the state.
func (s WriterState) String() string {
	switch s {
	case WriterInactive:
		return "Inactive"
	case WriterCreatingFile:
		return "CreatingFile"
	case WriterMoving:
		return "Moving"
	case WriterTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// inFileMode groups everything that only exists while spilled to disk.
// Keeping it separate keeps the channel small for the common case where the
// consumer keeps up, and it gives outstanding I/O a reference-counted handle
// that holds the spill fd open until every completion has unwound, possibly
// after the channel itself has been torn down.
//
// The offsets partition the file and the queue:
//
//	+------------------------+
//	|      already read      |
//	+------------------------+  <------ readOffset
//	|  written but not read  |  ------- written
//	+------------------------+  <------ readOffset + written
//	|  buffer being written  |  --+
//	+------------------------+    |---- nbuffers, bytesBuffered
//	|   unwritten buffers    |  --+
//	+------------------------+
//
// written may be negative: the writer is still flushing buffers that the
// reader has already served directly from memory. written < 0 implies
// nbuffers > 0.
type inFileMode struct {
	aio  AsyncIO
	refs atomic.Int32

	// fd is the spill file descriptor, or -1 while the file is being
	// created.
	fd int

	// readRequest is non-nil exactly while the reader state is
	// ReaderReadingFromFile.
	readRequest *readContext

	writerState WriterState

	// writerRequest is non-nil exactly while the writer state is
	// WriterCreatingFile or WriterMoving.
	writerRequest *ioContext

	// readOffset is the number of bytes already read back from the file.
	readOffset int64

	// written is the number of unread bytes on disk relative to readOffset.
	written int64
}

func newInFileMode(aio AsyncIO) *inFileMode {
	m := &inFileMode{aio: aio, fd: -1}
	m.refs.Store(1)
	return m
}

func (m *inFileMode) ref() {
	m.refs.Add(1)
}

// unref drops a reference; the last one closes the fd in the background.
// Safe from any goroutine.
func (m *inFileMode) unref() {
	if m.refs.Add(-1) == 0 && m.fd >= 0 {
		m.aio.Close(m.fd, nil)
	}
}
