package fbchan

import (
	"math"
)

const (
	// MaxMemoryBuffering is the maximum total number of buffered bytes.
	MaxMemoryBuffering = math.MaxUint32

	// MaxBuffers is the maximum number of queued buffers (2^27 - 1).
	MaxBuffers = 1<<27 - 1
)

// bufferQueue is the FIFO of buffers shared by the reader and the writer.
//
// In the common case, where the consumer keeps up with the producer, at most
// one buffer is queued at a time; the first buffer therefore lives in an
// instance field and only additional buffers spill into the deque, avoiding
// heap traffic entirely on the fast path.
//
// Buffers are pushed at the back and popped from the front. In the in-memory
// mode the reader pops; in the in-file mode the writer pops (after moving
// the buffer to the spill file).
type bufferQueue struct {
	first    Buffer
	more     []Buffer
	nbuffers uint32
	bytes    uint32

	// flushed fires every time the queue drains, from within pop.
	flushed func()
}

func (q *bufferQueue) has() bool {
	return q.nbuffers > 0
}

func (q *bufferQueue) push(buf Buffer) {
	if uint64(q.bytes)+uint64(buf.Len()) > MaxMemoryBuffering {
		panic("fbchan: push would exceed MaxMemoryBuffering")
	}
	if q.nbuffers >= MaxBuffers {
		panic("fbchan: push would exceed MaxBuffers")
	}
	if q.nbuffers == 0 {
		q.first = buf
	} else {
		q.more = append(q.more, buf)
	}
	q.nbuffers++
	q.bytes += uint32(buf.Len())
}

func (q *bufferQueue) pop() {
	if q.nbuffers == 0 {
		panic("fbchan: pop on empty queue")
	}
	q.bytes -= uint32(q.first.Len())
	q.nbuffers--
	if len(q.more) == 0 {
		q.first = Buffer{}
		if q.flushed != nil {
			q.flushed()
		}
	} else {
		q.first = q.more[0]
		q.more[0] = Buffer{}
		q.more = q.more[1:]
		if len(q.more) == 0 {
			q.more = nil
		}
	}
}

func (q *bufferQueue) peekFront() Buffer {
	return q.first
}

func (q *bufferQueue) peekLast() Buffer {
	if q.nbuffers <= 1 {
		return q.first
	}
	return q.more[len(q.more)-1]
}

func (q *bufferQueue) clear() {
	q.nbuffers = 0
	q.bytes = 0
	q.first = Buffer{}
	q.more = nil
}
