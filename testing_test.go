package fbchan

import (
	"sync"
	"syscall"
	"testing"
	"time"
)

// manualLoop is a deterministic Loop: submitted tasks queue until the test
// steps them.
type manualLoop struct {
	mu    sync.Mutex
	tasks []func()
}

func (l *manualLoop) Submit(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
}

func (l *manualLoop) step() bool {
	l.mu.Lock()
	if len(l.tasks) == 0 {
		l.mu.Unlock()
		return false
	}
	fn := l.tasks[0]
	l.tasks = l.tasks[1:]
	l.mu.Unlock()
	fn()
	return true
}

// fakeFile is an in-memory spill file. The data outlives unlinking, exactly
// like an fd holding an unlinked inode.
type fakeFile struct {
	data []byte
}

// fakeOp is a queued fake I/O operation: the work itself runs lazily when
// the test fires the completion, so cancellation before that point skips
// the I/O entirely.
type fakeOp struct {
	req  *fakeRequest
	do   func() (int, syscall.Errno)
	cb   CompletionFunc
	kind string
}

type fakeRequest struct {
	canceled bool
}

// fakeAIO is a deterministic AsyncIO over an in-memory filesystem.
// Operations compute nothing until their completion is stepped.
type fakeAIO struct {
	mu      sync.Mutex
	names   map[string]*fakeFile
	fds     map[int]*fakeFile
	nextFD  int
	pending []*fakeOp

	// failure injection
	openErr  syscall.Errno
	writeErr syscall.Errno
	readErr  syscall.Errno
	// maxWrite truncates each write to force partial completions.
	maxWrite int
	// unlinked records every unlinked path.
	unlinked []string
	// closed counts fd closes.
	closed int
	// writeOps counts issued writes (including partial continuations).
	writeOps int
}

func newFakeAIO() *fakeAIO {
	return &fakeAIO{
		names:  make(map[string]*fakeFile),
		fds:    make(map[int]*fakeFile),
		nextFD: 100,
	}
}

func (a *fakeAIO) enqueue(kind string, cb CompletionFunc, do func() (int, syscall.Errno)) Request {
	req := &fakeRequest{}
	a.mu.Lock()
	if kind == "write" {
		a.writeOps++
	}
	a.pending = append(a.pending, &fakeOp{req: req, do: do, cb: cb, kind: kind})
	a.mu.Unlock()
	return req
}

// step fires the oldest pending completion. Returns false if none remain.
func (a *fakeAIO) step() bool {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return false
	}
	op := a.pending[0]
	a.pending = a.pending[1:]
	canceled := op.req.canceled
	a.mu.Unlock()
	var (
		result int
		errno  syscall.Errno
	)
	if canceled {
		result, errno = -1, syscall.ECANCELED
	} else {
		result, errno = op.do()
	}
	if op.cb != nil {
		op.cb(result, errno)
	}
	return true
}

// pendingKinds lists the kinds of queued operations, oldest first.
func (a *fakeAIO) pendingKinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	kinds := make([]string, len(a.pending))
	for i, op := range a.pending {
		kinds[i] = op.kind
	}
	return kinds
}

func (a *fakeAIO) Open(path string, flags int, perm uint32, cb CompletionFunc) Request {
	return a.enqueue("open", cb, func() (int, syscall.Errno) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.openErr != 0 {
			errno := a.openErr
			a.openErr = 0
			return -1, errno
		}
		if _, ok := a.names[path]; ok {
			return -1, syscall.EEXIST
		}
		f := &fakeFile{}
		a.names[path] = f
		fd := a.nextFD
		a.nextFD++
		a.fds[fd] = f
		return fd, 0
	})
}

func (a *fakeAIO) Read(fd int, p []byte, off int64, cb CompletionFunc) Request {
	return a.enqueue("read", cb, func() (int, syscall.Errno) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.readErr != 0 {
			return -1, a.readErr
		}
		f, ok := a.fds[fd]
		if !ok {
			return -1, syscall.EBADF
		}
		if off >= int64(len(f.data)) {
			return 0, 0
		}
		n := copy(p, f.data[off:])
		return n, 0
	})
}

func (a *fakeAIO) Write(fd int, p []byte, off int64, cb CompletionFunc) Request {
	return a.enqueue("write", cb, func() (int, syscall.Errno) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.writeErr != 0 {
			return -1, a.writeErr
		}
		f, ok := a.fds[fd]
		if !ok {
			return -1, syscall.EBADF
		}
		n := len(p)
		if a.maxWrite > 0 && n > a.maxWrite {
			n = a.maxWrite
		}
		end := off + int64(n)
		if int64(len(f.data)) < end {
			f.data = append(f.data, make([]byte, end-int64(len(f.data)))...)
		}
		copy(f.data[off:end], p[:n])
		return n, 0
	})
}

func (a *fakeAIO) Unlink(path string, cb CompletionFunc) Request {
	return a.enqueue("unlink", cb, func() (int, syscall.Errno) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.names[path]; !ok {
			return -1, syscall.ENOENT
		}
		delete(a.names, path)
		a.unlinked = append(a.unlinked, path)
		return 0, 0
	})
}

func (a *fakeAIO) Close(fd int, cb CompletionFunc) Request {
	return a.enqueue("close", cb, func() (int, syscall.Errno) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.fds[fd]; !ok {
			return -1, syscall.EBADF
		}
		delete(a.fds, fd)
		a.closed++
		return 0, 0
	})
}

func (a *fakeAIO) Busy(d time.Duration, cb CompletionFunc) Request {
	return a.enqueue("busy", cb, func() (int, syscall.Errno) {
		return 0, 0
	})
}

func (a *fakeAIO) Cancel(req Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := req.(*fakeRequest); ok {
		r.canceled = true
	}
}

// harness bundles a channel with its deterministic loop and engine.
type harness struct {
	loop *manualLoop
	aio  *fakeAIO
	c    *FileBufferedChannel
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	t.Cleanup(SetDebugChecks(true))
	h := &harness{loop: &manualLoop{}, aio: newFakeAIO()}
	opts = append([]Option{WithAsyncIO(h.aio), WithBufferDir("/bufdir")}, opts...)
	c, err := New(h.loop, opts...)
	if err != nil {
		t.Fatal(err)
	}
	h.c = c
	return h
}

// settle alternately fires fake completions and loop tasks until both
// queues are empty.
func (h *harness) settle() {
	for {
		if h.aio.step() {
			continue
		}
		if h.loop.step() {
			continue
		}
		return
	}
}

// collector is a downstream consumer for tests.
type collector struct {
	data     []byte
	eos      bool
	errcode  int
	calls    int
	autoAck  bool
	pendingN int
	hasAck   bool
	onData   func(buf Buffer, errcode int)
}

func (col *collector) callback() DataCallback {
	return func(ch *Channel, buf Buffer, errcode int) {
		col.calls++
		if col.onData != nil {
			col.onData(buf, errcode)
		}
		switch {
		case errcode != 0:
			col.errcode = errcode
			if col.autoAck {
				ch.Consumed(0, true)
			}
		case buf.IsEmpty():
			col.eos = true
			if col.autoAck {
				ch.Consumed(0, true)
			}
		default:
			col.data = append(col.data, buf.Bytes()...)
			if col.autoAck {
				ch.Consumed(buf.Len(), false)
			} else {
				col.pendingN = buf.Len()
				col.hasAck = true
			}
		}
	}
}

// ackOne acknowledges the oldest unacknowledged delivery.
func (col *collector) ackOne(c *FileBufferedChannel) {
	if !col.hasAck {
		panic("collector: nothing to ack")
	}
	n := col.pendingN
	col.hasAck = false
	col.pendingN = 0
	c.Consumed(n, false)
}
