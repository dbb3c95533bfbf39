//go:build unix

package fbchan

import (
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// OSAsyncIO is the production [AsyncIO] engine: every operation runs on its
// own goroutine and performs positional I/O via golang.org/x/sys/unix, so no
// shared file offset exists between the reader and the writer.
type OSAsyncIO struct {
	wg sync.WaitGroup
}

// NewOSAsyncIO creates an OS-backed async I/O engine.
func NewOSAsyncIO() *OSAsyncIO {
	return &OSAsyncIO{}
}

// osRequest is the cancellation handle for a single operation.
type osRequest struct {
	canceled atomic.Bool
}

func (a *OSAsyncIO) submit(cb CompletionFunc, op func() (int, syscall.Errno)) Request {
	req := &osRequest{}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if req.canceled.Load() {
			if cb != nil {
				cb(-1, unix.ECANCELED)
			}
			return
		}
		result, errno := op()
		if cb != nil {
			cb(result, errno)
		}
	}()
	return req
}

func (a *OSAsyncIO) Open(path string, flags int, perm uint32, cb CompletionFunc) Request {
	return a.submit(cb, func() (int, syscall.Errno) {
		fd, err := unix.Open(path, flags|unix.O_CLOEXEC, perm)
		if err != nil {
			return -1, errnoOf(err)
		}
		return fd, 0
	})
}

func (a *OSAsyncIO) Read(fd int, p []byte, off int64, cb CompletionFunc) Request {
	return a.submit(cb, func() (int, syscall.Errno) {
		n, err := unix.Pread(fd, p, off)
		if err != nil {
			return -1, errnoOf(err)
		}
		return n, 0
	})
}

func (a *OSAsyncIO) Write(fd int, p []byte, off int64, cb CompletionFunc) Request {
	return a.submit(cb, func() (int, syscall.Errno) {
		n, err := unix.Pwrite(fd, p, off)
		if err != nil {
			return -1, errnoOf(err)
		}
		return n, 0
	})
}

func (a *OSAsyncIO) Unlink(path string, cb CompletionFunc) Request {
	return a.submit(cb, func() (int, syscall.Errno) {
		if err := unix.Unlink(path); err != nil {
			return -1, errnoOf(err)
		}
		return 0, 0
	})
}

func (a *OSAsyncIO) Close(fd int, cb CompletionFunc) Request {
	return a.submit(cb, func() (int, syscall.Errno) {
		if err := unix.Close(fd); err != nil {
			return -1, errnoOf(err)
		}
		return 0, 0
	})
}

func (a *OSAsyncIO) Busy(d time.Duration, cb CompletionFunc) Request {
	req := &osRequest{}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		time.Sleep(d)
		if req.canceled.Load() {
			if cb != nil {
				cb(-1, unix.ECANCELED)
			}
			return
		}
		if cb != nil {
			cb(0, 0)
		}
	}()
	return req
}

func (a *OSAsyncIO) Cancel(req Request) {
	if r, ok := req.(*osRequest); ok {
		r.canceled.Store(true)
	}
}

// Wait blocks until every submitted operation has completed and delivered
// its callback. Intended for orderly teardown and tests.
func (a *OSAsyncIO) Wait() {
	a.wg.Wait()
}

func errnoOf(err error) syscall.Errno {
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return unix.EIO
}

func defaultAsyncIO() AsyncIO {
	return NewOSAsyncIO()
}
