package fbchan

import (
	eventloop "github.com/joeycumines/go-eventloop"
)

// Loop is the event-loop surface required by [FileBufferedChannel]. All
// state-machine work runs on the loop goroutine; I/O completions arriving on
// worker goroutines trampoline back through Submit.
//
// Submit must be safe to call from any goroutine. Tasks submitted after the
// loop has shut down may be silently dropped; by that point the channel has
// been deinitialized and its outstanding work canceled.
type Loop interface {
	Submit(fn func())
}

// EventLoop adapts a [eventloop.Loop] to the [Loop] interface.
func EventLoop(l *eventloop.Loop) Loop {
	return eventLoopAdapter{l}
}

type eventLoopAdapter struct {
	l *eventloop.Loop
}

func (a eventLoopAdapter) Submit(fn func()) {
	// A submit error means the loop has terminated; the task is dropped,
	// which is indistinguishable from the loop never getting to it.
	_ = a.l.Submit(fn)
}
