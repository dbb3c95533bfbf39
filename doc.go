// Package fbchan provides a file-backed unbounded buffering channel: a
// producer/consumer pipe that accepts byte buffers and delivers them, strictly
// FIFO, to a single downstream consumer, spilling to an anonymous on-disk
// overflow file once in-memory buffering crosses a configurable threshold.
//
// A [Channel] has a buffer size of one: you cannot feed it until the
// previously fed buffer has been consumed. [FileBufferedChannel] removes that
// restriction. Everything fed to it is buffered either in memory or on disk,
// so a virtually unlimited amount of data can be absorbed without unbounded
// memory growth and without dropping bytes. It sits between a source that can
// produce faster than the sink can drain (for example an upstream network
// socket feeding a slower backend) and provides flow control for free.
//
// # Architecture
//
// The channel operates in one of two buffering modes. In the in-memory mode
// (the default) all data is queued in memory. Once the number of buffered
// bytes passes the configured threshold it switches to the in-file mode: a
// writer ("mover") drains the in-memory queue onto a spill file, while a
// reader serves the downstream consumer from the file, or directly from
// memory when the mover has fallen behind the consumer. The spill file is
// created with O_EXCL in the configured buffer directory and unlinked
// immediately, so no user-visible filename ever persists.
//
// All state-machine work runs on a single event loop goroutine, represented
// by the [Loop] interface. File I/O is performed through the [AsyncIO]
// contract; completions fire on arbitrary goroutines and trampoline back onto
// the loop via [Loop.Submit]. [EventLoop] adapts a
// [github.com/joeycumines/go-eventloop.Loop].
//
// # Thread Safety
//
// Unless documented otherwise, methods of [Channel] and
// [FileBufferedChannel] must be called on the event loop goroutine. The
// [AsyncIO] implementations shipped with this package are safe for use from
// any goroutine.
//
// # Reentrancy
//
// Callbacks (the data callback, the buffers-flushed callback, and the
// data-flushed callback) are invoked on the event loop goroutine and may call
// back into the channel, including [FileBufferedChannel.Deinitialize]. A
// generation counter detects such resets: every code path that invokes a
// callback re-checks the generation on return and abandons the previous
// generation's work. Outstanding I/O completions discover the change through
// their cancellation flags and unwind without touching the channel.
//
// # Logging
//
// The channel optionally narrates its state transitions at trace level
// through a [github.com/joeycumines/logiface.Logger], configured with
// [WithLogger]. A nil logger disables logging at negligible cost.
package fbchan
