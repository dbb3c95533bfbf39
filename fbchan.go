package fbchan

import (
	"github.com/joeycumines/logiface"
)

// Mode is the buffering mode of a [FileBufferedChannel].
type Mode uint8

const (
	// ModeInMemory is the default mode: all data is buffered in memory.
	// The reader is responsible for switching back to this mode from the
	// in-file mode.
	ModeInMemory Mode = iota

	// ModeInFile means buffered data is spilled to the overflow file. Feed
	// is responsible for switching to this mode.
	ModeInFile

	// ModeError means an error was encountered and has been delivered to
	// the data callback.
	ModeError

	// ModeErrorWaiting means an error was encountered while a delivery was
	// outstanding; it is delivered once the underlying channel becomes
	// idle.
	ModeErrorWaiting
)

// String returns a human-readable representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeInMemory:
		return "InMemory"
	case ModeInFile:
		return "InFile"
	case ModeError:
		return "Error"
	case ModeErrorWaiting:
		return "ErrorWaiting"
	default:
		return "Unknown"
	}
}

// ReaderState is the state of the reader, the side that drives delivery to
// the downstream consumer.
type ReaderState uint8

const (
	// ReaderInactive means the reader is parked; the next Feed activates it.
	ReaderInactive ReaderState = iota

	// ReaderFeeding means the reader is handing a buffer to the underlying
	// channel.
	ReaderFeeding

	// ReaderFeedingEOF means the reader is handing the end-of-stream
	// sentinel to the underlying channel.
	ReaderFeedingEOF

	// ReaderWaitingForChannelIdle means the underlying channel applied
	// backpressure; the consumed subscription rearms the reader.
	ReaderWaitingForChannelIdle

	// ReaderReadingFromFile means an asynchronous spill-file read is
	// outstanding.
	ReaderReadingFromFile

	// ReaderTerminated means the reader saw the end of the stream or an
	// error; only Deinitialize/Reinitialize can revive it.
	ReaderTerminated
)

// String returns a human-readable representation of the state.
func (s ReaderState) String() string {
	switch s {
	case ReaderInactive:
		return "Inactive"
	case ReaderFeeding:
		return "Feeding"
	case ReaderFeedingEOF:
		return "FeedingEOF"
	case ReaderWaitingForChannelIdle:
		return "WaitingForChannelIdle"
	case ReaderReadingFromFile:
		return "ReadingFromFile"
	case ReaderTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Callback is a parameterless notification from a [FileBufferedChannel].
type Callback func(c *FileBufferedChannel)

// FileBufferedChannel adds unlimited buffering capability to a [Channel] by
// spilling to an anonymous on-disk overflow file beyond a configurable
// threshold. See the package documentation for the architecture.
//
// All methods must be called on the event loop goroutine.
type FileBufferedChannel struct {
	loop Loop
	aio  AsyncIO
	pool *Pool
	log  *logiface.Logger[logiface.Event]
	cfg  config

	ch *Channel

	mode        Mode
	readerState ReaderState

	// errcode is non-zero exactly when mode is ModeError or
	// ModeErrorWaiting.
	errcode int

	// generation detects callback-driven resets; every callback-issuing
	// path samples it before the call and bails on mismatch afterwards.
	generation uint64

	queue bufferQueue

	// infile is non-nil exactly when mode is ModeInFile.
	infile *inFileMode

	buffersFlushedCallback Callback
	dataFlushedCallback    Callback
}

// New creates a file-buffered channel bound to the given event loop.
func New(loop Loop, opts ...Option) (*FileBufferedChannel, error) {
	if loop == nil {
		return nil, ErrNilLoop
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	c := &FileBufferedChannel{
		loop: loop,
		aio:  cfg.aio,
		pool: cfg.pool,
		log:  cfg.log,
		cfg:  cfg.config,
		ch:   NewChannel(),
		mode: ModeInMemory,
	}
	if c.aio == nil {
		c.aio = defaultAsyncIO()
	}
	if c.aio == nil {
		return nil, ErrNoAsyncIO
	}
	if c.pool == nil {
		c.pool = NewPool(DefaultPoolSlotSize)
	}
	c.queue.flushed = c.callBuffersFlushed
	c.ch.SetConsumedCallback(c.onChannelConsumed)
	return c, nil
}

/***** Public façade *****/

// Feed appends buf to the channel. An empty buffer signals the end of the
// stream. Feeding is a no-op once the channel has seen the end of the stream
// or is in error. May switch the channel to the in-file mode, start the
// mover, and drive the reader (and thus the data callback) synchronously.
func (c *FileBufferedChannel) Feed(buf Buffer) {
	c.log.Trace().Int("size", buf.Len()).Log("feeding buffer")
	c.verifyInvariants()
	if c.Ended() {
		c.log.Trace().Log("feeding aborted: EOF or error detected")
		return
	}
	c.queue.push(buf)
	if c.mode == ModeInMemory && c.PassedThreshold() {
		c.switchToInFileMode()
	} else if c.mode == ModeInFile &&
		c.infile.writerState == WriterInactive &&
		c.cfg.autoStartMover {
		c.moveNextBufferToFile()
	}
	if c.readerState == ReaderInactive {
		if c.ch.AcceptingInput() {
			c.readNext()
		} else {
			c.readNextWhenChannelIdle()
		}
	}
}

// FeedBytes is shorthand for Feed(BytesBuffer(p)).
func (c *FileBufferedChannel) FeedBytes(p []byte) {
	c.Feed(BytesBuffer(p))
}

// FeedString is shorthand for Feed(StringBuffer(s)).
func (c *FileBufferedChannel) FeedString(s string) {
	c.Feed(StringBuffer(s))
}

// FeedError forces the channel into the error mode, delivering errcode to
// the data callback exactly once (immediately if the underlying channel is
// idle, otherwise as soon as it becomes idle).
func (c *FileBufferedChannel) FeedError(errcode int) {
	c.setError(errcode)
}

// Reinitialize makes the channel usable again after Deinitialize. Bumps the
// generation.
func (c *FileBufferedChannel) Reinitialize() {
	c.ch.Reinitialize()
	c.generation++
	c.verifyInvariants()
}

// Deinitialize cancels outstanding I/O, clears all buffered data, and resets
// the channel to the in-memory mode with an inactive reader. Bumps the
// generation, so callback-driven work of the previous generation unwinds
// without further effect. Safe to call from inside the data callback.
func (c *FileBufferedChannel) Deinitialize() {
	c.log.Trace().Log("deinitialize")
	c.cancelReader()
	if c.mode == ModeInFile {
		c.cancelWriter()
	}
	c.queue.clear()
	c.mode = ModeInMemory
	c.readerState = ReaderInactive
	c.errcode = 0
	c.dropInFileMode()
	c.generation++
	c.ch.Deinitialize()
}

// Start delegates to the underlying channel.
func (c *FileBufferedChannel) Start() {
	c.ch.Start()
}

// Stop delegates to the underlying channel.
func (c *FileBufferedChannel) Stop() {
	c.ch.Stop()
}

// IsStarted delegates to the underlying channel.
func (c *FileBufferedChannel) IsStarted() bool {
	return c.ch.IsStarted()
}

// Consumed acknowledges the outstanding delivery on the underlying channel;
// it is the consumer's acknowledgement API. See [Channel.Consumed].
func (c *FileBufferedChannel) Consumed(n int, end bool) {
	c.ch.Consumed(n, end)
}

/***** Observables *****/

// Mode returns the buffering mode.
func (c *FileBufferedChannel) Mode() Mode {
	return c.mode
}

// ReaderState returns the reader state.
func (c *FileBufferedChannel) ReaderState() ReaderState {
	return c.readerState
}

// WriterState returns the writer state. Only meaningful in the in-file
// mode; outside it, WriterInactive is returned.
func (c *FileBufferedChannel) WriterState() WriterState {
	if c.infile == nil {
		return WriterInactive
	}
	return c.infile.writerState
}

// ChannelState returns the state of the underlying channel.
func (c *FileBufferedChannel) ChannelState() ChannelState {
	return c.ch.State()
}

// BytesBuffered returns the number of in-memory buffered bytes.
func (c *FileBufferedChannel) BytesBuffered() uint32 {
	return c.queue.bytes
}

// Err returns the error code the channel is in error with, or zero.
func (c *FileBufferedChannel) Err() int {
	return c.errcode
}

// Ended reports whether the channel has seen the end of the stream: an EOS
// sentinel is queued, the channel is in error, or the underlying channel
// has ended.
func (c *FileBufferedChannel) Ended() bool {
	return (c.queue.has() && c.queue.peekLast().IsEmpty()) ||
		c.mode >= ModeError || c.ch.Ended()
}

// EndAcked delegates to the underlying channel.
func (c *FileBufferedChannel) EndAcked() bool {
	return c.ch.EndAcked()
}

// PassedThreshold reports whether the in-memory buffered bytes have reached
// the spill threshold.
func (c *FileBufferedChannel) PassedThreshold() bool {
	return c.queue.bytes >= c.cfg.threshold
}

/***** Callbacks *****/

// SetDataCallback installs the downstream consumer on the underlying
// channel.
func (c *FileBufferedChannel) SetDataCallback(cb DataCallback) {
	c.ch.SetDataCallback(cb)
}

// SetBuffersFlushedCallback installs the callback fired every time the
// in-memory queue drains. In the in-memory mode that means the reader took
// the last buffer off the queue and is about to hand it to the data
// callback; in the in-file mode it means the last
// buffer reached the spill file. It does not imply the data has been
// consumed downstream; that is what the data-flushed callback is for.
func (c *FileBufferedChannel) SetBuffersFlushedCallback(cb Callback) {
	c.buffersFlushedCallback = cb
}

// SetDataFlushedCallback installs the callback fired when all buffered data
// (memory and disk) has been delivered and the reader went inactive or
// terminated.
func (c *FileBufferedChannel) SetDataFlushedCallback(cb Callback) {
	c.dataFlushedCallback = cb
}

func (c *FileBufferedChannel) callBuffersFlushed() {
	if c.buffersFlushedCallback != nil {
		c.log.Trace().Log("calling buffers flushed callback")
		c.buffersFlushedCallback(c)
	}
}

func (c *FileBufferedChannel) callDataFlushed() {
	if c.dataFlushedCallback != nil {
		c.log.Trace().Log("calling data flushed callback")
		c.dataFlushedCallback(c)
	}
}

/***** Mode controller *****/

func (c *FileBufferedChannel) switchToInFileMode() {
	if c.mode != ModeInMemory || c.infile != nil {
		panic("fbchan: invalid in-file mode switch")
	}
	c.log.Trace().Log("switching to in-file mode")
	c.mode = ModeInFile
	c.infile = newInFileMode(c.aio)
	c.createBufferFile()
}

// switchToInMemoryMode "truncates" the spill file by abandoning it and
// dropping the in-file record, instead of an ftruncate, so pending
// background I/O against the old fd can run to completion against the
// now-unlinked inode without affecting correctness.
func (c *FileBufferedChannel) switchToInMemoryMode() {
	if c.mode != ModeInFile || c.infile.written > 0 {
		panic("fbchan: invalid in-memory mode switch")
	}
	c.log.Trace().Log("abandoning file, switching to in-memory mode")
	c.cancelWriter()
	c.queue.clear()
	c.mode = ModeInMemory
	c.dropInFileMode()
}

func (c *FileBufferedChannel) dropInFileMode() {
	if m := c.infile; m != nil {
		c.infile = nil
		m.unref()
	}
}

/***** Error handler *****/

// setError is idempotent once the channel is in error. It cancels the
// reader and writer, drops the in-file record, and delivers errcode to the
// data callback exactly once: immediately if the underlying channel is
// idle, otherwise via the consumed subscription once it becomes idle (and
// only if it has not itself already ended).
func (c *FileBufferedChannel) setError(errcode int) {
	if c.mode >= ModeError {
		return
	}
	c.log.Debug().Int("errcode", errcode).Log("setting error")
	c.cancelReader()
	if c.mode == ModeInFile {
		c.cancelWriter()
	}
	c.readerState = ReaderTerminated
	c.errcode = errcode
	c.dropInFileMode()
	if c.ch.AcceptingInput() {
		c.log.Trace().Log("feeding error")
		c.mode = ModeError
		c.ch.FeedError(errcode)
	} else {
		c.log.Trace().Log("waiting until underlying channel becomes idle for error feeding")
		c.mode = ModeErrorWaiting
	}
}

func (c *FileBufferedChannel) feedErrorWhenChannelIdleOrEnded() {
	if c.errcode == 0 {
		panic("fbchan: error wait without errcode")
	}
	if c.ch.IsIdle() {
		c.log.Trace().Log("channel has become idle, feeding error")
		c.ch.FeedError(c.errcode)
	} else {
		c.log.Trace().Log("channel ended while trying to feed an error")
	}
}

// cancelReader must be combined with setError or Deinitialize, so the
// reader stops processing after any in-progress Feed returns.
func (c *FileBufferedChannel) cancelReader() {
	switch c.readerState {
	case ReaderFeeding, ReaderFeedingEOF, ReaderWaitingForChannelIdle:
	case ReaderReadingFromFile:
		// The request is nil when cancellation happens from within the
		// read's own completion handler (which cleared it already).
		if rc := c.infile.readRequest; rc != nil {
			rc.cancel()
			c.infile.readRequest = nil
		}
	case ReaderInactive, ReaderTerminated:
	}
}

func (c *FileBufferedChannel) cancelWriter() {
	if c.mode != ModeInFile {
		panic("fbchan: cancelWriter outside in-file mode")
	}
	switch c.infile.writerState {
	case WriterInactive:
	case WriterCreatingFile, WriterMoving:
		// Nil when cancellation happens from within the writer's own
		// completion handler (which cleared the request already).
		if wr := c.infile.writerRequest; wr != nil {
			wr.cancel()
			c.infile.writerRequest = nil
		}
	case WriterTerminated:
		return
	}
	c.infile.writerState = WriterInactive
}

/***** Consumed subscription *****/

// onChannelConsumed rearms the reader after backpressure and completes
// deferred error delivery. Installed on the underlying channel.
func (c *FileBufferedChannel) onChannelConsumed(_ *Channel, _ int) {
	if c.readerState == ReaderWaitingForChannelIdle {
		if c.ch.AcceptingInput() {
			c.log.Trace().Log("reader: underlying channel has become idle")
			c.verifyInvariants()
			c.readNext()
		} else {
			if !c.ch.Ended() {
				panic("fbchan: consumed notification while neither idle nor ended")
			}
			c.log.Trace().Log("reader: underlying channel ended while waiting for it to become idle")
			c.terminateReader()
		}
	} else if c.mode == ModeErrorWaiting {
		c.feedErrorWhenChannelIdleOrEnded()
	}
}

/***** Invariants *****/

// debugChecks enables invariant verification after every public entry point
// and completion handler. Toggled from tests.
var debugChecks = false

func (c *FileBufferedChannel) verifyInvariants() {
	if !debugChecks {
		return
	}
	if c.mode >= ModeError {
		if c.readerState != ReaderTerminated {
			panic("fbchan: invariant violation: error mode with live reader")
		}
		if c.infile != nil {
			panic("fbchan: invariant violation: error mode with in-file record")
		}
	}
	switch c.readerState {
	case ReaderWaitingForChannelIdle:
		if c.mode >= ModeError {
			panic("fbchan: invariant violation: waiting reader in error mode")
		}
	case ReaderReadingFromFile:
		if c.mode != ModeInFile {
			panic("fbchan: invariant violation: file read outside in-file mode")
		}
		if c.infile.readRequest == nil {
			panic("fbchan: invariant violation: file read without request")
		}
		if c.infile.written <= 0 {
			panic("fbchan: invariant violation: file read without unread bytes")
		}
	}
	if (c.errcode == 0) != (c.mode < ModeError) {
		panic("fbchan: invariant violation: errcode/mode mismatch")
	}
	if (c.infile != nil) != (c.mode == ModeInFile) {
		panic("fbchan: invariant violation: in-file record/mode mismatch")
	}
	if c.infile != nil {
		if (c.infile.writerRequest != nil) !=
			(c.infile.writerState == WriterCreatingFile || c.infile.writerState == WriterMoving) {
			panic("fbchan: invariant violation: writer request/state mismatch")
		}
		if c.infile.readOffset+c.infile.written < 0 {
			panic("fbchan: invariant violation: negative write frontier")
		}
		if c.infile.written < 0 && !c.queue.has() {
			panic("fbchan: invariant violation: negative written with empty queue")
		}
	}
	if c.queue.nbuffers == 0 && c.queue.bytes != 0 {
		panic("fbchan: invariant violation: bytes buffered with empty queue")
	}
	var sum uint64
	if c.queue.has() {
		sum = uint64(c.queue.first.Len())
	}
	for _, buf := range c.queue.more {
		sum += uint64(buf.Len())
	}
	if sum != uint64(c.queue.bytes) {
		panic("fbchan: invariant violation: bytes buffered out of sync")
	}
}
