package fbchan

// ChannelState is the state of a [Channel].
type ChannelState uint8

const (
	// ChannelIdle means no data callback is outstanding and the channel
	// accepts another Feed.
	ChannelIdle ChannelState = iota

	// ChannelCalling means the data callback has been invoked and the
	// consumer has not yet fully acknowledged the delivery.
	ChannelCalling

	// ChannelCallingWithEOFAck means the consumer acknowledged the end of
	// the stream from inside the still-unwinding data callback.
	ChannelCallingWithEOFAck

	// ChannelStopped means Stop was called; the channel refuses input now
	// but will accept again after Start.
	ChannelStopped

	// ChannelEOFReached means the end-of-stream sentinel has been delivered
	// and the consumer has not yet acknowledged it.
	ChannelEOFReached

	// ChannelEOFAcked means the consumer acknowledged the end of the stream.
	ChannelEOFAcked

	// ChannelErrorAcked means an error has been delivered and acknowledged.
	ChannelErrorAcked
)

// String returns a human-readable representation of the state.
func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "Idle"
	case ChannelCalling:
		return "Calling"
	case ChannelCallingWithEOFAck:
		return "CallingWithEOFAck"
	case ChannelStopped:
		return "Stopped"
	case ChannelEOFReached:
		return "EOFReached"
	case ChannelEOFAcked:
		return "EOFAcked"
	case ChannelErrorAcked:
		return "ErrorAcked"
	default:
		return "Unknown"
	}
}

// DataCallback receives buffers (and errors) delivered by a channel. An
// empty buffer with errcode zero signals the end of the stream; a non-zero
// errcode signals an error, delivered at most once.
//
// The consumer acknowledges every delivery by calling [Channel.Consumed],
// either synchronously from inside the callback or asynchronously later
// (backpressure).
type DataCallback func(ch *Channel, buf Buffer, errcode int)

// ConsumedCallback is an edge-triggered notification installed via
// [Channel.SetConsumedCallback]. It fires whenever the channel becomes idle
// again after a delivery, and whenever it reaches an ended state through an
// acknowledgement.
type ConsumedCallback func(ch *Channel, n int)

// ackState records a Consumed call made while the data callback is still on
// the stack, to be applied once it unwinds.
type ackState uint8

const (
	ackNone ackState = iota
	ackPartial
	ackFull
	ackEnd
)

// Channel is a single-slot delivery primitive: it delivers one buffer at a
// time to its data callback and cannot be fed again until the previous
// delivery has been fully acknowledged via Consumed. It is the downstream
// half of [FileBufferedChannel], and usable on its own.
//
// All methods must be called on the event loop goroutine.
type Channel struct {
	dataCallback     DataCallback
	consumedCallback ConsumedCallback

	// pending is the buffer currently being delivered (possibly a remainder
	// after a partial acknowledgement).
	pending Buffer
	// fed is the originally fed buffer, released on full acknowledgement.
	fed Buffer

	state      ChannelState
	started    bool
	inCallback bool
	feedingEOS bool
	errFed     bool
	errcode    int

	ack  ackState
	ackN int
}

// NewChannel creates a started, idle channel.
func NewChannel() *Channel {
	return &Channel{started: true}
}

// SetDataCallback installs the data callback. Must not be changed while a
// delivery is outstanding.
func (c *Channel) SetDataCallback(cb DataCallback) {
	c.dataCallback = cb
}

// SetConsumedCallback installs the consumed notification callback.
func (c *Channel) SetConsumedCallback(cb ConsumedCallback) {
	c.consumedCallback = cb
}

// State returns the current channel state.
func (c *Channel) State() ChannelState {
	return c.state
}

// AcceptingInput reports whether Feed may be called right now.
func (c *Channel) AcceptingInput() bool {
	return c.state == ChannelIdle
}

// MayAcceptInputLater reports whether the channel is temporarily full: it
// refuses input now but will become idle again once the outstanding delivery
// is acknowledged, or once Start is called.
func (c *Channel) MayAcceptInputLater() bool {
	return (c.state == ChannelCalling && !c.feedingEOS && !c.errFed) ||
		c.state == ChannelStopped
}

// IsIdle reports whether the channel has no outstanding delivery and is
// willing to accept another Feed.
func (c *Channel) IsIdle() bool {
	return c.state == ChannelIdle
}

// Ended reports whether the channel has seen the end of the stream or an
// error.
func (c *Channel) Ended() bool {
	switch c.state {
	case ChannelCallingWithEOFAck, ChannelEOFReached, ChannelEOFAcked, ChannelErrorAcked:
		return true
	case ChannelCalling:
		return c.feedingEOS || c.errFed
	}
	return false
}

// EndAcked reports whether the consumer has acknowledged the terminal
// delivery.
func (c *Channel) EndAcked() bool {
	switch c.state {
	case ChannelCallingWithEOFAck, ChannelEOFAcked, ChannelErrorAcked:
		return true
	}
	return false
}

// Err returns the error code delivered through FeedError, or zero.
func (c *Channel) Err() int {
	return c.errcode
}

// Start resumes delivery after Stop. If the channel was stopped while idle
// it becomes idle again and the consumed callback fires to rearm any waiting
// producer.
func (c *Channel) Start() {
	if c.started {
		return
	}
	c.started = true
	if c.state == ChannelStopped {
		c.state = ChannelIdle
		c.notifyConsumed(0)
	}
}

// Stop pauses the channel: input is refused until Start. A delivery that is
// already outstanding is unaffected; its acknowledgement parks the channel
// in the stopped state instead of idle.
func (c *Channel) Stop() {
	if !c.started {
		return
	}
	c.started = false
	if c.state == ChannelIdle {
		c.state = ChannelStopped
	}
}

// IsStarted reports whether the channel is started.
func (c *Channel) IsStarted() bool {
	return c.started
}

// Feed delivers buf to the data callback. An empty buffer signals the end of
// the stream. Panics unless AcceptingInput.
func (c *Channel) Feed(buf Buffer) {
	if c.state != ChannelIdle {
		panic("fbchan: Feed on channel that is not accepting input (state " + c.state.String() + ")")
	}
	c.pending = buf
	c.fed = buf
	c.feedingEOS = buf.IsEmpty()
	c.deliver(0)
}

// FeedError delivers errcode to the data callback as a terminal error.
// Panics unless AcceptingInput; panics on a zero errcode.
func (c *Channel) FeedError(errcode int) {
	if c.state != ChannelIdle {
		panic("fbchan: FeedError on channel that is not accepting input (state " + c.state.String() + ")")
	}
	if errcode == 0 {
		panic("fbchan: FeedError with zero errcode")
	}
	c.pending = Buffer{}
	c.fed = Buffer{}
	c.feedingEOS = false
	c.errFed = true
	c.errcode = errcode
	c.deliver(errcode)
}

// deliver invokes the data callback, applying synchronous acknowledgements
// as the callback unwinds, and redelivering remainders after partial
// acknowledgements.
func (c *Channel) deliver(errcode int) {
	for {
		c.state = ChannelCalling
		c.ack = ackNone
		c.inCallback = true
		c.dataCallback(c, c.pending, errcode)
		c.inCallback = false

		switch c.ack {
		case ackNone:
			// Consumer will acknowledge later (backpressure), except for a
			// terminal EOS delivery, which parks awaiting its end ack.
			if c.feedingEOS {
				c.state = ChannelEOFReached
			}
			return
		case ackPartial:
			c.pending.b = c.pending.b[c.ackN:]
			continue
		case ackFull:
			c.finishDelivery(c.ackN)
			return
		case ackEnd:
			c.fed.Release()
			if c.errFed {
				c.state = ChannelErrorAcked
			} else {
				c.state = ChannelEOFAcked
			}
			c.notifyConsumed(c.ackN)
			return
		}
	}
}

// finishDelivery applies a full, non-terminal acknowledgement.
func (c *Channel) finishDelivery(n int) {
	c.fed.Release()
	c.pending = Buffer{}
	c.fed = Buffer{}
	if c.started {
		c.state = ChannelIdle
	} else {
		c.state = ChannelStopped
	}
	if c.state == ChannelIdle {
		c.notifyConsumed(n)
	}
}

// Consumed acknowledges the outstanding delivery. n is the number of bytes
// consumed from the delivered buffer; end true means the consumer will not
// accept any further input (treated as end of stream). May be called from
// inside the data callback or at any later point on the event loop
// goroutine.
//
// A partial acknowledgement (n less than the delivered length, end false)
// causes the remainder to be redelivered.
func (c *Channel) Consumed(n int, end bool) {
	switch c.state {
	case ChannelCalling:
	case ChannelEOFReached:
		c.state = ChannelEOFAcked
		c.notifyConsumed(n)
		return
	default:
		panic("fbchan: Consumed without outstanding delivery (state " + c.state.String() + ")")
	}
	if n < 0 || n > c.pending.Len() {
		panic("fbchan: Consumed size out of range")
	}

	terminal := end || c.feedingEOS || c.errFed
	partial := !terminal && n < c.pending.Len()

	if c.inCallback {
		// Applied by deliver once the callback unwinds.
		c.ackN = n
		switch {
		case terminal:
			c.ack = ackEnd
			c.state = ChannelCallingWithEOFAck
		case partial:
			c.ack = ackPartial
		default:
			c.ack = ackFull
		}
		return
	}

	switch {
	case terminal:
		c.fed.Release()
		if c.errFed {
			c.state = ChannelErrorAcked
		} else {
			c.state = ChannelEOFAcked
		}
		c.notifyConsumed(n)
	case partial:
		c.pending.b = c.pending.b[n:]
		c.deliver(0)
	default:
		c.finishDelivery(n)
	}
}

func (c *Channel) notifyConsumed(n int) {
	if c.consumedCallback != nil {
		c.consumedCallback(c, n)
	}
}

// Reinitialize resets the channel for reuse after Deinitialize.
func (c *Channel) Reinitialize() {
	c.state = ChannelIdle
	c.started = true
}

// Deinitialize clears all delivery state. The installed callbacks are
// retained.
func (c *Channel) Deinitialize() {
	c.pending = Buffer{}
	c.fed = Buffer{}
	c.state = ChannelIdle
	c.feedingEOS = false
	c.errFed = false
	c.errcode = 0
	c.ack = ackNone
	c.inCallback = false
}
