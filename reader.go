package fbchan

import (
	"syscall"
)

// readContext is the bookkeeping for one outstanding spill-file read. It
// holds a reference to the in-file record so the fd stays open until the
// completion has unwound, and a pool buffer that must be released on the
// event loop goroutine.
type readContext struct {
	ioContext
	buffer Buffer
	infile *inFileMode
}

// readNext drives delivery to the downstream consumer. It keeps serving
// buffers while the underlying channel stays idle, suspending on
// backpressure (ReaderWaitingForChannelIdle), on an outstanding file read
// (ReaderReadingFromFile), or on an empty queue (ReaderInactive).
func (c *FileBufferedChannel) readNext() {
	for {
		c.log.Trace().Log("reader: reading next")
		if !c.ch.IsIdle() {
			panic("fbchan: readNext with non-idle channel")
		}
		gen := c.generation

		switch c.mode {
		case ModeInMemory:
			if !c.queue.has() {
				c.log.Trace().Log("reader: no more buffers, transitioning to inactive")
				c.readerState = ReaderInactive
				c.verifyInvariants()
				c.callDataFlushed()
				return
			}
			if c.queue.peekFront().IsEmpty() {
				c.log.Trace().Log("reader: EOF encountered, feeding EOF")
				c.readerState = ReaderFeedingEOF
				c.verifyInvariants()
				// Copy the buffer header so a reentrant Deinitialize cannot
				// reset the argument midway.
				buf := c.queue.peekFront()
				c.ch.Feed(buf)
				if gen != c.generation || c.mode >= ModeError {
					return
				}
				c.verifyInvariants()
				c.log.Trace().Log("reader: EOF fed, transitioning to terminated")
				c.terminateReader()
				return
			}
			buf := c.queue.peekFront()
			c.log.Trace().Int("size", buf.Len()).Log("reader: found buffer")
			c.queue.pop()
			if gen != c.generation || c.mode >= ModeError {
				// The buffers-flushed callback deinitialized the channel or
				// forced an error.
				return
			}
			c.readerState = ReaderFeeding
			c.log.Trace().Int("size", buf.Len()).Log("reader: feeding buffer")
			c.ch.Feed(buf)
			if gen != c.generation || c.mode >= ModeError {
				return
			}
			c.verifyInvariants()
			if c.ch.AcceptingInput() {
				continue
			}
			if c.ch.MayAcceptInputLater() {
				c.readNextWhenChannelIdle()
				return
			}
			c.log.Trace().Log("reader: data callback no longer accepts further data")
			c.terminateReader()
			return

		case ModeInFile:
			if c.infile.written > 0 {
				// The file contains unread data: read it back and feed it.
				c.readNextChunkFromFile()
				return
			}
			// The file contains no unread data: find the next buffer the
			// writer has not yet moved and serve it directly from memory.
			buf, ok := c.findBufferForReadProcessing()
			switch {
			case !ok:
				c.readerState = ReaderInactive
				if c.cfg.autoTruncateFile {
					c.log.Trace().Log("reader: no more buffers, transitioning to inactive, abandoning file")
					c.switchToInMemoryMode()
				} else {
					c.log.Trace().Log("reader: no more buffers, transitioning to inactive, keeping file")
				}
				c.verifyInvariants()
				c.callDataFlushed()
				return
			case buf.IsEmpty():
				c.log.Trace().Log("reader: EOF encountered, feeding EOF")
				c.readerState = ReaderFeedingEOF
				c.verifyInvariants()
				c.ch.Feed(buf)
				if gen != c.generation || c.mode >= ModeError {
					return
				}
				c.verifyInvariants()
				c.log.Trace().Log("reader: EOF fed, transitioning to terminated")
				if c.cfg.autoTruncateFile {
					// The stream is over; abandon the spill file so the fd
					// is released as soon as outstanding I/O unwinds.
					c.switchToInMemoryMode()
				}
				c.terminateReader()
				return
			default:
				c.log.Trace().Int("size", buf.Len()).Log("reader: serving buffer from memory")
				c.infile.readOffset += int64(buf.Len())
				c.infile.written -= int64(buf.Len())
				c.readerState = ReaderFeeding
				c.ch.Feed(buf)
				if gen != c.generation || c.mode >= ModeError {
					return
				}
				c.verifyInvariants()
				if c.ch.AcceptingInput() {
					continue
				}
				if c.ch.MayAcceptInputLater() {
					c.readNextWhenChannelIdle()
					return
				}
				c.log.Trace().Log("reader: data callback no longer accepts further data")
				c.terminateReader()
				return
			}

		default:
			panic("fbchan: readNext in error mode")
		}
	}
}

func (c *FileBufferedChannel) terminateReader() {
	c.readerState = ReaderTerminated
	c.verifyInvariants()
	c.callDataFlushed()
}

func (c *FileBufferedChannel) readNextWhenChannelIdle() {
	c.log.Trace().Log("reader: waiting for underlying channel to become idle")
	c.readerState = ReaderWaitingForChannelIdle
	c.verifyInvariants()
}

// readNextChunkFromFile issues an asynchronous read of up to one pool slot
// of unread spill-file bytes.
func (c *FileBufferedChannel) readNextChunkFromFile() {
	if c.infile.written <= 0 {
		panic("fbchan: file read without unread bytes")
	}
	size := c.pool.SlotSize()
	if int64(size) > c.infile.written {
		size = int(c.infile.written)
	}
	c.log.Trace().Int("size", size).Log("reader: reading next chunk from file")
	c.verifyInvariants()
	rc := &readContext{
		ioContext: ioContext{loop: c.loop, aio: c.aio},
		buffer:    c.pool.Get(),
		infile:    c.infile,
	}
	rc.infile.ref()
	c.readerState = ReaderReadingFromFile
	c.infile.readRequest = rc
	fd, off := c.infile.fd, c.infile.readOffset
	rc.issue(func() Request {
		return c.aio.Read(fd, rc.buffer.Bytes()[:size], off, func(result int, errno syscall.Errno) {
			rc.complete(result, errno, rc.cleanup, func() {
				c.chunkDoneReading(rc)
			})
		})
	})
	c.verifyInvariants()
}

// cleanup discards a canceled read: the pool buffer goes back on the event
// loop goroutine, and the in-file reference is dropped.
func (rc *readContext) cleanup() {
	rc.loop.Submit(rc.buffer.Release)
	rc.infile.unref()
}

// chunkDoneReading runs on the event loop goroutine once a spill-file read
// completes.
func (c *FileBufferedChannel) chunkDoneReading(rc *readContext) {
	c.log.Trace().Log("reader: done reading chunk")
	if c.readerState != ReaderReadingFromFile {
		panic("fbchan: read completion in state " + c.readerState.String())
	}
	c.verifyInvariants()
	result, errno := rc.result, rc.errno
	c.infile.readRequest = nil
	rc.infile.unref()

	if result <= 0 {
		if result == 0 {
			// A short file is unexpected here: written > 0 promised unread
			// bytes, and writes settle before written advances.
			errno = syscall.EIO
		}
		rc.buffer.Release()
		c.setError(int(errno))
		return
	}

	gen := c.generation
	buf := rc.buffer.prefix(result)
	c.infile.readOffset += int64(result)
	c.infile.written -= int64(result)
	c.log.Trace().Int("size", buf.Len()).Log("reader: feeding buffer")
	c.readerState = ReaderFeeding
	c.ch.Feed(buf)
	if gen != c.generation || c.mode >= ModeError {
		return
	}
	c.verifyInvariants()
	if c.ch.AcceptingInput() {
		c.readerState = ReaderInactive
		c.readNext()
	} else if c.ch.MayAcceptInputLater() {
		c.readNextWhenChannelIdle()
	} else {
		c.log.Trace().Log("reader: data callback no longer accepts further data")
		c.terminateReader()
	}
}

// findBufferForReadProcessing locates the queued buffer at the reader's
// logical position when the writer is at or behind it (written <= 0): the
// queue is walked until the cumulative size reaches -written. An empty
// buffer found on the way signals the end of the stream. The buffer is not
// popped; the writer still owns queue consumption in the in-file mode.
func (c *FileBufferedChannel) findBufferForReadProcessing() (Buffer, bool) {
	if c.mode != ModeInFile {
		panic("fbchan: findBufferForReadProcessing outside in-file mode")
	}
	if !c.queue.has() {
		return Buffer{}, false
	}

	target := -c.infile.written
	var offset int64

	if offset == target {
		return c.queue.first, true
	}
	offset += int64(c.queue.first.Len())
	for _, buf := range c.queue.more {
		if offset == target || buf.IsEmpty() {
			return buf, true
		}
		offset += int64(buf.Len())
	}
	return Buffer{}, false
}
