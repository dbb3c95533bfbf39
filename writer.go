package fbchan

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// spillFileFlags matches the creation contract for the spill file: exclusive
// creation so a raced name collision surfaces as EEXIST and is retried.
const spillFileFlags = os.O_RDWR | os.O_CREATE | os.O_EXCL

const spillFilePerm = 0o600

// fileCreationContext tracks the asynchronous creation of the spill file.
// No in-file reference is held: there is no fd yet, and the canceled path
// disposes of a just-created file itself.
type fileCreationContext struct {
	ioContext
	path string
}

// moveContext tracks one buffer being moved to the spill file. It holds a
// reference to the in-file record so the fd outlives cancellation, and a
// copy of the front buffer header so queue mutation cannot disturb the
// in-flight write.
type moveContext struct {
	ioContext
	infile  *inFileMode
	buffer  Buffer
	written int
}

// createBufferFile kicks off spill-file creation, optionally preceded by the
// configured switch delay.
func (c *FileBufferedChannel) createBufferFile() {
	if c.mode != ModeInFile || c.infile.writerState != WriterInactive || c.infile.fd != -1 {
		panic("fbchan: invalid spill file creation")
	}

	fc := &fileCreationContext{
		ioContext: ioContext{loop: c.loop, aio: c.aio},
		path: filepath.Join(c.cfg.bufferDir,
			"buffer."+strconv.FormatUint(rand.Uint64(), 36)),
	}
	c.infile.writerState = WriterCreatingFile
	c.infile.writerRequest = &fc.ioContext

	if c.cfg.delayInFileModeSwitching > 0 {
		c.log.Trace().
			Dur("delay", c.cfg.delayInFileModeSwitching).
			Log("writer: delaying in-file mode switching")
		fc.issue(func() Request {
			return c.aio.Busy(c.cfg.delayInFileModeSwitching, func(result int, errno syscall.Errno) {
				fc.complete(result, errno, nil, func() {
					c.bufferFileDoneDelaying(fc)
				})
			})
		})
	} else {
		c.log.Trace().Str("path", fc.path).Log("writer: creating file")
		c.issueOpen(fc)
	}
}

func (c *FileBufferedChannel) bufferFileDoneDelaying(fc *fileCreationContext) {
	c.log.Trace().Str("path", fc.path).Log("writer: done delaying in-file mode switching, creating file")
	c.issueOpen(fc)
}

func (c *FileBufferedChannel) issueOpen(fc *fileCreationContext) {
	fc.issue(func() Request {
		return c.aio.Open(fc.path, spillFileFlags, spillFilePerm, func(result int, errno syscall.Errno) {
			fc.complete(result, errno, func() { fc.disposeCreated(result) }, func() {
				c.bufferFileCreated(fc)
			})
		})
	})
}

// disposeCreated handles creation canceled after the open already
// succeeded: the file is unlinked and its fd closed in the background, so no
// user-visible filename persists. Unlink first, close after.
func (fc *fileCreationContext) disposeCreated(fd int) {
	if fd < 0 {
		return
	}
	fc.aio.Unlink(fc.path, nil)
	fc.aio.Close(fd, nil)
}

func (c *FileBufferedChannel) bufferFileCreated(fc *fileCreationContext) {
	if c.infile.writerState != WriterCreatingFile {
		panic("fbchan: file creation completion in state " + c.infile.writerState.String())
	}
	c.verifyInvariants()
	fd, errno := fc.result, fc.errno
	c.infile.writerRequest = nil

	switch {
	case fd >= 0:
		c.log.Trace().Str("path", fc.path).Log("writer: file created, unlinking in the background")
		path := fc.path
		log := c.log
		c.aio.Unlink(path, func(result int, _ syscall.Errno) {
			if result < 0 {
				log.Warning().Str("path", path).Log("writer: failed to unlink spill file")
			}
		})
		c.infile.fd = fd
		c.infile.writerState = WriterInactive
		c.moveNextBufferToFile()
	case errno == syscall.EEXIST:
		c.log.Trace().Log("writer: file already exists, retrying")
		c.infile.writerState = WriterInactive
		c.createBufferFile()
		c.verifyInvariants()
	default:
		c.setError(int(errno))
	}
}

// moveNextBufferToFile starts moving the queue's front buffer onto the
// spill file, or parks the writer if there is nothing (or nothing more)
// to move.
func (c *FileBufferedChannel) moveNextBufferToFile() {
	if c.mode != ModeInFile || c.infile.fd < 0 {
		panic("fbchan: move outside in-file mode")
	}
	c.verifyInvariants()

	if !c.queue.has() {
		c.log.Trace().Log("writer: no more buffers, transitioning to inactive")
		c.infile.writerState = WriterInactive
		return
	}
	if c.queue.peekFront().IsEmpty() {
		// The reader serves the sentinel; the writer never writes it.
		c.log.Trace().Log("writer: EOF encountered, transitioning to terminated")
		c.infile.writerState = WriterTerminated
		return
	}

	buf := c.queue.peekFront()
	c.log.Trace().Int("size", buf.Len()).Log("writer: moving next buffer to file")

	mc := &moveContext{
		ioContext: ioContext{loop: c.loop, aio: c.aio},
		infile:    c.infile,
		buffer:    buf,
	}
	mc.infile.ref()
	c.infile.writerState = WriterMoving
	c.infile.writerRequest = &mc.ioContext
	c.issueMove(mc)
	c.verifyInvariants()
}

// issueMove writes the unwritten tail of the move buffer at the write
// frontier. readOffset + written is invariant under concurrent reader
// progress, so the frontier stays put for the whole move.
func (c *FileBufferedChannel) issueMove(mc *moveContext) {
	fd := c.infile.fd
	p := mc.buffer.Bytes()[mc.written:]
	off := c.infile.readOffset + c.infile.written + int64(mc.written)
	mc.issue(func() Request {
		return c.aio.Write(fd, p, off, func(result int, errno syscall.Errno) {
			mc.complete(result, errno, mc.cleanup, func() {
				c.bufferWrittenToFile(mc)
			})
		})
	})
}

// cleanup discards a canceled move on the event loop goroutine (the buffer
// header may reference pooled memory).
func (mc *moveContext) cleanup() {
	mc.loop.Submit(func() {
		mc.infile.unref()
	})
}

// bufferWrittenToFile runs on the event loop goroutine once a spill-file
// write completes.
func (c *FileBufferedChannel) bufferWrittenToFile(mc *moveContext) {
	if c.mode != ModeInFile || c.infile.writerState != WriterMoving {
		panic("fbchan: write completion outside moving state")
	}
	c.verifyInvariants()

	if mc.result < 0 {
		c.log.Debug().Log("writer: file write failed")
		errno := mc.errno
		mc.infile.unref()
		c.infile.writerRequest = nil
		c.infile.writerState = WriterTerminated
		c.setError(int(errno))
		return
	}

	mc.written += mc.result
	if mc.written > mc.buffer.Len() {
		panic("fbchan: write completion exceeds buffer")
	}
	if mc.written < mc.buffer.Len() {
		c.log.Trace().
			Int("written", mc.written).
			Int("size", mc.buffer.Len()).
			Log("writer: move incomplete, writing rest of buffer")
		c.issueMove(mc)
		c.verifyInvariants()
		return
	}

	// Move complete: account for it and proceed with the next buffer.
	gen := c.generation
	c.log.Trace().Int("size", mc.buffer.Len()).Log("writer: move complete")
	c.infile.written += int64(mc.buffer.Len())
	c.queue.pop()
	if gen != c.generation || c.mode >= ModeError {
		// The buffers-flushed callback deinitialized the channel or forced
		// an error.
		mc.infile.unref()
		return
	}
	c.infile.writerRequest = nil
	c.infile.writerState = WriterInactive
	mc.infile.unref()
	c.moveNextBufferToFile()
}
