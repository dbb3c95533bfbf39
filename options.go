package fbchan

import (
	"os"
	"time"

	"github.com/joeycumines/logiface"
)

// DefaultThreshold is the number of in-memory buffered bytes at or beyond
// which the channel switches to the in-file mode.
const DefaultThreshold = 128 * 1024

// config holds the resolved per-channel configuration.
type config struct {
	bufferDir                string
	threshold                uint32
	delayInFileModeSwitching time.Duration
	autoTruncateFile         bool
	autoStartMover           bool
}

type options struct {
	config
	aio  AsyncIO
	pool *Pool
	log  *logiface.Logger[logiface.Event]
}

// Option configures a FileBufferedChannel instance.
type Option interface {
	apply(*options) error
}

type optionImpl struct {
	applyFunc func(*options) error
}

func (o *optionImpl) apply(opts *options) error {
	return o.applyFunc(opts)
}

// WithBufferDir sets the directory the spill file is created in. Defaults
// to os.TempDir().
func WithBufferDir(dir string) Option {
	return &optionImpl{func(opts *options) error {
		opts.bufferDir = dir
		return nil
	}}
}

// WithThreshold sets the spill threshold in bytes. Defaults to
// DefaultThreshold; must be positive.
func WithThreshold(threshold uint32) Option {
	return &optionImpl{func(opts *options) error {
		if threshold == 0 {
			return ErrInvalidThreshold
		}
		opts.threshold = threshold
		return nil
	}}
}

// WithDelayInFileModeSwitching delays spill-file creation after the mode
// switch, absorbing short bursts that drain before any disk I/O is worth
// doing. Zero (the default) disables the delay.
func WithDelayInFileModeSwitching(d time.Duration) Option {
	return &optionImpl{func(opts *options) error {
		opts.delayInFileModeSwitching = d
		return nil
	}}
}

// WithAutoTruncateFile controls whether an empty queue in the in-file mode
// switches the channel back to the in-memory mode, abandoning the spill
// file. Enabled by default.
func WithAutoTruncateFile(enabled bool) Option {
	return &optionImpl{func(opts *options) error {
		opts.autoTruncateFile = enabled
		return nil
	}}
}

// WithAutoStartMover controls whether a Feed in the in-file mode starts the
// mover immediately. Enabled by default; when disabled, movement resumes
// when an outstanding write completes and discovers more queued buffers.
func WithAutoStartMover(enabled bool) Option {
	return &optionImpl{func(opts *options) error {
		opts.autoStartMover = enabled
		return nil
	}}
}

// WithAsyncIO sets the async I/O engine. Defaults to the OS engine on
// platforms that have one.
func WithAsyncIO(aio AsyncIO) Option {
	return &optionImpl{func(opts *options) error {
		opts.aio = aio
		return nil
	}}
}

// WithPool sets the buffer pool used by the reader's file reads. The slot
// size bounds the size of a single read. Defaults to a pool with
// DefaultPoolSlotSize slots.
func WithPool(pool *Pool) Option {
	return &optionImpl{func(opts *options) error {
		opts.pool = pool
		return nil
	}}
}

// WithLogger sets the structured logger used for trace-level narration of
// state transitions. A nil logger (the default) disables logging.
func WithLogger(log *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.log = log
		return nil
	}}
}

func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		config: config{
			bufferDir:        os.TempDir(),
			threshold:        DefaultThreshold,
			autoTruncateFile: true,
			autoStartMover:   true,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
