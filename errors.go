package fbchan

import (
	"errors"
)

var (
	// ErrNilLoop is returned by New when no event loop is provided.
	ErrNilLoop = errors.New("fbchan: nil event loop")

	// ErrNoAsyncIO is returned by New when no async I/O engine is provided
	// and the platform has no default engine.
	ErrNoAsyncIO = errors.New("fbchan: no async I/O engine available")

	// ErrInvalidThreshold is returned by New for a zero threshold.
	ErrInvalidThreshold = errors.New("fbchan: threshold must be positive")
)
