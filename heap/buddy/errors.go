package buddy

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory indicates that no free block of sufficient order exists.
	ErrOutOfMemory = errors.New("buddy: out of memory")

	// ErrOversize indicates a request larger than the biggest block minus its header.
	// It wraps ErrOutOfMemory: callers see a single failure signal.
	ErrOversize = fmt.Errorf("%w: request exceeds largest block", ErrOutOfMemory)

	// ErrInvalidFree indicates a pointer that does not name a live block of this heap.
	ErrInvalidFree = errors.New("buddy: invalid free")

	// ErrDoubleFree indicates a pointer whose block is already free.
	ErrDoubleFree = fmt.Errorf("%w: block already free", ErrInvalidFree)

	// ErrBadConfig indicates invalid order bounds or a region of the wrong size.
	ErrBadConfig = errors.New("buddy: bad config")

	// ErrCorrupt indicates a free list or header that violates heap invariants.
	ErrCorrupt = errors.New("buddy: heap corrupt")
)
