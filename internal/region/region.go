// Package region provides the fixed backing spans that buddy heaps carve up.
//
// A Region is sized once at bring-up and never grows. On unix hosts the span
// is an anonymous private mapping so that it lives outside the Go heap, the
// way a linker-placed RAM section lives outside any allocator; elsewhere it
// falls back to an ordinary byte slice.
package region

import (
	"errors"
	"fmt"
)

// Backing selects where a region's bytes come from.
type Backing string

const (
	// BackingMmap maps anonymous memory. Falls back to BackingGo on hosts without mmap.
	BackingMmap Backing = "mmap"
	// BackingGo allocates the span on the Go heap.
	BackingGo Backing = "go"
)

var (
	// ErrBadSize indicates a non-positive or non power-of-two region size.
	ErrBadSize = errors.New("region: size must be a positive power of two")

	// ErrBadBacking indicates an unknown backing kind.
	ErrBadBacking = errors.New("region: unknown backing")

	// ErrClosed indicates use of a region after Close.
	ErrClosed = errors.New("region: closed")
)

// Region is a fixed span of memory owned by exactly one heap.
type Region struct {
	name    string
	backing Backing
	data    []byte
	release func() error
}

// New creates a zeroed region of size bytes.
func New(name string, size int, backing Backing) (*Region, error) {
	if size <= 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	if backing == "" {
		backing = BackingMmap
	}

	var (
		data    []byte
		release func() error
		err     error
	)
	switch backing {
	case BackingMmap:
		data, release, err = mapAnon(size)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", name, err)
		}
		if release == nil {
			backing = BackingGo
		}
	case BackingGo:
		data = make([]byte, size)
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadBacking, backing)
	}
	if release == nil {
		release = func() error { return nil }
	}

	return &Region{name: name, backing: backing, data: data, release: release}, nil
}

// Name returns the region's name.
func (r *Region) Name() string { return r.name }

// Backing reports where the region's bytes actually live.
func (r *Region) Backing() Backing { return r.backing }

// Size returns the region size in bytes, or 0 after Close.
func (r *Region) Size() int { return len(r.data) }

// Bytes returns the region span. The slice is invalid after Close.
func (r *Region) Bytes() []byte { return r.data }

// Close releases the backing memory. Closing twice returns ErrClosed.
func (r *Region) Close() error {
	if r.data == nil {
		return ErrClosed
	}
	r.data = nil
	return r.release()
}
