package mm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joshuapare/kheap/heap/buddy"
	"github.com/joshuapare/kheap/internal/config"
	"github.com/joshuapare/kheap/internal/logger"
	"github.com/joshuapare/kheap/internal/region"
)

// Selector names one of the two heaps.
type Selector int

const (
	Kernel Selector = iota
	User
)

// Header tags stamped by each heap.
const (
	KernelTag byte = 'K'
	UserTag   byte = 'U'
)

var (
	// ErrUnknownHeap indicates a Selector other than Kernel or User.
	ErrUnknownHeap = errors.New("mm: unknown heap")

	// ErrWrongHeap indicates a pointer handed to the heap that did not allocate it.
	ErrWrongHeap = fmt.Errorf("%w: pointer belongs to the other heap", buddy.ErrInvalidFree)
)

func (s Selector) String() string {
	switch s {
	case Kernel:
		return "kernel"
	case User:
		return "user"
	}
	return fmt.Sprintf("Selector(%d)", int(s))
}

// ParseSelector accepts "kernel"/"k" and "user"/"u".
func ParseSelector(name string) (Selector, error) {
	switch strings.ToLower(name) {
	case "kernel", "k":
		return Kernel, nil
	case "user", "u":
		return User, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownHeap, name)
}

// System owns the kernel and user heaps and their regions.
type System struct {
	layout  config.Layout
	heaps   [2]*buddy.Heap
	regions [2]*region.Region
}

// New maps both regions and builds a heap over each.
func New(layout config.Layout) (*System, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	s := &System{layout: layout}
	specs := []struct {
		sel Selector
		hl  config.HeapLayout
		tag byte
	}{
		{Kernel, layout.Kernel, KernelTag},
		{User, layout.User, UserTag},
	}
	for _, spec := range specs {
		r, err := region.New(spec.sel.String(), spec.hl.Size(), spec.hl.Backing)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("mm: %s region: %w", spec.sel, err)
		}
		s.regions[spec.sel] = r

		h, err := buddy.New(r.Bytes(), buddy.Config{
			Name:      spec.sel.String(),
			MinOrder:  buddy.Order(spec.hl.MinOrder),
			MaxOrder:  buddy.Order(spec.hl.MaxOrder),
			Base:      spec.hl.Base,
			Tag:       spec.tag,
			Profiling: layout.Profiling,
		})
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("mm: %s heap: %w", spec.sel, err)
		}
		s.heaps[spec.sel] = h

		logger.Info("heap initialised",
			"heap", spec.sel.String(),
			"base", fmt.Sprintf("%#x", spec.hl.Base),
			"capacity", h.Capacity(),
			"min_order", spec.hl.MinOrder,
			"max_order", spec.hl.MaxOrder,
			"backing", string(r.Backing()),
		)
	}
	return s, nil
}

func (s *System) heap(sel Selector) (buddy.Allocator, error) {
	if sel != Kernel && sel != User {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHeap, int(sel))
	}
	return s.heaps[sel], nil
}

// Heap returns the heap behind sel, or nil for an unknown selector.
func (s *System) Heap(sel Selector) *buddy.Heap {
	if sel != Kernel && sel != User {
		return nil
	}
	return s.heaps[sel]
}

// Heaps returns the kernel and user heaps, in that order.
func (s *System) Heaps() []*buddy.Heap {
	return []*buddy.Heap{s.heaps[Kernel], s.heaps[User]}
}

// Layout returns the layout the system was built from.
func (s *System) Layout() config.Layout { return s.layout }

// Alloc allocates size bytes from the selected heap.
func (s *System) Alloc(sel Selector, size uint32) (buddy.Ptr, error) {
	h, err := s.heap(sel)
	if err != nil {
		return buddy.Nil, err
	}
	return h.Alloc(size)
}

// Free releases p to the selected heap. Freeing Nil is a no-op; freeing a
// pointer that lies in the other heap returns ErrWrongHeap.
func (s *System) Free(sel Selector, p buddy.Ptr) error {
	if p == buddy.Nil {
		return nil
	}
	h, err := s.heap(sel)
	if err != nil {
		return err
	}
	if other := s.heaps[1-sel]; !h.Contains(p) && other.Contains(p) {
		return fmt.Errorf("%w: %#x freed to %s heap", ErrWrongHeap, uint32(p), sel)
	}
	return h.Free(p)
}

// Bytes returns the payload of a live allocation on the selected heap.
func (s *System) Bytes(sel Selector, p buddy.Ptr) ([]byte, error) {
	h, err := s.heap(sel)
	if err != nil {
		return nil, err
	}
	return h.Bytes(p)
}

// Capacity returns the configured size of the selected heap, 0 if unknown.
func (s *System) Capacity(sel Selector) int {
	h, err := s.heap(sel)
	if err != nil {
		return 0
	}
	return h.Capacity()
}

// FreeCapacity returns the free bytes of the selected heap, 0 if unknown.
func (s *System) FreeCapacity(sel Selector) int {
	h, err := s.heap(sel)
	if err != nil {
		return 0
	}
	return h.FreeCapacity()
}

// Close releases both regions. The System must not be used afterwards.
func (s *System) Close() error {
	var errs []error
	for i, r := range s.regions {
		if r == nil {
			continue
		}
		errs = append(errs, r.Close())
		s.regions[i] = nil
	}
	return errors.Join(errs...)
}
