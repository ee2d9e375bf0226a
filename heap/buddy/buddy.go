package buddy

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joshuapare/kheap/internal/buf"
)

// Heap is a binary buddy allocator over one fixed region.
type Heap struct {
	name     string
	tag      byte
	minOrder Order
	maxOrder Order
	base     uint32

	// mem is the whole region; len(mem) == 1<<maxOrder.
	mem []byte

	// lists[i] holds free blocks of order minOrder+i.
	lists []freeList

	// sem is a binary semaphore; every public method holds it end to end.
	sem *semaphore.Weighted

	profiling bool
	stats     Stats
}

// New builds a heap over mem, which must be exactly 2^cfg.MaxOrder bytes.
// The whole region starts out as one free block of order MaxOrder.
//
// Parameters:
//   - mem: the backing region; the heap owns it from here on
//   - cfg: order bounds, heap name and tag
func New(mem []byte, cfg Config) (*Heap, error) {
	switch {
	case cfg.MinOrder < MinimumOrder:
		return nil, fmt.Errorf("%w: min order %d below %d", ErrBadConfig, cfg.MinOrder, MinimumOrder)
	case cfg.MaxOrder > MaximumOrder:
		return nil, fmt.Errorf("%w: max order %d above %d", ErrBadConfig, cfg.MaxOrder, MaximumOrder)
	case cfg.MinOrder > cfg.MaxOrder:
		return nil, fmt.Errorf("%w: min order %d above max order %d", ErrBadConfig, cfg.MinOrder, cfg.MaxOrder)
	case len(mem) != cfg.MaxOrder.Size():
		return nil, fmt.Errorf("%w: region is %d bytes, max order %d needs %d",
			ErrBadConfig, len(mem), cfg.MaxOrder, cfg.MaxOrder.Size())
	case cfg.Base&uint32(cfg.MaxOrder.Size()-1) != 0:
		return nil, fmt.Errorf("%w: base %#x not aligned to region size %d", ErrBadConfig, cfg.Base, len(mem))
	case uint64(cfg.Base)+uint64(len(mem)) > 1<<32:
		return nil, fmt.Errorf("%w: region at %#x runs past the address space", ErrBadConfig, cfg.Base)
	}

	name := cfg.Name
	if name == "" {
		name = "heap"
	}

	h := &Heap{
		name:      name,
		tag:       cfg.Tag,
		minOrder:  cfg.MinOrder,
		maxOrder:  cfg.MaxOrder,
		base:      cfg.Base,
		mem:       mem,
		lists:     make([]freeList, cfg.MaxOrder-cfg.MinOrder+1),
		sem:       semaphore.NewWeighted(1),
		profiling: cfg.Profiling,
	}
	for i := range h.lists {
		h.lists[i].head = noBlock
	}
	h.push(h.maxOrder, 0)

	return h, nil
}

// lock blocks until the heap semaphore is held. A background context is never
// done, so Acquire only returns once the semaphore is ours.
func (h *Heap) lock() {
	_ = h.sem.Acquire(context.Background(), 1)
}

func (h *Heap) unlock() {
	h.sem.Release(1)
}

// Name returns the heap name.
func (h *Heap) Name() string { return h.name }

// MinOrder returns the smallest block order.
func (h *Heap) MinOrder() Order { return h.minOrder }

// MaxOrder returns the order of the whole region.
func (h *Heap) MaxOrder() Order { return h.maxOrder }

// Base returns the address the region is placed at.
func (h *Heap) Base() uint32 { return h.base }

// Contains reports whether p falls inside this heap's address range. It says
// nothing about whether p is a live allocation.
func (h *Heap) Contains(p Ptr) bool {
	return uint32(p) >= h.base && uint64(p) < uint64(h.base)+uint64(len(h.mem))
}

// MaxRequest returns the largest size Alloc can satisfy on a pristine heap.
func (h *Heap) MaxRequest() uint32 { return MaxRequest(h.maxOrder) }

// Capacity returns the total size of the backing region in bytes.
func (h *Heap) Capacity() int { return len(h.mem) }

// Alloc returns a payload pointer for at least size bytes.
// A zero size yields a block of order MinOrder.
func (h *Heap) Alloc(size uint32) (Ptr, error) {
	h.lock()
	defer h.unlock()

	if h.profiling {
		start := time.Now()
		defer func() {
			d := time.Since(start)
			h.stats.LastAllocTime = d
			h.stats.AllocTime += d
		}()
	}

	h.stats.AllocCalls++

	target, err := OrderFor(size, h.minOrder, h.maxOrder)
	if err != nil {
		h.stats.Failures++
		return Nil, err
	}

	// Smallest non-empty list at or above target.
	k := target
	for k <= h.maxOrder && h.list(k).head == noBlock {
		k++
	}
	if k > h.maxOrder {
		h.stats.Failures++
		return Nil, fmt.Errorf("%w: no free block of order %d or above in %s heap", ErrOutOfMemory, target, h.name)
	}

	off, _ := h.pop(k)
	for k > target {
		k--
		h.push(k, off+uint32(k.Size()))
		h.stats.Splits++
	}

	h.writeHeader(off, header{order: target, state: stateAllocated, tag: h.tag})
	h.stats.InUseBlocks++
	h.stats.BytesInUse += target.Size()

	return h.ptrOf(off), nil
}

// Free returns the block behind p to the heap, merging it with free buddies.
// Free(Nil) is a no-op. Pointers that do not name a live block of this heap
// are rejected with ErrInvalidFree and leave the heap untouched.
func (h *Heap) Free(p Ptr) error {
	if p == Nil {
		return nil
	}

	h.lock()
	defer h.unlock()

	h.stats.FreeCalls++

	off, hd, err := h.lookupAllocated(p)
	if err != nil {
		h.stats.InvalidFrees++
		return err
	}

	o := hd.order
	h.stats.InUseBlocks--
	h.stats.BytesInUse -= o.Size()

	// Mark the header free before merging: if this block ends up as the upper
	// half of a merged block, a repeated Free of p still reads "free".
	h.writeHeader(off, header{order: o, state: stateFree, tag: h.tag})

	for o < h.maxOrder {
		bud := off ^ uint32(o.Size())
		if !h.isFreeAt(bud, o) || !h.unlink(o, bud) {
			break
		}
		h.stats.Merges++
		off = min(off, bud)
		o++
	}
	h.push(o, off)

	return nil
}

// Bytes returns the payload of the live allocation p. The slice covers the
// whole block past the header and its capacity stops at the block end.
func (h *Heap) Bytes(p Ptr) ([]byte, error) {
	h.lock()
	defer h.unlock()

	off, hd, err := h.lookupAllocated(p)
	if err != nil {
		return nil, err
	}
	b, ok := buf.Slice(h.mem, int(off)+HeaderSize, hd.order.Size()-HeaderSize)
	if !ok {
		return nil, fmt.Errorf("%w: payload of %#x outside region", ErrInvalidFree, uint32(p))
	}
	return b, nil
}

// BlockSize returns the usable payload size of the live allocation p.
func (h *Heap) BlockSize(p Ptr) (int, error) {
	h.lock()
	defer h.unlock()

	_, hd, err := h.lookupAllocated(p)
	if err != nil {
		return 0, err
	}
	return hd.order.Size() - HeaderSize, nil
}

// FreeCapacity returns the bytes currently held on the free lists.
func (h *Heap) FreeCapacity() int {
	h.lock()
	defer h.unlock()
	return h.freeBytes()
}

// FreeBlocks returns the number of free blocks at each order, MinOrder first.
func (h *Heap) FreeBlocks() []OrderCount {
	h.lock()
	defer h.unlock()

	out := make([]OrderCount, len(h.lists))
	for i := range h.lists {
		out[i] = OrderCount{Order: h.minOrder + Order(i), Count: h.lists[i].count}
	}
	return out
}

// Stats returns a snapshot of the heap counters.
func (h *Heap) Stats() Stats {
	h.lock()
	defer h.unlock()
	return h.stats
}

// ptrOf converts a block offset into the payload address handed to callers.
func (h *Heap) ptrOf(off uint32) Ptr {
	return Ptr(h.base + off + HeaderSize)
}

// lookupAllocated recovers the block behind p and validates it. This is the
// only place a caller pointer is turned back into a header location.
func (h *Heap) lookupAllocated(p Ptr) (uint32, header, error) {
	if !h.Contains(p) || uint32(p)-h.base < HeaderSize {
		return 0, header{}, fmt.Errorf("%w: pointer %#x outside %s heap", ErrInvalidFree, uint32(p), h.name)
	}
	off := uint32(p) - h.base - HeaderSize
	if off&uint32(h.minOrder.Size()-1) != 0 {
		return 0, header{}, fmt.Errorf("%w: pointer %#x not block aligned", ErrInvalidFree, uint32(p))
	}

	hd, ok := h.readHeader(off)
	switch {
	case !ok:
		return 0, header{}, fmt.Errorf("%w: corrupt header at %#x", ErrInvalidFree, off)
	case hd.tag != h.tag:
		return 0, header{}, fmt.Errorf("%w: block at %#x belongs to another heap", ErrInvalidFree, off)
	case hd.state == stateFree:
		return 0, header{}, fmt.Errorf("%w: %#x", ErrDoubleFree, uint32(p))
	case hd.state != stateAllocated:
		return 0, header{}, fmt.Errorf("%w: bad state %#x at %#x", ErrInvalidFree, hd.state, off)
	case hd.order < h.minOrder || hd.order > h.maxOrder:
		return 0, header{}, fmt.Errorf("%w: order %d out of range at %#x", ErrInvalidFree, hd.order, off)
	case off&uint32(hd.order.Size()-1) != 0:
		return 0, header{}, fmt.Errorf("%w: block at %#x misaligned for order %d", ErrInvalidFree, off, hd.order)
	}

	// The header below p may be payload bytes shaped like a header. A live
	// block of a larger order starting at an aligned offset below off owns them.
	for j := hd.order + 1; j <= h.maxOrder; j++ {
		anc := off &^ uint32(j.Size()-1)
		if anc == off {
			continue
		}
		if ahd, ok := h.readHeader(anc); ok && ahd.tag == h.tag && ahd.state == stateAllocated && ahd.order == j {
			return 0, header{}, fmt.Errorf("%w: pointer %#x is inside the block at %#x", ErrInvalidFree, uint32(p), anc)
		}
	}
	return off, hd, nil
}

// isFreeAt reports whether the header at off describes a free block of order o
// belonging to this heap.
func (h *Heap) isFreeAt(off uint32, o Order) bool {
	hd, ok := h.readHeader(off)
	return ok && hd.state == stateFree && hd.order == o && hd.tag == h.tag
}
