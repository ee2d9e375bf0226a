package buddy

import (
	"fmt"

	"github.com/joshuapare/kheap/internal/buf"
)

// Check walks the heap and verifies its invariants:
//   - every free-list node is in range, aligned to its order and stamped free
//     at that order, and appears on exactly one list
//   - list counts match the nodes actually linked
//   - the headers tile the region exactly, block after block
//   - every free block met while tiling is on its list
//   - no two free buddies of the same order were left unmerged
//
// Check is meant for tests and diagnostics; it is O(region / 2^MinOrder).
func (h *Heap) Check() error {
	h.lock()
	defer h.unlock()

	onList := make(map[uint32]Order)
	for i := range h.lists {
		o := h.minOrder + Order(i)
		l := &h.lists[i]
		n := 0
		for cur := l.head; cur != noBlock; cur = h.nextOf(cur) {
			if n == l.count {
				return fmt.Errorf("%w: order %d list longer than its count %d", ErrCorrupt, o, l.count)
			}
			n++
			if !buf.Has(h.mem, int(cur), o.Size()) {
				return fmt.Errorf("%w: order %d node %#x outside region", ErrCorrupt, o, cur)
			}
			if cur&uint32(o.Size()-1) != 0 {
				return fmt.Errorf("%w: order %d node %#x misaligned", ErrCorrupt, o, cur)
			}
			if !h.isFreeAt(cur, o) {
				return fmt.Errorf("%w: order %d node %#x header not free at that order", ErrCorrupt, o, cur)
			}
			if prev, dup := onList[cur]; dup {
				return fmt.Errorf("%w: node %#x linked at orders %d and %d", ErrCorrupt, cur, prev, o)
			}
			onList[cur] = o
		}
		if n != l.count {
			return fmt.Errorf("%w: order %d list has %d nodes, count says %d", ErrCorrupt, o, n, l.count)
		}
	}

	seen := 0
	for off := 0; off < len(h.mem); {
		hd, ok := h.readHeader(uint32(off))
		if !ok || hd.tag != h.tag {
			return fmt.Errorf("%w: unreadable header at %#x", ErrCorrupt, off)
		}
		if hd.order < h.minOrder || hd.order > h.maxOrder {
			return fmt.Errorf("%w: order %d out of range at %#x", ErrCorrupt, hd.order, off)
		}
		size := hd.order.Size()
		if off&(size-1) != 0 || !buf.Has(h.mem, off, size) {
			return fmt.Errorf("%w: order %d block at %#x breaks tiling", ErrCorrupt, hd.order, off)
		}

		switch hd.state {
		case stateFree:
			if o, listed := onList[uint32(off)]; !listed || o != hd.order {
				return fmt.Errorf("%w: free block at %#x (order %d) not on its list", ErrCorrupt, off, hd.order)
			}
			seen++
			if hd.order < h.maxOrder {
				bud := uint32(off) ^ uint32(size)
				if o, listed := onList[bud]; listed && o == hd.order {
					return fmt.Errorf("%w: free buddies %#x and %#x at order %d not merged", ErrCorrupt, off, bud, hd.order)
				}
			}
		case stateAllocated:
		default:
			return fmt.Errorf("%w: bad state %#x at %#x", ErrCorrupt, hd.state, off)
		}
		off += size
	}

	if seen != len(onList) {
		return fmt.Errorf("%w: %d listed free blocks, %d reachable by tiling", ErrCorrupt, len(onList), seen)
	}
	return nil
}
