package buddy

import "math"

// noBlock terminates a free list. Region offsets never reach it.
const noBlock uint32 = math.MaxUint32

// freeList is the head of the intrusive chain of free blocks of one order.
type freeList struct {
	head  uint32
	count int
}

func (h *Heap) list(o Order) *freeList {
	return &h.lists[o-h.minOrder]
}

// push stamps the block at off as free at order o and links it at the head.
func (h *Heap) push(o Order, off uint32) {
	l := h.list(o)
	h.writeHeader(off, header{order: o, state: stateFree, tag: h.tag})
	h.setNext(off, l.head)
	l.head = off
	l.count++
}

// pop removes the head of the order-o list.
func (h *Heap) pop(o Order) (uint32, bool) {
	l := h.list(o)
	if l.head == noBlock {
		return 0, false
	}
	off := l.head
	l.head = h.nextOf(off)
	l.count--
	return off, true
}

// unlink removes the block at off from the order-o list. It reports false when
// the block is not on that list.
func (h *Heap) unlink(o Order, off uint32) bool {
	l := h.list(o)
	prev := noBlock
	for cur, steps := l.head, 0; cur != noBlock && steps < l.count; cur, steps = h.nextOf(cur), steps+1 {
		if cur != off {
			prev = cur
			continue
		}
		if prev == noBlock {
			l.head = h.nextOf(cur)
		} else {
			h.setNext(prev, h.nextOf(cur))
		}
		l.count--
		return true
	}
	return false
}

// freeBytes sums count * 2^order over every list.
func (h *Heap) freeBytes() int {
	total := 0
	for i := range h.lists {
		total += h.lists[i].count * (h.minOrder + Order(i)).Size()
	}
	return total
}
