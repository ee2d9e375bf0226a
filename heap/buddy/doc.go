// Package buddy implements the binary buddy heap behind the kernel and user
// allocators.
//
// # Overview
//
// A Heap owns one fixed region of exactly 2^MaxOrder bytes. Every block in the
// region is a power of two in size, 2^MinOrder to 2^MaxOrder, and sits at an
// offset that is a multiple of its own size. Free blocks of each order are
// chained into an intrusive singly-linked list stored inside the blocks
// themselves, so bookkeeping costs no memory outside the region.
//
// # Block Header
//
// The first HeaderSize (4) bytes of every block hold its header:
//
//	byte 0  order
//	byte 1  state (free or allocated)
//	byte 2  heap tag
//	byte 3  check byte over bytes 0..2
//
// While a block is free, bytes 4..8 hold the region offset of the next free
// block of the same order. That is why MinOrder can not go below 3.
//
// # Pointers
//
// A heap is placed at a fixed Base address, the way a linker places a RAM
// section. Alloc returns a Ptr: Base plus the block offset plus HeaderSize,
// i.e. the address of the payload. Pointers outside [Base, Base+2^MaxOrder)
// are never this heap's. Nil (0) is never a payload address and Free(Nil) is
// a no-op.
//
// # Allocation
//
//	h, err := buddy.New(mem, buddy.Config{Name: "kernel", MinOrder: 4, MaxOrder: 15, Base: 0x20000000, Tag: 'K'})
//	if err != nil {
//	    return err
//	}
//
//	p, err := h.Alloc(100) // 104 bytes with header, served from a 128-byte block
//	if errors.Is(err, buddy.ErrOutOfMemory) {
//	    // back off
//	}
//
//	payload, _ := h.Bytes(p)
//	copy(payload, data)
//
//	_ = h.Free(p)
//
// Alloc picks the smallest order whose block holds the request plus header,
// takes the smallest free block at or above that order and splits it down,
// pushing each upper half onto the free list one order below. Free merges the
// block with its buddy (offset XOR size) for as long as the buddy is free at
// the same order, then publishes the result. An idle heap always converges
// back to a single free block of order MaxOrder.
//
// # Invalid Frees
//
// Free validates the pointer before touching any list. It must lie inside the
// heap's address range and be aligned. The header below it must be consistent,
// carry this heap's tag and be in the allocated state. It must not fall inside
// a larger live block. Violations return ErrInvalidFree (or ErrDoubleFree) and
// leave the heap unchanged.
//
// A Ptr carries no generation. Double frees are caught only while the block is
// still free: once Alloc hands the same block out again, a stale Free of the old
// pointer releases the new allocation, and its owner's own Free then reports
// ErrDoubleFree.
//
// # Thread Safety
//
// Each Heap carries its own blocking semaphore. Every public method holds it for
// its full duration, so split and merge sequences are atomic with respect to
// other callers of the same heap. Two heaps never contend with each other.
package buddy
