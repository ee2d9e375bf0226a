package buddy

// Allocator is the surface mm.System routes kmalloc/malloc style requests to.
//
// Implementations:
//   - Heap: binary buddy heap over a fixed region
type Allocator interface {
	// Alloc returns a payload pointer for at least size bytes, or an error
	// wrapping ErrOutOfMemory.
	Alloc(size uint32) (Ptr, error)

	// Free returns the block behind p to the heap. Free(Nil) is a no-op.
	Free(p Ptr) error

	// Bytes returns the payload slice of a live allocation.
	Bytes(p Ptr) ([]byte, error)

	// Capacity returns the total size of the backing region in bytes.
	Capacity() int

	// FreeCapacity returns the bytes currently held on the free lists.
	FreeCapacity() int

	// Contains reports whether p lies in the heap's address range.
	Contains(p Ptr) bool
}

var _ Allocator = (*Heap)(nil)
