// Package mm is the kernel's allocation façade.
//
// A System owns the two heaps of the kernel, each a buddy.Heap over its own
// fixed region:
//
//   - Kernel: kernel-internal allocations (drivers, kernel objects)
//   - User: application allocations
//
// The heaps share nothing. Each has its own semaphore, so a caller blocked on
// the kernel heap never holds up the user heap.
//
// # Default Instance
//
// Kernel code calls the package-level entry points, which route to a
// process-wide System built on first use:
//
//	p, err := mm.Kmalloc(64)
//	if err != nil {
//	    return err // errors.Is(err, buddy.ErrOutOfMemory)
//	}
//	defer mm.Kfree(p)
//
// InitHeap builds the default System from the layout named by KHEAP_CONFIG, or
// the board defaults. It runs once; later calls, and InitHeapWith, are no-ops
// that return the first outcome. Kmalloc, Malloc and friends call it lazily.
//
// # Introspection
//
// Space and KSpace report the free bytes of the user and kernel heap, summed
// over their free lists.
package mm
