package buddy

import "time"

// Order is the base-two logarithm of a block size.
type Order uint8

// Size returns the block size in bytes for order o.
func (o Order) Size() int { return 1 << o }

// Ptr is the address of an allocation's payload: the heap's base address plus
// the block's region offset plus HeaderSize.
type Ptr uint32

// Nil is the null pointer. No payload starts at address 0.
const Nil Ptr = 0

const (
	// HeaderSize is the number of bytes at the start of each block reserved for its header.
	HeaderSize = 4

	// MinimumOrder is the smallest MinOrder a heap accepts: a free block must hold
	// its header plus the 4-byte next link.
	MinimumOrder Order = 3

	// MaximumOrder is the largest MaxOrder a heap accepts. Block sizes stay
	// within int on 32-bit hosts and offsets stay clear of the list terminator.
	MaximumOrder Order = 30
)

// Config describes one heap instance.
type Config struct {
	// Name identifies the heap in stats and metrics ("kernel", "user").
	Name string

	// MinOrder bounds the smallest block; MaxOrder is the whole region.
	MinOrder Order
	MaxOrder Order

	// Base is the address the region is placed at. It must be a multiple of
	// the region size, and the region must end at or below 1<<32.
	Base uint32

	// Tag is stamped into every header so pointers from another heap are rejected.
	Tag byte

	// Profiling records Alloc latency in Stats.
	Profiling bool
}

// Stats holds heap counters. All values are snapshots taken under the heap lock.
type Stats struct {
	AllocCalls   uint64 // Alloc calls, successful or not
	FreeCalls    uint64 // Free calls with a non-nil pointer
	Failures     uint64 // Alloc calls that returned an error
	InvalidFrees uint64 // Free calls rejected by validation
	Splits       uint64 // block splits performed by Alloc
	Merges       uint64 // buddy merges performed by Free

	InUseBlocks int // live allocations
	BytesInUse  int // block bytes (headers included) held by live allocations

	// Populated only when Config.Profiling is set.
	AllocTime     time.Duration // cumulative time spent in Alloc
	LastAllocTime time.Duration // duration of the most recent Alloc
}

// OrderCount is the number of free blocks held at one order.
type OrderCount struct {
	Order Order
	Count int
}

// Bytes returns the free bytes represented by c.
func (c OrderCount) Bytes() int { return c.Count * c.Order.Size() }
