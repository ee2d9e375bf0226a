package buddy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testBase uint32 = 0x20000000

// newTestHeap builds a heap over Go memory placed at testBase.
func newTestHeap(t testing.TB, minOrder, maxOrder Order) *Heap {
	t.Helper()
	return newTaggedHeap(t, "test", 'T', testBase, minOrder, maxOrder)
}

func newTaggedHeap(t testing.TB, name string, tag byte, base uint32, minOrder, maxOrder Order) *Heap {
	t.Helper()
	h, err := New(make([]byte, maxOrder.Size()), Config{
		Name:     name,
		MinOrder: minOrder,
		MaxOrder: maxOrder,
		Base:     base,
		Tag:      tag,
	})
	require.NoError(t, err)
	require.NoError(t, h.Check())
	return h
}

// blockOrder returns the order of the live block behind p.
func blockOrder(t testing.TB, h *Heap, p Ptr) Order {
	t.Helper()
	n, err := h.BlockSize(p)
	require.NoError(t, err)
	size := n + HeaderSize
	require.Equal(t, 0, size&(size-1), "block size %d is not a power of two", size)
	o := Order(0)
	for 1<<o < size {
		o++
	}
	return o
}

// freeCounts flattens FreeBlocks into order -> count.
func freeCounts(h *Heap) map[Order]int {
	out := make(map[Order]int)
	for _, c := range h.FreeBlocks() {
		if c.Count > 0 {
			out[c.Order] = c.Count
		}
	}
	return out
}

// requirePristine asserts the heap is back to one free block of MaxOrder.
func requirePristine(t testing.TB, h *Heap) {
	t.Helper()
	require.Equal(t, h.Capacity(), h.FreeCapacity())
	require.Equal(t, map[Order]int{h.MaxOrder(): 1}, freeCounts(h))
	require.Zero(t, h.Stats().InUseBlocks)
	require.NoError(t, h.Check())
}
