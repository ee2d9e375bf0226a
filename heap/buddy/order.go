package buddy

import (
	"fmt"
	"math/bits"
)

// OrderFor returns the smallest order in [minOrder, maxOrder] whose block holds
// size bytes of payload plus the header. Requests that no order can hold
// return ErrOversize.
func OrderFor(size uint32, minOrder, maxOrder Order) (Order, error) {
	need := uint64(size) + HeaderSize
	o := Order(bits.Len64(need - 1))
	if o < minOrder {
		o = minOrder
	}
	if o > maxOrder {
		return 0, fmt.Errorf("%w: %d bytes (+%d header) > %d", ErrOversize, size, HeaderSize, maxOrder.Size())
	}
	return o, nil
}

// MaxRequest returns the largest payload a single block of order maxOrder can hold.
func MaxRequest(maxOrder Order) uint32 {
	return uint32(maxOrder.Size() - HeaderSize)
}
