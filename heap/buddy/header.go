package buddy

import "github.com/joshuapare/kheap/internal/buf"

const (
	stateFree      byte = 'F'
	stateAllocated byte = 'A'

	headerMagic byte = 0x5A

	// nextLinkOffset is where a free block keeps the offset of its successor.
	nextLinkOffset = HeaderSize
)

// header is the decoded form of the first HeaderSize bytes of a block.
type header struct {
	order Order
	state byte
	tag   byte
}

func (hd header) check() byte {
	return byte(hd.order) ^ hd.state ^ hd.tag ^ headerMagic
}

// readHeader decodes the header at off. ok is false when the header lies
// outside the region or its check byte does not match.
func (h *Heap) readHeader(off uint32) (header, bool) {
	b, ok := buf.Slice(h.mem, int(off), HeaderSize)
	if !ok {
		return header{}, false
	}
	hd := header{order: Order(b[0]), state: b[1], tag: b[2]}
	if b[3] != hd.check() {
		return header{}, false
	}
	return hd, true
}

func (h *Heap) writeHeader(off uint32, hd header) {
	b := h.mem[off : off+HeaderSize]
	b[0] = byte(hd.order)
	b[1] = hd.state
	b[2] = hd.tag
	b[3] = hd.check()
}

// nextOf reads the free-list link stored in the free block at off.
func (h *Heap) nextOf(off uint32) uint32 {
	b, _ := buf.Slice(h.mem, int(off)+nextLinkOffset, 4)
	return buf.U32LE(b)
}

func (h *Heap) setNext(off, next uint32) {
	b, _ := buf.Slice(h.mem, int(off)+nextLinkOffset, 4)
	buf.PutU32LE(b, next)
}
