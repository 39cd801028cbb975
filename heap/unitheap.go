package heap

import "github.com/cafeos/coreinit/guestmem"

// unitNode is an intrusive singly linked free-list entry.
type unitNode struct {
	addr guestmem.Addr
	next *unitNode
}

// UnitHeap is a free list of fixed-size blocks.
type UnitHeap struct {
	Header

	blockSize uint32
	free      *unitNode
}

// NewUnitHeap carves size/blockSize fixed blocks out of [base, base+size).
func NewUnitHeap(base guestmem.Addr, size, blockSize uint32, flags Flag) *UnitHeap {
	h := &UnitHeap{Header: Header{Tag: 0x554e4948, Base: base, Size: size, Flags: flags}, blockSize: blockSize}
	count := size / blockSize
	for i := uint32(0); i < count; i++ {
		addr := base + guestmem.Addr(i*blockSize)
		h.free = &unitNode{addr: addr, next: h.free}
	}
	return h
}

// Alloc implements OSAllocFromUnitHeap: pop the free list's head.
func (h *UnitHeap) Alloc() guestmem.Addr {
	if h.free == nil {
		return guestmem.Null
	}
	n := h.free
	h.free = n.next
	return n.addr
}

// Free implements OSFreeToUnitHeap: push front.
func (h *UnitHeap) Free(addr guestmem.Addr) {
	h.free = &unitNode{addr: addr, next: h.free}
}

// BlockSize reports the heap's fixed block size.
func (h *UnitHeap) BlockSize() uint32 { return h.blockSize }
