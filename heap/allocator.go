package heap

import "github.com/cafeos/coreinit/guestmem"

// Allocator is the common facade coreinit_memallocator.h exposes over any
// concrete heap type, letting a single function pointer pair (alloc/free)
// be threaded through APIs that don't want to know which heap variant
// backs them.
type Allocator interface {
	Allocate(size uint32) guestmem.Addr
	Free(addr guestmem.Addr)
}

// ExpHeapAllocator adapts an ExpHeap to the Allocator facade using a
// fixed alignment and group.
type ExpHeapAllocator struct {
	Heap  *ExpHeap
	Align int32
	Group int16
}

func (a *ExpHeapAllocator) Allocate(size uint32) guestmem.Addr {
	return a.Heap.Alloc(size, a.Align, a.Group)
}

func (a *ExpHeapAllocator) Free(addr guestmem.Addr) { a.Heap.Free(addr) }

// FrmHeapAllocator adapts a FrmHeap. Free is a no-op per-allocation: frame
// heaps only release in bulk via Heap.Free(direction) or FreeByState.
type FrmHeapAllocator struct {
	Heap  *FrmHeap
	Align int32
}

func (a *FrmHeapAllocator) Allocate(size uint32) guestmem.Addr {
	return a.Heap.Alloc(size, a.Align)
}

func (a *FrmHeapAllocator) Free(guestmem.Addr) {}

// UnitHeapAllocator adapts a UnitHeap. Allocate ignores size, since a
// unit heap only ever hands out its fixed block size.
type UnitHeapAllocator struct {
	Heap *UnitHeap
}

func (a *UnitHeapAllocator) Allocate(uint32) guestmem.Addr { return a.Heap.Alloc() }

func (a *UnitHeapAllocator) Free(addr guestmem.Addr) { a.Heap.Free(addr) }

// BlockHeapAllocator adapts a BlockHeap's first-fit AllocEx.
type BlockHeapAllocator struct {
	Heap  *BlockHeap
	Align int32
}

func (a *BlockHeapAllocator) Allocate(size uint32) guestmem.Addr {
	return a.Heap.AllocEx(size, a.Align)
}

func (a *BlockHeapAllocator) Free(addr guestmem.Addr) { a.Heap.Free(addr) }
