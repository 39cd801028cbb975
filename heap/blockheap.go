package heap

import (
	"container/list"

	"github.com/cafeos/coreinit/guestmem"
)

// blockRecord tracks one span of a BlockHeap, free or used. The original
// draws these records from a fixed external pool rather than allocating
// them from the block heap's own memory; this package
// models that pool as a bounded free-list of *blockRecord so BlockHeap
// construction can fail fast ("require enough tracking blocks") instead
// of allocating unboundedly.
type blockRecord struct {
	addr guestmem.Addr
	size uint32
	used bool
	elem *list.Element
}

// BlockHeap is a span-based allocator over an address-ordered list of
// blockRecords.
type BlockHeap struct {
	Header

	blocks list.List // of *blockRecord, address ascending
	pool   []*blockRecord
}

// NewBlockHeap carves [base, base+size) into one free block, reserving
// trackingCapacity spare blockRecords for future splits.
func NewBlockHeap(base guestmem.Addr, size uint32, trackingCapacity int, flags Flag) *BlockHeap {
	h := &BlockHeap{Header: Header{Tag: 0x424c4b48, Base: base, Size: size, Flags: flags}}
	for i := 0; i < trackingCapacity; i++ {
		h.pool = append(h.pool, &blockRecord{})
	}
	root := &blockRecord{addr: base, size: size}
	root.elem = h.blocks.PushBack(root)
	return h
}

func (h *BlockHeap) takeRecord() *blockRecord {
	if len(h.pool) == 0 {
		return nil
	}
	r := h.pool[len(h.pool)-1]
	h.pool = h.pool[:len(h.pool)-1]
	return r
}

func (h *BlockHeap) returnRecord(r *blockRecord) {
	*r = blockRecord{}
	h.pool = append(h.pool, r)
}

// AllocAt implements OSAllocFromBlockHeapAt: pins the
// allocation at a specific address. Searches from whichever list end is
// closer to addr.
func (h *BlockHeap) AllocAt(addr guestmem.Addr, size uint32) bool {
	target := h.findContaining(addr)
	if target == nil {
		return false
	}
	block := target.Value.(*blockRecord)
	if block.used || addr+guestmem.Addr(size) > block.addr+guestmem.Addr(block.size) {
		return false
	}
	headWaste := uint32(addr - block.addr)
	tailWaste := block.size - headWaste - size
	needed := 0
	if headWaste > 0 {
		needed++
	}
	if tailWaste > 0 {
		needed++
	}
	if len(h.pool) < needed {
		return false
	}

	if headWaste > 0 {
		head := h.takeRecord()
		head.addr = block.addr
		head.size = headWaste
		head.elem = h.blocks.InsertBefore(head, target)
	}
	if tailWaste > 0 {
		tail := h.takeRecord()
		tail.addr = addr + guestmem.Addr(size)
		tail.size = tailWaste
		tail.elem = h.blocks.InsertAfter(tail, target)
	}
	block.addr = addr
	block.size = size
	block.used = true
	return true
}

// findContaining walks the block list, starting from whichever end is
// nearer ptr, for the span that contains it.
func (h *BlockHeap) findContaining(ptr guestmem.Addr) *list.Element {
	mid := h.Base + guestmem.Addr(h.Size/2)
	if ptr < mid {
		for e := h.blocks.Front(); e != nil; e = e.Next() {
			b := e.Value.(*blockRecord)
			if ptr >= b.addr && ptr < b.addr+guestmem.Addr(b.size) {
				return e
			}
		}
		return nil
	}
	for e := h.blocks.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*blockRecord)
		if ptr >= b.addr && ptr < b.addr+guestmem.Addr(b.size) {
			return e
		}
	}
	return nil
}

// AllocEx implements OSAllocFromBlockHeapEx: first-fit scan, front-to-back
// for align >= 0 and back-to-front for align < 0.
func (h *BlockHeap) AllocEx(size uint32, align int32) guestmem.Addr {
	fromBack := align < 0

	scan := func(e *list.Element) *list.Element { return e.Next() }
	start := h.blocks.Front()
	if fromBack {
		scan = func(e *list.Element) *list.Element { return e.Prev() }
		start = h.blocks.Back()
	}

	for e := start; e != nil; e = scan(e) {
		b := e.Value.(*blockRecord)
		if b.used || b.size < size {
			continue
		}
		var needed int
		var headWaste, tailWaste uint32
		var addr guestmem.Addr
		if fromBack {
			addr = b.addr + guestmem.Addr(b.size-size)
			tailWaste = 0
			headWaste = b.size - size
		} else {
			addr = b.addr
			headWaste = 0
			tailWaste = b.size - size
		}
		if headWaste > 0 {
			needed++
		}
		if tailWaste > 0 {
			needed++
		}
		if len(h.pool) < needed {
			continue
		}
		if headWaste > 0 {
			rec := h.takeRecord()
			rec.addr = b.addr
			rec.size = headWaste
			rec.elem = h.blocks.InsertBefore(rec, e)
		}
		if tailWaste > 0 {
			rec := h.takeRecord()
			rec.addr = addr + guestmem.Addr(size)
			rec.size = tailWaste
			rec.elem = h.blocks.InsertAfter(rec, e)
		}
		b.addr = addr
		b.size = size
		b.used = true
		return addr
	}
	return guestmem.Null
}

// Free implements OSFreeToBlockHeap: marks the owning block free and
// coalesces with free neighbours, returning any absorbed block's record
// to the tracking pool.
func (h *BlockHeap) Free(addr guestmem.Addr) {
	var target *list.Element
	for e := h.blocks.Front(); e != nil; e = e.Next() {
		if e.Value.(*blockRecord).addr == addr {
			target = e
			break
		}
	}
	if target == nil {
		return
	}
	block := target.Value.(*blockRecord)
	block.used = false

	if next := target.Next(); next != nil {
		nb := next.Value.(*blockRecord)
		if !nb.used {
			block.size += nb.size
			h.blocks.Remove(next)
			h.returnRecord(nb)
		}
	}
	if prev := target.Prev(); prev != nil {
		pb := prev.Value.(*blockRecord)
		if !pb.used {
			pb.size += block.size
			h.blocks.Remove(target)
			h.returnRecord(block)
		}
	}
}
