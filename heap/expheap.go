package heap

import (
	"container/list"

	"github.com/cafeos/coreinit/guestmem"
)

// AllocMode selects how ExpHeap searches its free list.
type AllocMode int

const (
	FirstFit AllocMode = iota
	BestFit
)

// minFreeSpan is the smallest span worth keeping as its own free-list
// entry; alignment waste smaller than this stays bundled inside the
// allocation instead of being split out — only worth keeping if each
// half would itself form a block larger than a header plus a few bytes.
const minFreeSpan = 16

func alignUp(v guestmem.Addr, align uint32) guestmem.Addr {
	if align <= 1 {
		return v
	}
	a := guestmem.Addr(align)
	return (v + a - 1) / a * a
}

func alignDown(v guestmem.Addr, align uint32) guestmem.Addr {
	if align <= 1 {
		return v
	}
	a := guestmem.Addr(align)
	return v / a * a
}

func roundUp4(n uint32) uint32 { return (n + 3) &^ 3 }

type expSpan struct {
	addr guestmem.Addr
	size uint32
	elem *list.Element

	// used-span bookkeeping: waste kept bundled at each end rather than
	// split back into the free list, so Free can reconstruct memStart.
	headWaste uint32
	tailWaste uint32
	group     int16
}

// ExpHeap is the expanded heap: an address-ordered free list and a used
// list kept in allocation order, supporting first/best-fit allocation with
// alignment from either end.
type ExpHeap struct {
	Header

	mode            AllocMode
	reuseAlignSpace bool

	free list.List // of *expSpan, address ascending
	used list.List // of *expSpan
}

// NewExpHeap carves out a heap spanning [base, base+size) in FirstFit
// mode with a single free span covering the whole region.
func NewExpHeap(base guestmem.Addr, size uint32, flags Flag) *ExpHeap {
	h := &ExpHeap{Header: Header{Tag: 0x45585048, Base: base, Size: size, Flags: flags}}
	h.free.Init()
	h.used.Init()
	h.free.PushBack(&expSpan{addr: base, size: size})
	return h
}

// SetMode implements OSSetAllocModeForExpHeap.
func (h *ExpHeap) SetMode(mode AllocMode) { h.mode = mode }

// SetReuseAlignSpace implements OSSetReuseAlignSpaceForExpHeap.
func (h *ExpHeap) SetReuseAlignSpace(reuse bool) { h.reuseAlignSpace = reuse }

// Alloc implements OSAllocFromExpHeapEx. align >= 0 aligns the allocation's start from the front
// of a candidate free span; align < 0 aligns its end from the back.
// Returns guestmem.Null on heap exhaustion; never leaves the heap
// corrupted.
func (h *ExpHeap) Alloc(size uint32, align int32, group int16) guestmem.Addr {
	size = roundUp4(size)
	fromBack := align < 0
	alignment := uint32(align)
	if fromBack {
		alignment = uint32(-align)
	}
	if alignment == 0 {
		alignment = 4
	}

	var best *list.Element

	for e := h.free.Front(); e != nil; e = e.Next() {
		span := e.Value.(*expSpan)
		if _, ok := candidateStart(span, size, alignment, fromBack); !ok {
			continue
		}
		switch h.mode {
		case FirstFit:
			best = e
		case BestFit:
			if best == nil || span.size < best.Value.(*expSpan).size {
				best = e
			}
		}
		if h.mode == FirstFit {
			break
		}
	}
	if best == nil {
		return guestmem.Null
	}

	span := best.Value.(*expSpan)
	start, _ := candidateStart(span, size, alignment, fromBack)
	headWaste := uint32(start - span.addr)
	tailWaste := uint32((span.addr + guestmem.Addr(span.size)) - (start + guestmem.Addr(size)))

	h.free.Remove(best)

	if headWaste > 0 {
		if !h.reuseAlignSpace && headWaste >= minFreeSpan {
			h.insertFree(&expSpan{addr: span.addr, size: headWaste})
			headWaste = 0
		}
	}
	if tailWaste > 0 {
		if !h.reuseAlignSpace && tailWaste >= minFreeSpan {
			h.insertFree(&expSpan{addr: start + guestmem.Addr(size), size: tailWaste})
			tailWaste = 0
		}
	}

	used := &expSpan{addr: start, size: size, headWaste: headWaste, tailWaste: tailWaste, group: group}
	used.elem = h.used.PushBack(used)

	if h.Flags&ZeroAllocated != 0 {
		// zero-fill is the caller's guestmem.Space concern; this package
		// only tracks address ranges, not the backing bytes.
		_ = used
	}

	return start
}

// candidateStart computes where an allocation of size would begin inside
// span for the given alignment/direction, reporting whether it fits.
func candidateStart(span *expSpan, size, alignment uint32, fromBack bool) (guestmem.Addr, bool) {
	if fromBack {
		end := alignDown(span.addr+guestmem.Addr(span.size)-guestmem.Addr(size), alignment)
		start := end
		if start < span.addr {
			return 0, false
		}
		return start, true
	}
	start := alignUp(span.addr, alignment)
	if start+guestmem.Addr(size) > span.addr+guestmem.Addr(span.size) {
		return 0, false
	}
	return start, true
}

func (h *ExpHeap) insertFree(s *expSpan) {
	for e := h.free.Front(); e != nil; e = e.Next() {
		if e.Value.(*expSpan).addr > s.addr {
			s.elem = h.free.InsertBefore(s, e)
			return
		}
	}
	s.elem = h.free.PushBack(s)
}

// Free implements OSFreeToExpHeap:
// reconstructs the original [memStart, memEnd) span from the used
// record's bundled waste, then coalesces with address-adjacent free
// neighbours.
func (h *ExpHeap) Free(addr guestmem.Addr) {
	var target *list.Element
	for e := h.used.Front(); e != nil; e = e.Next() {
		if e.Value.(*expSpan).addr == addr {
			target = e
			break
		}
	}
	if target == nil {
		return
	}
	span := target.Value.(*expSpan)
	memStart := span.addr - guestmem.Addr(span.headWaste)
	memEnd := span.addr + guestmem.Addr(span.size) + guestmem.Addr(span.tailWaste)
	h.used.Remove(target)

	var pred *list.Element
	for e := h.free.Front(); e != nil; e = e.Next() {
		if e.Value.(*expSpan).addr > memStart {
			break
		}
		pred = e
	}

	if pred != nil {
		ps := pred.Value.(*expSpan)
		if ps.addr+guestmem.Addr(ps.size) == memStart {
			ps.size += uint32(memEnd - memStart)
			h.coalesceForward(pred)
			return
		}
	}

	fresh := &expSpan{addr: memStart, size: uint32(memEnd - memStart)}
	if pred == nil {
		fresh.elem = h.free.PushFront(fresh)
	} else {
		fresh.elem = h.free.InsertAfter(fresh, pred)
	}
	h.coalesceForward(fresh.elem)
}

// coalesceForward merges e with its immediate successor if they are
// address-adjacent.
func (h *ExpHeap) coalesceForward(e *list.Element) {
	next := e.Next()
	if next == nil {
		return
	}
	s := e.Value.(*expSpan)
	ns := next.Value.(*expSpan)
	if s.addr+guestmem.Addr(s.size) == ns.addr {
		s.size += ns.size
		h.free.Remove(next)
	}
}

// FreeSpanCount reports how many disjoint free spans remain, used by
// tests to assert the heap coalesces back to a single span.
func (h *ExpHeap) FreeSpanCount() int { return h.free.Len() }
