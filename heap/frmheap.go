package heap

import "github.com/cafeos/coreinit/guestmem"

// FrameDirection selects which end of a FrmHeap Free targets.
type FrameDirection int

const (
	FrameHead FrameDirection = iota
	FrameTail
)

// frameSnapshot is one entry of the frame heap's singly linked
// state-snapshot stack.
type frameSnapshot struct {
	tag  uint32
	head guestmem.Addr
	tail guestmem.Addr
	prev *frameSnapshot
}

// FrmHeap is a two-ended bump allocator.
type FrmHeap struct {
	Header

	head guestmem.Addr
	tail guestmem.Addr

	top *frameSnapshot
}

// NewFrmHeap carves a frame heap spanning [base, base+size).
func NewFrmHeap(base guestmem.Addr, size uint32, flags Flag) *FrmHeap {
	h := &FrmHeap{Header: Header{Tag: 0x46524d48, Base: base, Size: size, Flags: flags}}
	h.head = base
	h.tail = base + guestmem.Addr(size)
	return h
}

// Alloc implements OSAllocFromFrmHeapEx. align >= 0 pushes from the head
// end, align < 0 from the tail end. Returns guestmem.Null on exhaustion.
func (h *FrmHeap) Alloc(size uint32, align int32) guestmem.Addr {
	if align < 0 {
		newTail := alignDown(h.tail-guestmem.Addr(size), uint32(-align))
		if newTail < h.head {
			return guestmem.Null
		}
		h.tail = newTail
		return h.tail
	}
	a := uint32(align)
	if a == 0 {
		a = 4
	}
	start := alignUp(h.head, a)
	newHead := start + guestmem.Addr(size)
	if newHead > h.tail {
		return guestmem.Null
	}
	h.head = newHead
	return start
}

// Free implements OSFreeToFrmHeap(mode): resets the chosen end to the
// heap's bound and drops the snapshot stack.
func (h *FrmHeap) Free(dir FrameDirection) {
	switch dir {
	case FrameHead:
		h.head = h.Base
	case FrameTail:
		h.tail = h.Base + guestmem.Addr(h.Size)
	}
	h.top = nil
}

// RecordState implements OSRecordStateForFrmHeap: snapshots head/tail,
// allocating the snapshot record itself from the heap's own head.
func (h *FrmHeap) RecordState(tag uint32) bool {
	addr := h.Alloc(frameSnapshotSize, 4)
	if addr == guestmem.Null {
		return false
	}
	snap := &frameSnapshot{tag: tag, head: h.head, tail: h.tail, prev: h.top}
	h.top = snap
	return true
}

// frameSnapshotSize is the nominal host-side footprint of one snapshot;
// it only needs to be nonzero and consistent so RecordState visibly
// consumes frame-heap space the way the original's in-heap snapshot
// allocation does.
const frameSnapshotSize = 16

// FreeByState implements OSFreeByStateToFrmHeap: walks the snapshot chain
// until tag matches (tag == 0 means "the oldest recorded state"),
// restoring head/tail from that snapshot.
func (h *FrmHeap) FreeByState(tag uint32) bool {
	if h.top == nil {
		return false
	}
	var target *frameSnapshot
	for snap := h.top; snap != nil; snap = snap.prev {
		if tag == 0 {
			target = snap // tag 0: walk to the oldest (root) snapshot
			continue
		}
		if snap.tag == tag {
			target = snap
			break
		}
	}
	if target == nil {
		return false
	}
	h.head = target.head
	h.tail = target.tail
	h.top = target.prev
	return true
}
