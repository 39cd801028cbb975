// Package heap implements the guest memory-heap family:
// the expanded heap, frame heap, unit heap, block heap, and the locked
// cache's fixed-block allocator, plus the MEM1/MEM2/Foreground region
// registry that lets the runtime find which heap (if any) owns a given
// guest address.
package heap

import (
	"container/list"
	"sync"

	"github.com/cafeos/coreinit/guestmem"
)

// Region identifies one of the three disjoint guest memory buckets heaps
// register into.
type Region int

const (
	MEM1 Region = iota
	MEM2
	Foreground
	numRegions
)

// Flag is the common heap-header bitfield.
type Flag uint32

const (
	ZeroAllocated Flag = 1 << 0
	DebugMode     Flag = 1 << 1
	ThreadSafe    Flag = 1 << 2
)

// Header is the common prefix every heap variant embeds.
type Header struct {
	Tag   uint32
	Base  guestmem.Addr
	Size  uint32
	Flags Flag

	region     Region
	regionElem *list.Element
	parent     *Header
	children   list.List // child *Header via childElem
	childElem  *list.Element

	mu sync.Mutex // Header's own spinlock; only locked when ThreadSafe is set
}

func (h *Header) end() guestmem.Addr { return h.Base + guestmem.Addr(h.Size) }

func (h *Header) contains(addr guestmem.Addr) bool {
	return addr >= h.Base && addr < h.end()
}

// Lock acquires the heap's own spinlock, a no-op unless ThreadSafe is set.
func (h *Header) Lock() {
	if h.Flags&ThreadSafe != 0 {
		h.mu.Lock()
	}
}

// Unlock releases the heap's own spinlock.
func (h *Header) Unlock() {
	if h.Flags&ThreadSafe != 0 {
		h.mu.Unlock()
	}
}

// Registry is the triply partitioned world heaps register into. It holds no locking of its own beyond what each Header provides;
// registration/lookup are expected to run under the caller's own
// synchronization (typically already serialized by the scheduler's
// id-lock in the surrounding runtime).
type Registry struct {
	regions [numRegions]list.List // of *Header via regionElem
}

// NewRegistry returns an empty heap registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.regions {
		r.regions[i].Init()
	}
	return r
}

// regionBounds holds the MEM1/MEM2/Foreground address ranges classify
// picks a heap's region from. Out of scope here
// is the actual console memory map (external to this package); the
// runtime wiring this package in supplies it via RegisterRegionBounds.
var regionBounds [numRegions][2]guestmem.Addr

// RegisterRegionBounds configures the [low, high) address range backing
// each Region, so Register can classify a heap by its base address.
func RegisterRegionBounds(region Region, low, high guestmem.Addr) {
	regionBounds[region] = [2]guestmem.Addr{low, high}
}

func classify(base guestmem.Addr) Region {
	for r, bounds := range regionBounds {
		if base >= bounds[0] && base < bounds[1] {
			return Region(r)
		}
	}
	return Foreground
}

// Register adds a top-level heap to the registry, classifying it into the
// region containing its base address.
func (reg *Registry) Register(h *Header) {
	h.region = classify(h.Base)
	h.regionElem = reg.regions[h.region].PushBack(h)
}

// Unregister removes a top-level heap. The caller must ensure it has no
// live children first.
func (reg *Registry) Unregister(h *Header) {
	if h.children.Len() != 0 {
		panic("heap: destroying heap with live children")
	}
	if h.regionElem != nil {
		reg.regions[h.region].Remove(h.regionElem)
		h.regionElem = nil
	}
}

// RegisterChild nests h under parent as a child sub-heap.
func RegisterChild(parent, h *Header) {
	h.parent = parent
	h.childElem = parent.children.PushBack(h)
}

// UnregisterChild removes h from its parent's child list.
func UnregisterChild(parent, h *Header) {
	if h.childElem != nil {
		parent.children.Remove(h.childElem)
		h.childElem = nil
	}
}

// FindContainingHeap walks the region containing ptr, then recursively
// descends each top-level heap's child list, to find
// the innermost heap whose range contains ptr.
func (reg *Registry) FindContainingHeap(ptr guestmem.Addr) *Header {
	region := classify(ptr)
	for e := reg.regions[region].Front(); e != nil; e = e.Next() {
		h := e.Value.(*Header)
		if h.contains(ptr) {
			return descend(h, ptr)
		}
	}
	return nil
}

func descend(h *Header, ptr guestmem.Addr) *Header {
	for e := h.children.Front(); e != nil; e = e.Next() {
		child := e.Value.(*Header)
		if child.contains(ptr) {
			return descend(child, ptr)
		}
	}
	return h
}
