package heap

import "math/bits"

// lockedCacheSize and lockedCacheBlock are the locked cache's fixed
// dimensions: 16 KiB divided into 512-byte blocks, exactly
// enough blocks for a 32-bit occupancy bitmask.
const (
	lockedCacheSize   = 16 * 1024
	lockedCacheBlock  = 512
	lockedCacheBlocks = lockedCacheSize / lockedCacheBlock // 32
)

// defaultDMABlocks is the block count EnableDMA/DisableDMA use when passed
// a zero block count.
const defaultDMABlocks = lockedCacheBlocks

// LockedCache is the per-core scratchpad allocator: a 32-bit occupancy
// bitmask over 512-byte blocks. Grounded on
// Maemo32-SupraX_Legacy's own use of math/bits for bitmask scanning — the
// one example repo doing hardware-level bit modelling.
type LockedCache struct {
	base uint32 // starting offset of this cache's region, in guest-address terms

	mask  uint32 // bit i set => block i in use
	sizes [lockedCacheBlocks]uint32

	dmaRefCount int32
}

// NewLockedCache returns an empty locked cache.
func NewLockedCache(base uint32) *LockedCache {
	return &LockedCache{base: base}
}

// lowestRunOfZeros finds the lowest bit index where n consecutive zero
// bits exist in mask, or -1 if none fit.
func lowestRunOfZeros(mask uint32, n int) int {
	if n <= 0 || n > lockedCacheBlocks {
		return -1
	}
	run := uint32(0)
	for i := 0; i < lockedCacheBlocks; i++ {
		if mask&(1<<uint(i)) == 0 {
			run++
			if int(run) >= n {
				return i - n + 1
			}
		} else {
			run = 0
		}
	}
	return -1
}

// Alloc implements OSAllocFromLockedCache: converts size to a block count,
// finds the lowest index with enough consecutive free blocks, and returns
// that starting block index (or -1 on exhaustion).
func (c *LockedCache) Alloc(size uint32) int {
	blocks := int((size + lockedCacheBlock - 1) / lockedCacheBlock)
	start := lowestRunOfZeros(c.mask, blocks)
	if start < 0 {
		return -1
	}
	for i := start; i < start+blocks; i++ {
		c.mask |= 1 << uint(i)
	}
	c.sizes[start] = size
	return start
}

// Dealloc implements OSFreeToLockedCache, given the block index Alloc
// returned.
func (c *LockedCache) Dealloc(index int) {
	size := c.sizes[index]
	blocks := int((size + lockedCacheBlock - 1) / lockedCacheBlock)
	for i := index; i < index+blocks && i < lockedCacheBlocks; i++ {
		c.mask &^= 1 << uint(i)
	}
	c.sizes[index] = 0
}

// FreeBlockCount reports how many 512-byte blocks remain unallocated.
func (c *LockedCache) FreeBlockCount() int {
	return lockedCacheBlocks - bits.OnesCount32(c.mask)
}

// EnableDMA implements OSLockForCacheDMA's reference counting: a block
// count of 0 is treated as the cache's full default capacity.
func (c *LockedCache) EnableDMA(blocks int32) {
	if blocks == 0 {
		blocks = defaultDMABlocks
	}
	c.dmaRefCount += blocks
}

// DisableDMA decrements the DMA reference count.
func (c *LockedCache) DisableDMA(blocks int32) {
	if blocks == 0 {
		blocks = defaultDMABlocks
	}
	c.dmaRefCount -= blocks
	if c.dmaRefCount < 0 {
		c.dmaRefCount = 0
	}
}

// DMAEnabled reports whether pretend-DMA is currently active.
func (c *LockedCache) DMAEnabled() bool { return c.dmaRefCount > 0 }
