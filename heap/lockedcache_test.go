package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockedCacheAllocConsumesWholeBlocks(t *testing.T) {
	c := NewLockedCache(0)
	assert.Equal(t, lockedCacheBlocks, c.FreeBlockCount())

	idx := c.Alloc(600) // rounds up to 2 blocks
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, lockedCacheBlocks-2, c.FreeBlockCount())
}

func TestLockedCacheAllocPicksLowestFittingRun(t *testing.T) {
	c := NewLockedCache(0)
	a := c.Alloc(lockedCacheBlock)
	b := c.Alloc(lockedCacheBlock)
	require.Equal(t, 0, a)
	require.Equal(t, 1, b)

	c.Dealloc(a)
	got := c.Alloc(lockedCacheBlock)
	assert.Equal(t, 0, got, "freeing the lowest block must make Alloc reuse it first")
}

func TestLockedCacheAllocFailsWhenExhausted(t *testing.T) {
	c := NewLockedCache(0)
	idx := c.Alloc(lockedCacheSize)
	require.Equal(t, 0, idx)

	second := c.Alloc(lockedCacheBlock)
	assert.Equal(t, -1, second)
}

func TestLockedCacheDeallocFreesExactlyItsOwnBlocks(t *testing.T) {
	c := NewLockedCache(0)
	a := c.Alloc(lockedCacheBlock * 2)
	b := c.Alloc(lockedCacheBlock)
	require.GreaterOrEqual(t, a, 0)
	require.GreaterOrEqual(t, b, 0)

	c.Dealloc(a)
	assert.Equal(t, lockedCacheBlocks-1, c.FreeBlockCount(), "dealloc of a must not disturb b's block")
}

func TestLockedCacheDMARefCountingWithDefaultBlocks(t *testing.T) {
	c := NewLockedCache(0)
	assert.False(t, c.DMAEnabled())

	c.EnableDMA(0)
	assert.True(t, c.DMAEnabled())

	c.DisableDMA(0)
	assert.False(t, c.DMAEnabled())
}

func TestLockedCacheDMARefCountNeverGoesNegative(t *testing.T) {
	c := NewLockedCache(0)
	c.DisableDMA(4)
	assert.False(t, c.DMAEnabled())
	c.EnableDMA(4)
	c.DisableDMA(8)
	assert.False(t, c.DMAEnabled(), "over-releasing the DMA refcount must clamp at zero, not go negative")
}
