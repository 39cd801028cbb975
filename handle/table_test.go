package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocNeverReturnsZero(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < 64; i++ {
		h, err := tbl.Alloc(uintptr(i), 0)
		require.NoError(t, err)
		assert.NotZero(t, h, "handle zero is reserved to mean invalid/free")
	}
}

func TestTranslateAndAddRefRoundTripsUserData(t *testing.T) {
	tbl := NewTable()
	h, err := tbl.Alloc(0xDEAD, 0xBEEF)
	require.NoError(t, err)

	ud1, ud2, err := tbl.TranslateAndAddRef(h)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0xDEAD), ud1)
	assert.Equal(t, uintptr(0xBEEF), ud2)
}

func TestTranslateAndAddRefRejectsZeroAndStaleHandles(t *testing.T) {
	tbl := NewTable()
	_, _, err := tbl.TranslateAndAddRef(0)
	assert.ErrorIs(t, err, ErrInvalidHandle)

	h, err := tbl.Alloc(1, 2)
	require.NoError(t, err)
	require.NoError(t, tbl.Release(h))

	_, _, err = tbl.TranslateAndAddRef(h)
	assert.ErrorIs(t, err, ErrInvalidHandle, "translating a released handle must fail, not return stale data")
}

func TestReleaseFreesOnlyAtZeroRefCount(t *testing.T) {
	tbl := NewTable()
	h, err := tbl.Alloc(1, 2)
	require.NoError(t, err)

	_, _, err = tbl.TranslateAndAddRef(h) // refCount now 2
	require.NoError(t, err)

	require.NoError(t, tbl.Release(h)) // refCount 1, still alive
	_, _, err = tbl.TranslateAndAddRef(h)
	assert.NoError(t, err, "one release of two refs must leave the handle valid")

	require.NoError(t, tbl.Release(h))
	require.NoError(t, tbl.Release(h))
	_, _, err = tbl.TranslateAndAddRef(h)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestAddRefIncrementsWithoutReturningUserData(t *testing.T) {
	tbl := NewTable()
	h, err := tbl.Alloc(7, 8)
	require.NoError(t, err)

	require.NoError(t, tbl.AddRef(h))
	require.NoError(t, tbl.Release(h)) // back to the original ref
	_, _, err = tbl.TranslateAndAddRef(h)
	assert.NoError(t, err, "AddRef must have pinned the handle through one Release")
}

func TestReleaseOfZeroOrInvalidHandleFails(t *testing.T) {
	tbl := NewTable()
	assert.ErrorIs(t, tbl.Release(0), ErrInvalidHandle)
	assert.ErrorIs(t, tbl.Release(0xFFFFFFFF), ErrInvalidHandle)
}

func TestSubtableZeroIsNeverFreed(t *testing.T) {
	tbl := NewTable()
	h, err := tbl.Alloc(1, 2)
	require.NoError(t, err)
	subIdx, _ := decompose(h)
	require.Equal(t, 0, subIdx, "the embedded subtable is always slot 0 until it fills up")

	require.NoError(t, tbl.Release(h))
	assert.NotNil(t, tbl.subtables[0], "slot 0's subtable must survive even when fully drained")
}

func TestSubtableBeyondZeroIsFreedWhenEmptied(t *testing.T) {
	tbl := NewTable()
	freed := 0
	tbl.SetSubtableCallbacks(newSubtable, func(*subtable) { freed++ })

	// drain subtable 0 entirely so the next Alloc must create subtable 1.
	var first []uint32
	for i := 0; i < entriesPerSub; i++ {
		h, err := tbl.Alloc(uintptr(i), 0)
		require.NoError(t, err)
		first = append(first, h)
	}

	h, err := tbl.Alloc(999, 0)
	require.NoError(t, err)
	subIdx, _ := decompose(h)
	require.Equal(t, 1, subIdx)
	assert.NotNil(t, tbl.subtables[1])

	require.NoError(t, tbl.Release(h))
	assert.Equal(t, 1, freed, "emptying subtable 1 entirely must free it and null the slot")
	assert.Nil(t, tbl.subtables[1])

	for _, fh := range first {
		require.NoError(t, tbl.Release(fh))
	}
}

func TestAllocFailsWhenEveryPossibleSubtableSlotIsOccupiedAndFull(t *testing.T) {
	tbl := NewTable()
	// simulate exhaustion directly rather than performing 256*512 real
	// allocations: every subtable slot populated and full.
	for i := range tbl.subtables {
		sub := newSubtable()
		sub.free = 0
		for e := range sub.entries {
			sub.entries[e].handle = uint32(e + 1)
		}
		tbl.subtables[i] = sub
	}

	_, err := tbl.Alloc(0, 0)
	assert.ErrorIs(t, err, ErrTableFull)
}

func TestFoldParityIsDeterministicForEqualPopulationCounts(t *testing.T) {
	a := foldParity(0b1)
	b := foldParity(0b10)
	assert.Equal(t, a, b, "foldParity depends only on population count, not which bits are set")

	c := foldParity(0b11)
	assert.NotEqual(t, a, c)
}

func TestFoldParityMatchesTheReferenceBitLayout(t *testing.T) {
	assert.Equal(t, uint32(0xF8000000), foldParity(1), "popcount 1 => (32-1) mod 32 == 31 == 0b11111")
	assert.Equal(t, uint32(0xE8000000), foldParity(7), "popcount 3 => (32-3) mod 32 == 29 == 0b11101")
}
