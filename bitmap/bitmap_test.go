package bitmap_test

import (
	"testing"

	"github.com/jbesta/simfs/bitmap"
	"github.com/jbesta/simfs/internal/simtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RootBlockIsAllocated(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)

	alloc, err := bitmap.Load(img)
	require.NoError(t, err)

	assert.True(t, alloc.Get(0))
	assert.False(t, alloc.Get(1))
}

func TestAllocateOne_SkipsRootBlock(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	alloc, err := bitmap.Load(img)
	require.NoError(t, err)

	block, err := alloc.AllocateOne()
	require.NoError(t, err)
	assert.Equal(t, int32(1), block)
	assert.True(t, alloc.Get(1))
}

func TestAllocateSet_PrefersContiguousRun(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	alloc, err := bitmap.Load(img)
	require.NoError(t, err)

	blocks, err := alloc.AllocateSet(5)
	require.NoError(t, err)
	require.Len(t, blocks, 5)
	for i := 1; i < len(blocks); i++ {
		assert.Equal(t, blocks[i-1]+1, blocks[i], "blocks should be contiguous")
	}
}

func TestAllocateSet_FallsBackToScattered(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	alloc, err := bitmap.Load(img)
	require.NoError(t, err)

	// Allocate three blocks, drain the rest of the free space, then free the
	// first and third of the three: the only free blocks left are two
	// non-adjacent singles, so a request for 2 has no contiguous run to use
	// and must collect scattered blocks.
	var held []int32
	for i := 0; i < 3; i++ {
		b, err := alloc.AllocateOne()
		require.NoError(t, err)
		held = append(held, b)
	}
	for {
		if _, err := alloc.AllocateOne(); err != nil {
			break
		}
	}
	require.NoError(t, alloc.Free(held[0]))
	require.NoError(t, alloc.Free(held[2]))

	blocks, err := alloc.AllocateSet(2)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, []int32{held[0], held[2]}, blocks)
}

func TestFree_ClearsBit(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	alloc, err := bitmap.Load(img)
	require.NoError(t, err)

	block, err := alloc.AllocateOne()
	require.NoError(t, err)
	require.NoError(t, alloc.Free(block))
	assert.False(t, alloc.Get(block))
}

func TestAllocateSet_NoSpace(t *testing.T) {
	img, sb := simtest.NewImage(t, simtest.DefaultSize)
	alloc, err := bitmap.Load(img)
	require.NoError(t, err)

	_, err = alloc.AllocateSet(sb.DataClusterCount)
	assert.Error(t, err)
}
