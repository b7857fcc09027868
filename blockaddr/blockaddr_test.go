package blockaddr_test

import (
	"testing"

	"github.com/jbesta/simfs/bitmap"
	"github.com/jbesta/simfs/blockaddr"
	"github.com/jbesta/simfs/image"
	"github.com/jbesta/simfs/internal/simtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshInode() image.RawInode {
	return image.RawInode{
		NodeID:    1,
		Direct:    [5]int32{image.Free, image.Free, image.Free, image.Free, image.Free},
		Indirect1: image.Free,
		Indirect2: image.Free,
	}
}

func TestGrow_DirectOnly(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	alloc, err := bitmap.Load(img)
	require.NoError(t, err)
	addr := blockaddr.New(img)

	rec, newBlocks, err := addr.Grow(freshInode(), 0, 3, alloc)
	require.NoError(t, err)
	assert.Len(t, newBlocks, 3)
	assert.NotEqual(t, image.Free, rec.Direct[0])
	assert.NotEqual(t, image.Free, rec.Direct[2])
	assert.Equal(t, image.Free, rec.Direct[3])

	got, err := addr.Resolve(rec, 3)
	require.NoError(t, err)
	assert.Equal(t, newBlocks, got)
}

func TestGrow_CrossesIntoIndirect1(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	alloc, err := bitmap.Load(img)
	require.NoError(t, err)
	addr := blockaddr.New(img)

	rec, newBlocks, err := addr.Grow(freshInode(), 0, blockaddr.DirectCount+2, alloc)
	require.NoError(t, err)
	assert.Len(t, newBlocks, blockaddr.DirectCount+2)
	assert.NotEqual(t, image.Free, rec.Indirect1)

	got, err := addr.Resolve(rec, blockaddr.DirectCount+2)
	require.NoError(t, err)
	assert.Equal(t, newBlocks, got)
}

func TestGrow_Incremental(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	alloc, err := bitmap.Load(img)
	require.NoError(t, err)
	addr := blockaddr.New(img)

	rec, first, err := addr.Grow(freshInode(), 0, 4, alloc)
	require.NoError(t, err)

	rec, second, err := addr.Grow(rec, 4, blockaddr.DirectCount+3, alloc)
	require.NoError(t, err)

	all, err := addr.Resolve(rec, blockaddr.DirectCount+3)
	require.NoError(t, err)
	assert.Equal(t, append(append([]int32{}, first...), second...), all)
}

func TestGrow_ExceedsCapacity(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	alloc, err := bitmap.Load(img)
	require.NoError(t, err)
	addr := blockaddr.New(img)

	_, _, err = addr.Grow(freshInode(), 0, blockaddr.Tier3Capacity+1, alloc)
	assert.Error(t, err)
}

func TestTruncate_ReleasesDirectBlocks(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	alloc, err := bitmap.Load(img)
	require.NoError(t, err)
	addr := blockaddr.New(img)

	rec, blocks, err := addr.Grow(freshInode(), 0, 4, alloc)
	require.NoError(t, err)

	rec, err = addr.Truncate(rec, 4, 1, alloc)
	require.NoError(t, err)
	assert.Equal(t, image.Free, rec.Direct[3])

	for _, b := range blocks[1:] {
		assert.False(t, alloc.Get(b))
	}
	assert.True(t, alloc.Get(blocks[0]))
}

func TestCount_MatchesGrownAmount(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	alloc, err := bitmap.Load(img)
	require.NoError(t, err)
	addr := blockaddr.New(img)

	rec, _, err := addr.Grow(freshInode(), 0, blockaddr.DirectCount+3, alloc)
	require.NoError(t, err)

	count, err := addr.Count(rec)
	require.NoError(t, err)
	assert.Equal(t, blockaddr.DirectCount+3, count)
}

func TestTruncate_ReleasesIndirect1WhenEmptied(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	alloc, err := bitmap.Load(img)
	require.NoError(t, err)
	addr := blockaddr.New(img)

	rec, _, err := addr.Grow(freshInode(), 0, blockaddr.DirectCount+2, alloc)
	require.NoError(t, err)
	require.NotEqual(t, image.Free, rec.Indirect1)

	rec, err = addr.Truncate(rec, blockaddr.DirectCount+2, blockaddr.DirectCount, alloc)
	require.NoError(t, err)
	assert.Equal(t, image.Free, rec.Indirect1)
}
