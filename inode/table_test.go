package inode_test

import (
	"testing"

	"github.com/jbesta/simfs/inode"
	"github.com/jbesta/simfs/internal/simtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RootInodeIsPresent(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	table := inode.Load(img)

	root, err := table.Get(0)
	require.NoError(t, err)
	assert.False(t, root.IsFree())
	assert.Equal(t, int8(1), root.IsDirectory)
	assert.Equal(t, int32(0), root.Direct[0])
}

func TestAllocateFree_ReturnsDistinctIDs(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	table := inode.Load(img)

	id1, rec1, err := table.AllocateFree(false)
	require.NoError(t, err)
	assert.NotEqual(t, int32(0), id1)
	assert.Equal(t, int8(0), rec1.IsDirectory)

	id2, _, err := table.AllocateFree(true)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestPut_RoundTrips(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	table := inode.Load(img)

	id, rec, err := table.AllocateFree(false)
	require.NoError(t, err)

	rec.FileSize = 4096
	rec.Direct[0] = 7
	require.NoError(t, table.Put(id, rec))

	got, err := table.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int32(4096), got.FileSize)
	assert.Equal(t, int32(7), got.Direct[0])
}

func TestRelease_MarksFree(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	table := inode.Load(img)

	id, _, err := table.AllocateFree(false)
	require.NoError(t, err)
	require.NoError(t, table.Release(id))

	got, err := table.Get(id)
	require.NoError(t, err)
	assert.True(t, got.IsFree())
}

func TestAllocateFree_NoSpace(t *testing.T) {
	img, _ := simtest.NewImage(t, simtest.DefaultSize)
	table := inode.Load(img)

	for i := uint32(1); i < table.Count(); i++ {
		_, _, err := table.AllocateFree(false)
		require.NoError(t, err)
	}

	_, _, err := table.AllocateFree(false)
	assert.Error(t, err)
}
