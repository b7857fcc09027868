package image

import (
	"encoding/binary"
	"io"

	"github.com/jbesta/simfs"
	"github.com/noxer/bytewriter"
)

// RootInodeID is the fixed i-node number of the root directory.
const RootInodeID = 0

// Free is the sentinel used in an i-node's reference fields (and as the
// nodeid of a free i-node slot) to mean "unused".
const Free int32 = -1

// Format wipes stream and lays out a fresh filesystem of sizeBytes on it,
// following the geometry in ComputeGeometry. The entire image is zero-filled
// except for the superblock, the single bitmap byte claimed by the root
// directory's data block, the root directory's i-node record, and the
// FREE-marked records of every other i-node slot.
func Format(stream io.ReadWriteSeeker, sizeBytes uint32) (*Image, Superblock, *simfs.Error) {
	if sizeBytes < MinImageSize || sizeBytes > MaxImageSize {
		return nil, Superblock{}, simfs.NewErrorWithMessage(
			simfs.KindNoSpace,
			"requested image size is outside the supported range",
		)
	}

	sb := ComputeGeometry(sizeBytes)
	if sb.DataClusterCount < 1 || sb.InodeCount < 1 {
		return nil, Superblock{}, simfs.NewErrorWithMessage(
			simfs.KindNoSpace, "requested image is too small to hold any files",
		)
	}

	img := Wrap(stream)
	img.sb = sb

	// Zero-fill the entire image first so every byte has a defined value,
	// then overwrite the parts that need real content.
	zeroChunk := make([]byte, BlockSize)
	for block := uint32(0); block < sb.ClusterCount; block++ {
		if err := img.WriteBlock(block, zeroChunk); err != nil {
			return nil, Superblock{}, simfs.WrapIOError(err)
		}
	}

	if err := img.WriteBlock(0, sb.Bytes()); err != nil {
		return nil, Superblock{}, simfs.WrapIOError(err)
	}

	// The bitmap is one byte per data block; only block 0 (the root
	// directory's data block) starts allocated.
	bitmapBytes := make([]byte, sb.BitmapClusterCount*BlockSize)
	bitmapBytes[0] = 1
	if err := img.WriteAt(bitmapBytes, int64(sb.BitmapStart)*BlockSize); err != nil {
		return nil, Superblock{}, simfs.WrapIOError(err)
	}

	// Write the i-node table. Inode 0 is the root directory with one data
	// block (data block 0); every other slot is FREE.
	inodeTableBytes := make([]byte, sb.InodeClusterCount*BlockSize)
	w := bytewriter.New(inodeTableBytes)

	rootInode := RawInode{
		NodeID:      RootInodeID,
		IsDirectory: 1,
		References:  1,
		// FileSize on a directory is the ancestor-size rollup (the sum of
		// its children's sizes), not a reflection of its own block count;
		// see blockaddr.Count for how directory block counts are tracked.
		FileSize:  0,
		Direct:    [5]int32{0, Free, Free, Free, Free},
		Indirect1: Free,
		Indirect2: Free,
	}
	binary.Write(w, binary.LittleEndian, &rootInode)

	freeInode := RawInode{
		NodeID:    Free,
		Direct:    [5]int32{Free, Free, Free, Free, Free},
		Indirect1: Free,
		Indirect2: Free,
	}
	for i := uint32(1); i < sb.InodeCount; i++ {
		binary.Write(w, binary.LittleEndian, &freeInode)
	}

	if err := img.WriteAt(inodeTableBytes, int64(sb.InodeStart)*BlockSize); err != nil {
		return nil, Superblock{}, simfs.WrapIOError(err)
	}

	if err := img.Sync(); err != nil {
		return nil, Superblock{}, simfs.WrapIOError(err)
	}

	return img, sb, nil
}
