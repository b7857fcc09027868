package image

import (
	"encoding/binary"
	"fmt"
)

// InodeRecordSize is the fixed, packed size of one i-node record, in bytes.
const InodeRecordSize = 38

// MinImageSize and MaxImageSize bound the size accepted by Format, in bytes.
const (
	MinImageSize = 20480
	MaxImageSize = 1<<31 - 1 // INT32_MAX
)

// Superblock is the ten-field geometry record stored in block 0 of the
// image. All fields are persisted little-endian.
type Superblock struct {
	DiskSize           uint32
	ClusterSize        uint32
	ClusterCount       uint32
	InodeCount         uint32
	BitmapClusterCount uint32
	InodeClusterCount  uint32
	DataClusterCount   uint32
	BitmapStart        uint32
	InodeStart         uint32
	DataStart          uint32
}

// ComputeGeometry derives a Superblock from a requested image size in bytes,
// following the fixed allocation ratios: 5% of clusters for the i-node
// table, the bitmap sized to cover the remaining clusters, and everything
// else for data.
func ComputeGeometry(sizeBytes uint32) Superblock {
	clusterCount := sizeBytes / BlockSize
	inodeClusterCount := clusterCount / 20
	inodeCount := inodeClusterCount * BlockSize / InodeRecordSize
	bitmapClusterCount := ceilDiv(clusterCount-inodeClusterCount-1, BlockSize)
	dataClusterCount := clusterCount - 1 - bitmapClusterCount - inodeClusterCount

	return Superblock{
		DiskSize:           sizeBytes,
		ClusterSize:        BlockSize,
		ClusterCount:       clusterCount,
		InodeCount:         inodeCount,
		BitmapClusterCount: bitmapClusterCount,
		InodeClusterCount:  inodeClusterCount,
		DataClusterCount:   dataClusterCount,
		BitmapStart:        1,
		InodeStart:         1 + bitmapClusterCount,
		DataStart:          1 + bitmapClusterCount + inodeClusterCount,
	}
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// Bytes serializes the superblock into one BlockSize-sized block, little
// endian, zero-padded.
func (sb Superblock) Bytes() []byte {
	buf := make([]byte, BlockSize)
	fields := []uint32{
		sb.DiskSize, sb.ClusterSize, sb.ClusterCount, sb.InodeCount,
		sb.BitmapClusterCount, sb.InodeClusterCount, sb.DataClusterCount,
		sb.BitmapStart, sb.InodeStart, sb.DataStart,
	}
	for i, v := range fields {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], v)
	}
	return buf
}

// ParseSuperblock decodes a Superblock from its on-disk block representation.
func ParseSuperblock(block []byte) (Superblock, error) {
	if len(block) < 40 {
		return Superblock{}, fmt.Errorf("superblock block too short: got %d bytes, need at least 40", len(block))
	}
	var sb Superblock
	fields := []*uint32{
		&sb.DiskSize, &sb.ClusterSize, &sb.ClusterCount, &sb.InodeCount,
		&sb.BitmapClusterCount, &sb.InodeClusterCount, &sb.DataClusterCount,
		&sb.BitmapStart, &sb.InodeStart, &sb.DataStart,
	}
	for i, f := range fields {
		*f = binary.LittleEndian.Uint32(block[i*4 : i*4+4])
	}
	return sb, nil
}

// Load reads the superblock from block 0 of the image and caches it on the
// Image.
func (img *Image) Load() (Superblock, error) {
	block, err := img.ReadBlock(0)
	if err != nil {
		return Superblock{}, err
	}
	sb, err := ParseSuperblock(block)
	if err != nil {
		return Superblock{}, err
	}
	img.sb = sb
	return sb, nil
}
