// Package image provides positioned read/write access to the single host
// file backing a simfs filesystem, along with the superblock describing its
// geometry.
//
// All I/O here is synchronous and write-through: every call to WriteAt
// returns only after the underlying stream has accepted the bytes. Image
// does not buffer or cache; that discipline is what lets the rest of the
// module treat the on-disk state as always consistent between operations
// (see the write-order protocol in the driver package doc).
package image

import (
	"fmt"
	"io"
)

// BlockSize is the fixed size, in bytes, of one cluster/block in the image.
const BlockSize = 1024

// Truncator matches os.File.Truncate. Streams that don't implement it can
// still be used for Format as long as they already have the right size.
type Truncator interface {
	Truncate(size int64) error
}

// Image is a thin positioned-I/O wrapper around the host stream backing the
// simulated filesystem.
type Image struct {
	stream io.ReadWriteSeeker
	sb     Superblock
}

// Wrap adapts an existing stream (typically an *os.File opened on the image
// path) into an Image without reading anything from it. Use Format or Load to
// populate the superblock.
func Wrap(stream io.ReadWriteSeeker) *Image {
	return &Image{stream: stream}
}

// Superblock returns the geometry currently associated with this image.
func (img *Image) Superblock() Superblock {
	return img.sb
}

// ReadAt fills buf starting at the given byte offset from the beginning of
// the image.
func (img *Image) ReadAt(buf []byte, offset int64) error {
	if _, err := img.stream.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to offset %d: %w", offset, err)
	}
	if _, err := io.ReadFull(img.stream, buf); err != nil {
		return fmt.Errorf("read %d bytes at offset %d: %w", len(buf), offset, err)
	}
	return nil
}

// WriteAt writes buf starting at the given byte offset from the beginning of
// the image.
func (img *Image) WriteAt(buf []byte, offset int64) error {
	if _, err := img.stream.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to offset %d: %w", offset, err)
	}
	if _, err := img.stream.Write(buf); err != nil {
		return fmt.Errorf("write %d bytes at offset %d: %w", len(buf), offset, err)
	}
	return nil
}

// ReadBlock reads one whole block identified by its absolute block number
// (counted from the start of the image, not relative to the data region).
func (img *Image) ReadBlock(blockNum uint32) ([]byte, error) {
	buf := make([]byte, BlockSize)
	err := img.ReadAt(buf, int64(blockNum)*BlockSize)
	return buf, err
}

// WriteBlock writes one whole block identified by its absolute block number.
func (img *Image) WriteBlock(blockNum uint32, data []byte) error {
	if len(data) != BlockSize {
		return fmt.Errorf("block write must be exactly %d bytes, got %d", BlockSize, len(data))
	}
	return img.WriteAt(data, int64(blockNum)*BlockSize)
}

// Sync flushes pending writes to the underlying storage, if the stream
// supports it.
func (img *Image) Sync() error {
	type syncer interface {
		Sync() error
	}
	if s, ok := img.stream.(syncer); ok {
		return s.Sync()
	}
	return nil
}

// DataBlockOffset returns the absolute image block number for a data-region
// block index (as stored in an i-node's direct/indirect fields).
func (img *Image) DataBlockOffset(dataBlock int32) uint32 {
	return img.sb.DataStart + uint32(dataBlock)
}
