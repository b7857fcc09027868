// Package bitmap tracks which data blocks in a simfs image are free or in
// use, and finds single blocks or contiguous runs to satisfy allocation
// requests.
//
// The on-disk representation (one full byte per data block, see the image
// package's superblock geometry) is intentionally not bit-packed. In memory,
// allocation state is kept in a compact github.com/boljen/go-bitmap so
// scanning for free blocks and contiguous runs is cheap; persisting a change
// expands the affected bit(s) back out to the on-disk one-byte-per-block
// layout.
package bitmap

import (
	"github.com/boljen/go-bitmap"
	"github.com/jbesta/simfs"
	"github.com/jbesta/simfs/image"
)

// Allocator is the in-memory, write-through view of a filesystem's free data
// block bitmap.
type Allocator struct {
	bits  bitmap.Bitmap
	count uint32
	img   *image.Image
	start uint32 // first absolute image block of the bitmap region
}

// Load reads the on-disk bitmap (count bytes, one per data block) starting
// at the image's bitmap region and builds an Allocator over it.
func Load(img *image.Image) (*Allocator, error) {
	sb := img.Superblock()
	count := sb.DataClusterCount

	raw := make([]byte, sb.BitmapClusterCount*image.BlockSize)
	if err := img.ReadAt(raw, int64(sb.BitmapStart)*image.BlockSize); err != nil {
		return nil, err
	}

	bits := bitmap.New(int(count))
	for i := uint32(0); i < count; i++ {
		bits.Set(int(i), raw[i] != 0)
	}

	return &Allocator{bits: bits, count: count, img: img, start: sb.BitmapStart}, nil
}

// Get reports whether a data block is currently allocated.
func (a *Allocator) Get(block int32) bool {
	return a.bits.Get(int(block))
}

// PopCount returns the number of allocated data blocks.
func (a *Allocator) PopCount() uint32 {
	var n uint32
	for i := uint32(0); i < a.count; i++ {
		if a.bits.Get(int(i)) {
			n++
		}
	}
	return n
}

func (a *Allocator) persistOne(block int32) error {
	value := byte(0)
	if a.bits.Get(int(block)) {
		value = 1
	}
	offset := int64(a.start)*image.BlockSize + int64(block)
	return a.img.WriteAt([]byte{value}, offset)
}

// set marks a block allocated or free, both in memory and on disk.
func (a *Allocator) set(block int32, used bool) error {
	a.bits.Set(int(block), used)
	if err := a.persistOne(block); err != nil {
		return simfs.WrapIOError(err)
	}
	return nil
}

// AllocateOne claims the first free data block it finds, starting the scan
// at index 1 (block 0 belongs permanently to the root directory).
func (a *Allocator) AllocateOne() (int32, error) {
	for i := uint32(1); i < a.count; i++ {
		if !a.bits.Get(int(i)) {
			if err := a.set(int32(i), true); err != nil {
				return 0, err
			}
			return int32(i), nil
		}
	}
	return 0, simfs.NewError(simfs.KindNoSpace)
}

// AllocateSet claims n data blocks. It first tries to find n contiguous free
// blocks; if that fails, it falls back to collecting any n free blocks,
// contiguous or not.
func (a *Allocator) AllocateSet(n uint32) ([]int32, error) {
	if n == 0 {
		return nil, nil
	}

	if start, ok := a.findContiguousRun(n); ok {
		blocks := make([]int32, n)
		for i := uint32(0); i < n; i++ {
			blocks[i] = int32(start + i)
			if err := a.set(blocks[i], true); err != nil {
				return nil, err
			}
		}
		return blocks, nil
	}

	blocks := make([]int32, 0, n)
	for i := uint32(1); i < a.count && uint32(len(blocks)) < n; i++ {
		if !a.bits.Get(int(i)) {
			blocks = append(blocks, int32(i))
		}
	}
	if uint32(len(blocks)) < n {
		return nil, simfs.NewError(simfs.KindNoSpace)
	}

	for _, b := range blocks {
		if err := a.set(b, true); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

// findContiguousRun performs a clean two-pointer scan for n consecutive free
// blocks starting at index 1. It does not revisit positions once they've
// been ruled out as part of a failed run, unlike the reference
// implementation this module replaces.
func (a *Allocator) findContiguousRun(n uint32) (uint32, bool) {
	runStart := uint32(1)
	runLen := uint32(0)

	for i := uint32(1); i < a.count; i++ {
		if a.bits.Get(int(i)) {
			runLen = 0
			runStart = i + 1
			continue
		}
		runLen++
		if runLen == n {
			return runStart, true
		}
	}
	return 0, false
}

// Free releases a previously allocated data block.
func (a *Allocator) Free(block int32) error {
	return a.set(block, false)
}

// SetUsed marks a block allocated or free without otherwise interpreting
// the change, for the defrag pass: it moves content (and hence allocation
// status) between physical block numbers rather than allocating/freeing in
// the ordinary sense.
func (a *Allocator) SetUsed(block int32, used bool) error {
	return a.set(block, used)
}
