// Package inode manages the on-disk i-node table: a fixed-size array of
// image.RawInode records, one per i-node, laid out back-to-back starting at
// the image's i-node region.
package inode

import (
	"bytes"
	"encoding/binary"

	"github.com/jbesta/simfs"
	"github.com/jbesta/simfs/image"
)

// RecordSize is the packed, on-disk size of one i-node record.
const RecordSize = image.InodeRecordSize

// Table is the write-through view of an image's i-node array.
type Table struct {
	img   *image.Image
	start uint32 // first absolute image block of the i-node region
	count uint32
}

// Load builds a Table over the i-node region described by the image's
// superblock. Individual records are read and written on demand; nothing is
// cached beyond the superblock geometry itself.
func Load(img *image.Image) *Table {
	sb := img.Superblock()
	return &Table{img: img, start: sb.InodeStart, count: sb.InodeCount}
}

// Count returns the total number of i-node slots in the table.
func (t *Table) Count() uint32 {
	return t.count
}

func (t *Table) offset(id int32) int64 {
	return int64(t.start)*image.BlockSize + int64(id)*int64(RecordSize)
}

// Get reads the i-node record with the given id.
func (t *Table) Get(id int32) (image.RawInode, error) {
	if id < 0 || uint32(id) >= t.count {
		return image.RawInode{}, simfs.NewError(simfs.KindNotFound)
	}

	buf := make([]byte, RecordSize)
	if err := t.img.ReadAt(buf, t.offset(id)); err != nil {
		return image.RawInode{}, simfs.WrapIOError(err)
	}

	var rec image.RawInode
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &rec); err != nil {
		return image.RawInode{}, simfs.WrapIOError(err)
	}
	return rec, nil
}

// Put writes rec back to slot id.
func (t *Table) Put(id int32, rec image.RawInode) error {
	if id < 0 || uint32(id) >= t.count {
		return simfs.NewError(simfs.KindNotFound)
	}

	buf := &bytes.Buffer{}
	buf.Grow(RecordSize)
	if err := binary.Write(buf, binary.LittleEndian, &rec); err != nil {
		return simfs.WrapIOError(err)
	}

	if err := t.img.WriteAt(buf.Bytes(), t.offset(id)); err != nil {
		return simfs.WrapIOError(err)
	}
	return nil
}

// AllocateFree finds the first free i-node slot, marks it in-use with the
// given isDirectory flag and every block pointer set to image.Free, persists
// it, and returns its id.
func (t *Table) AllocateFree(isDirectory bool) (int32, image.RawInode, error) {
	for id := uint32(1); id < t.count; id++ {
		rec, err := t.Get(int32(id))
		if err != nil {
			return 0, image.RawInode{}, err
		}
		if !rec.IsFree() {
			continue
		}

		dirFlag := int8(0)
		if isDirectory {
			dirFlag = 1
		}
		rec = image.RawInode{
			NodeID:      int32(id),
			IsDirectory: dirFlag,
			References:  1,
			FileSize:    0,
			Direct:      [5]int32{image.Free, image.Free, image.Free, image.Free, image.Free},
			Indirect1:   image.Free,
			Indirect2:   image.Free,
		}
		if err := t.Put(int32(id), rec); err != nil {
			return 0, image.RawInode{}, err
		}
		return int32(id), rec, nil
	}
	return 0, image.RawInode{}, simfs.NewErrorWithMessage(
		simfs.KindNoSpace, "no free i-node slots remain",
	)
}

// Release marks the i-node slot free again. Callers are responsible for
// freeing any data and indirect blocks the record referenced first.
func (t *Table) Release(id int32) error {
	rec := image.RawInode{
		NodeID:    image.Free,
		Direct:    [5]int32{image.Free, image.Free, image.Free, image.Free, image.Free},
		Indirect1: image.Free,
		Indirect2: image.Free,
	}
	return t.Put(id, rec)
}
