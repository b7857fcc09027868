// Package dirstore reads and writes the directory-entry records held inside
// a directory i-node's data blocks: fixed 16-byte slots, each either empty
// (i-node reference zero) or holding a child's i-node id and name.
package dirstore

import (
	"encoding/binary"
	"sort"

	"github.com/jbesta/simfs"
	"github.com/jbesta/simfs/bitmap"
	"github.com/jbesta/simfs/blockaddr"
	"github.com/jbesta/simfs/image"
)

// EntriesPerBlock is how many fixed-size directory entries fit in one block.
const EntriesPerBlock = image.BlockSize / image.DirentSize

// Entry is one resolved directory entry: a child name and the i-node it
// refers to.
type Entry struct {
	Name  string
	Inode int32
}

func readBlockEntries(img *image.Image, addr *blockaddr.Addressor, rec image.RawInode, logicalBlock int) ([]image.RawDirent, int32, error) {
	blocks, err := addr.Resolve(rec, logicalBlock+1)
	if err != nil {
		return nil, 0, err
	}
	physical := blocks[logicalBlock]

	raw, err := img.ReadBlock(img.DataBlockOffset(physical))
	if err != nil {
		return nil, 0, simfs.WrapIOError(err)
	}

	entries := make([]image.RawDirent, EntriesPerBlock)
	for i := 0; i < EntriesPerBlock; i++ {
		off := i * image.DirentSize
		entries[i] = image.RawDirent{Inode: int32(binary.LittleEndian.Uint32(raw[off : off+4]))}
		copy(entries[i].Name[:], raw[off+4:off+image.DirentSize])
	}
	return entries, physical, nil
}

func writeBlockEntries(img *image.Image, physical int32, entries []image.RawDirent) error {
	raw := make([]byte, image.BlockSize)
	for i, e := range entries {
		off := i * image.DirentSize
		binary.LittleEndian.PutUint32(raw[off:off+4], uint32(e.Inode))
		copy(raw[off+4:off+image.DirentSize], e.Name[:])
	}
	if err := img.WriteBlock(img.DataBlockOffset(physical), raw); err != nil {
		return simfs.WrapIOError(err)
	}
	return nil
}

// List returns every occupied entry in the directory, sorted by name.
func List(img *image.Image, addr *blockaddr.Addressor, rec image.RawInode) ([]Entry, error) {
	have, err := addr.Count(rec)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for block := 0; block < have; block++ {
		entries, _, err := readBlockEntries(img, addr, rec, block)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsEmpty() {
				continue
			}
			out = append(out, Entry{Name: e.NameString(), Inode: e.Inode})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Lookup finds the i-node referenced by name in the directory, if present.
func Lookup(img *image.Image, addr *blockaddr.Addressor, rec image.RawInode, name string) (int32, bool, error) {
	have, err := addr.Count(rec)
	if err != nil {
		return 0, false, err
	}
	for block := 0; block < have; block++ {
		entries, _, err := readBlockEntries(img, addr, rec, block)
		if err != nil {
			return 0, false, err
		}
		for _, e := range entries {
			if !e.IsEmpty() && e.NameString() == name {
				return e.Inode, true, nil
			}
		}
	}
	return 0, false, nil
}

// Insert adds a new entry for name -> childInode to the directory,
// growing it by one block if no empty slot remains. It returns the
// directory's i-node record, updated if it grew.
func Insert(img *image.Image, addr *blockaddr.Addressor, alloc *bitmap.Allocator, rec image.RawInode, childInode int32, name string) (image.RawInode, error) {
	if len(name) > image.MaxNameLength {
		return rec, simfs.NewErrorWithMessage(simfs.KindCannotCreate, "name too long")
	}

	have, err := addr.Count(rec)
	if err != nil {
		return rec, err
	}
	for block := 0; block < have; block++ {
		entries, physical, err := readBlockEntries(img, addr, rec, block)
		if err != nil {
			return rec, err
		}
		for i, e := range entries {
			if !e.IsEmpty() {
				continue
			}
			entries[i] = image.NewRawDirent(childInode, name)
			if err := writeBlockEntries(img, physical, entries); err != nil {
				return rec, err
			}
			return rec, nil
		}
	}

	// No free slot: grow the directory by one block.
	newRec, newBlocks, err := addr.Grow(rec, have, have+1, alloc)
	if err != nil {
		return rec, err
	}
	physical := newBlocks[0]

	entries := make([]image.RawDirent, EntriesPerBlock)
	entries[0] = image.NewRawDirent(childInode, name)
	for i := 1; i < EntriesPerBlock; i++ {
		entries[i] = image.RawDirent{}
	}
	if err := writeBlockEntries(img, physical, entries); err != nil {
		return rec, err
	}

	return newRec, nil
}

// Remove deletes the entry named name from the directory, then releases
// any now-fully-empty trailing data blocks (never the directory's first
// block, which persists for the directory's lifetime). An emptied block
// that is followed by a non-empty one is kept.
func Remove(img *image.Image, addr *blockaddr.Addressor, alloc *bitmap.Allocator, rec image.RawInode, name string) (image.RawInode, error) {
	have, err := addr.Count(rec)
	if err != nil {
		return rec, err
	}
	found := false

	for block := 0; block < have && !found; block++ {
		entries, physical, err := readBlockEntries(img, addr, rec, block)
		if err != nil {
			return rec, err
		}
		for i, e := range entries {
			if e.IsEmpty() || e.NameString() != name {
				continue
			}
			entries[i] = image.RawDirent{}
			if err := writeBlockEntries(img, physical, entries); err != nil {
				return rec, err
			}
			found = true
			break
		}
	}

	if !found {
		return rec, simfs.NewError(simfs.KindNotFound)
	}

	// Trim trailing empty blocks, keeping at least one block (logical 0).
	trimTo := have
	for trimTo > 1 {
		entries, _, err := readBlockEntries(img, addr, rec, trimTo-1)
		if err != nil {
			return rec, err
		}
		if !allEmpty(entries) {
			break
		}
		trimTo--
	}

	if trimTo == have {
		return rec, nil
	}

	newRec, err := addr.Truncate(rec, have, trimTo, alloc)
	if err != nil {
		return rec, err
	}
	return newRec, nil
}

func allEmpty(entries []image.RawDirent) bool {
	for _, e := range entries {
		if !e.IsEmpty() {
			return false
		}
	}
	return true
}
