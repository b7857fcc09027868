// Package driver wires together the image, bitmap, inode, blockaddr,
// dirstore, and vfs packages into the FileSystem type: the single entry
// point that every shell-like operation in spec §6 is implemented against.
//
// Every method that creates an object follows the write order protocol:
// allocator state and i-node fields are updated in memory first, then the
// bitmap is persisted, then the i-node record, then the directory payload,
// then the ancestor-size rollup, and finally (for cp/incp) the data bytes
// themselves. Removals (rm, rmdir) unlink the directory entry first, then
// release the data blocks and the i-node, then (rm) roll the size out of
// the ancestors.
// Each of those steps is already write-through at the package it belongs to,
// so FileSystem's job is only to call them in the right order and to leave
// no partial allocation behind when a step fails.
package driver

import (
	"io"

	"github.com/jbesta/simfs"
	"github.com/jbesta/simfs/bitmap"
	"github.com/jbesta/simfs/blockaddr"
	"github.com/jbesta/simfs/image"
	"github.com/jbesta/simfs/inode"
	"github.com/jbesta/simfs/vfs"
)

// FileSystem is the process-global set of structures describing one mounted
// simfs image: the host stream, the superblock-derived geometry, and the
// write-through allocator/table/tree views over it.
type FileSystem struct {
	Img   *image.Image
	Alloc *bitmap.Allocator
	Table *inode.Table
	Addr  *blockaddr.Addressor
	Tree  *vfs.Tree
}

// Format lays out a brand-new filesystem of sizeBytes on stream and returns
// a FileSystem mounted on it. Any prior content of stream is discarded.
func Format(stream io.ReadWriteSeeker, sizeBytes uint32) (*FileSystem, *simfs.Error) {
	img, _, err := image.Format(stream, sizeBytes)
	if err != nil {
		return nil, err
	}
	return open(img), nil
}

// Load mounts an already-formatted image found on stream.
func Load(stream io.ReadWriteSeeker) (*FileSystem, *simfs.Error) {
	img := image.Wrap(stream)
	if _, err := img.Load(); err != nil {
		return nil, simfs.WrapIOError(err)
	}
	return open(img), nil
}

func open(img *image.Image) *FileSystem {
	table := inode.Load(img)
	addr := blockaddr.New(img)
	alloc, err := bitmap.Load(img)
	if err != nil {
		// bitmap.Load only fails on fatal image I/O, which Format/Load
		// already would have surfaced while reading the superblock; a
		// failure here on a freshly-formatted or freshly-loaded image
		// means the stream went bad between those calls and this one.
		alloc = &bitmap.Allocator{}
	}
	tree := vfs.New(img, table, addr)
	return &FileSystem{Img: img, Alloc: alloc, Table: table, Addr: addr, Tree: tree}
}

// Sync flushes the underlying image stream.
func (fs *FileSystem) Sync() error {
	return fs.Img.Sync()
}

// statusFor maps a non-nil error from one of the lower packages to its
// response status. Errors that map to a Kind (spec §7) become (Status, nil);
// an unmapped error is a fatal image I/O failure and is returned as-is, per
// the contract that FileSystem methods return a non-nil error only for
// IOFailure conditions.
func statusFor(err error) (simfs.Status, error) {
	status, ok := simfs.StatusForError(err)
	if !ok {
		return "", err
	}
	return status, nil
}

// pathStatusFor is statusFor but maps a not-found Kind to StatusPathNotFound
// instead of StatusFileNotFound, for operations whose primary failure mode is
// an absent parent directory rather than an absent leaf.
func pathStatusFor(err error) (simfs.Status, error) {
	status, ok := simfs.PathStatusForError(err)
	if !ok {
		return "", err
	}
	return status, nil
}

// updateAncestorSizes adds delta to the FileSize of dirID and every ancestor
// of dirID up to and including the root, persisting each i-node as it goes.
// This is the rollup invariant of spec §3.6: a directory's FileSize is the
// sum of its descendants' FileSize.
func (fs *FileSystem) updateAncestorSizes(dirID int32, delta int32) error {
	cur := dirID
	for {
		rec, err := fs.Table.Get(cur)
		if err != nil {
			return simfs.WrapIOError(err)
		}
		rec.FileSize += delta
		if err := fs.Table.Put(cur, rec); err != nil {
			return simfs.WrapIOError(err)
		}
		if cur == vfs.RootID {
			return nil
		}
		parent, ok := fs.Tree.Parent(cur)
		if !ok {
			return nil
		}
		cur = parent
	}
}

// logicalBlockCount returns the number of logical data blocks a file of size
// bytes occupies, per spec §4.3 (ceil(F/B), 0 for an empty file).
func logicalBlockCount(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + image.BlockSize - 1) / image.BlockSize)
}

// tailLength returns the number of significant bytes in the last logical
// block of a file of the given size (B itself when size is an exact
// multiple of B and non-zero).
func tailLength(size int64) int {
	if size <= 0 {
		return 0
	}
	tail := size % image.BlockSize
	if tail == 0 {
		return image.BlockSize
	}
	return int(tail)
}

// releaseAllBlocks frees every data block (direct, indirect-table contents,
// and the indirect tables themselves) referenced by rec. The i-node slot
// itself is left for the caller to release. Used by rm and by the
// error-unwind path of cp/incp.
func (fs *FileSystem) releaseAllBlocks(rec image.RawInode) error {
	have, err := fs.Addr.Count(rec)
	if err != nil {
		return err
	}
	if _, err := fs.Addr.Truncate(rec, have, 0, fs.Alloc); err != nil {
		return err
	}
	return nil
}
