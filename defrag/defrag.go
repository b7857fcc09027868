// Package defrag implements the two-pass physical block reordering
// described in spec §4.7: it compacts every used data block into the low
// prefix of the data region, then rearranges each i-node's blocks so they
// occupy contiguous, ascending physical block numbers.
//
// Unlike every other mutating operation in this module, defrag bypasses the
// normal bitmap/i-node/directory write order and rewrites the data region
// wholesale, one block swap at a time. Each swap is still write-through:
// physical bytes, bitmap bits, and i-node/indirect-table pointers are
// updated together before the next swap begins.
package defrag

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/jbesta/simfs/bitmap"
	"github.com/jbesta/simfs/blockaddr"
	"github.com/jbesta/simfs/image"
	"github.com/jbesta/simfs/inode"
)

// refKind identifies where a used block's back-reference lives.
type refKind int

const (
	refDirect refKind = iota
	refIndirect1
	refIndirect2
	refInTable
)

// blockRef is the per-used-block bookkeeping record from spec §4.7's
// preparation pass: who owns this block and where the pointer to it is
// stored.
type blockRef struct {
	owner       int32
	kind        refKind
	directIndex int   // valid when kind == refDirect
	tableBlock  int32 // valid when kind == refInTable: physical block of the table
	ordinal     int   // valid when kind == refInTable: position within that table
}

// state bundles everything a swap needs to rewrite references, so the
// bookkeeping in switchBlocks and retarget doesn't have to thread five
// separate arguments through every call.
type state struct {
	img   *image.Image
	alloc *bitmap.Allocator
	table *inode.Table
	addr  *blockaddr.Addressor
	refs  map[int32]blockRef
	lists map[int32][]int32
}

// Run performs the full two-pass defragmentation against the image backing
// table/addr/alloc. A fatal image I/O failure during either pass aborts it
// and is returned at once. Problems noticed while preparing (a block
// referenced by more than one owner, or an indirect table that could not be
// read) are collected instead and do not abort the pass; once both passes
// have completed they are returned together as the error.
func Run(img *image.Image, alloc *bitmap.Allocator, table *inode.Table, addr *blockaddr.Addressor) error {
	sb := img.Superblock()

	st := &state{
		img:   img,
		alloc: alloc,
		table: table,
		addr:  addr,
		refs:  make(map[int32]blockRef, sb.DataClusterCount),
		lists: make(map[int32][]int32),
	}

	var warnings *multierror.Error

	for id := int32(0); uint32(id) < table.Count(); id++ {
		rec, err := table.Get(id)
		if err != nil {
			return err
		}
		if rec.IsFree() {
			continue
		}
		list, werr := collectRefs(addr, rec, id, st.refs)
		if werr != nil {
			warnings = multierror.Append(warnings, werr)
		}
		st.lists[id] = list
	}

	usedCount := int32(alloc.PopCount())

	if err := st.compact(usedCount, int32(sb.DataClusterCount)); err != nil {
		return err
	}
	if err := st.reconcile(usedCount); err != nil {
		return err
	}

	return warnings.ErrorOrNil()
}

// collectRefs records every block rec references (direct, indirect-table
// contents, then the indirect table blocks themselves, in that order) into
// refs and returns the owner's flat block list. A block already claimed by
// an earlier owner is reported as a warning and left pointing at its first
// owner, since the bitmap invariant (spec §3.6) guarantees this shouldn't
// happen on a consistent image.
func collectRefs(addr *blockaddr.Addressor, rec image.RawInode, id int32, refs map[int32]blockRef) ([]int32, error) {
	var list []int32
	var warn error

	claim := func(block int32, ref blockRef) {
		if _, taken := refs[block]; taken {
			warn = fmt.Errorf("inode %d: block %d already claimed by another owner", id, block)
			return
		}
		refs[block] = ref
		list = append(list, block)
	}

	for i, d := range rec.Direct {
		if d == image.Free {
			continue
		}
		claim(d, blockRef{owner: id, kind: refDirect, directIndex: i})
	}

	addTier := func(tableBlock int32, kind refKind) error {
		if tableBlock == image.Free {
			return nil
		}
		entries, err := addr.ReadTable(tableBlock)
		if err != nil {
			return err
		}
		for ord, v := range entries {
			if v == image.Free {
				continue
			}
			claim(v, blockRef{owner: id, kind: refInTable, tableBlock: tableBlock, ordinal: ord})
		}
		claim(tableBlock, blockRef{owner: id, kind: kind})
		return nil
	}

	if err := addTier(rec.Indirect1, refIndirect1); err != nil {
		return list, err
	}
	if err := addTier(rec.Indirect2, refIndirect2); err != nil {
		return list, err
	}

	return list, warn
}

// compact is pass 1: it walks physical positions [0, usedCount) and swaps
// any empty slot it finds with the next used block beyond it, moving every
// used block into the low prefix of the data region.
func (st *state) compact(usedCount, dataClusterCount int32) error {
	for i := int32(0); i < usedCount; i++ {
		if st.alloc.Get(i) {
			continue
		}
		j := i + 1
		for j < dataClusterCount && !st.alloc.Get(j) {
			j++
		}
		if j >= dataClusterCount {
			break
		}
		if err := st.switchBlocks(j, i); err != nil {
			return err
		}
	}
	return nil
}

// reconcile is pass 2: for each i-node whose block list isn't already
// strictly ascending with stride 1, it walks the list and swaps each
// logical block into its target contiguous position.
func (st *state) reconcile(usedCount int32) error {
	for i := int32(0); i < usedCount; {
		ref, ok := st.refs[i]
		if !ok {
			i++
			continue
		}
		list := st.lists[ref.owner]

		if isSequential(list) {
			i += int32(len(list))
			continue
		}

		for k, block := range list {
			j := i + int32(k)
			if block != j {
				if err := st.switchBlocks(block, j); err != nil {
					return err
				}
				list = st.lists[ref.owner]
			}
		}
		i += int32(len(list))
	}
	return nil
}

func isSequential(list []int32) bool {
	for k := 0; k+1 < len(list); k++ {
		if list[k+1] != list[k]+1 {
			return false
		}
	}
	return true
}

// switchBlocks physically swaps the contents of data blocks a and b and
// rewrites every reference to either one so it points at the other,
// including, when the block being moved is itself an indirect table, the
// bookkeeping for every payload block that table names.
func (st *state) switchBlocks(a, b int32) error {
	if a == b {
		return nil
	}

	bufA, err := st.img.ReadBlock(st.img.DataBlockOffset(a))
	if err != nil {
		return err
	}
	bufB, err := st.img.ReadBlock(st.img.DataBlockOffset(b))
	if err != nil {
		return err
	}
	if err := st.img.WriteBlock(st.img.DataBlockOffset(a), bufB); err != nil {
		return err
	}
	if err := st.img.WriteBlock(st.img.DataBlockOffset(b), bufA); err != nil {
		return err
	}

	usedA := st.alloc.Get(a)
	usedB := st.alloc.Get(b)
	refA, hasA := st.refs[a]
	refB, hasB := st.refs[b]

	if hasA {
		if err := st.retarget(refA, a, b); err != nil {
			return err
		}
	}
	if hasB {
		if err := st.retarget(refB, b, a); err != nil {
			return err
		}
	}

	delete(st.refs, a)
	delete(st.refs, b)
	if hasA {
		st.refs[b] = refA
	}
	if hasB {
		st.refs[a] = refB
	}

	if usedA != usedB {
		if err := st.alloc.SetUsed(a, usedB); err != nil {
			return err
		}
		if err := st.alloc.SetUsed(b, usedA); err != nil {
			return err
		}
	}
	return nil
}

// retarget is called once per side of a swap: ref used to describe the
// block at oldBlock, which now lives at newBlock. It rewrites whatever
// on-disk pointer named oldBlock so it names newBlock instead, updates the
// owner's flat block list, and — if ref itself named an indirect table —
// walks that table's (unmoved) payload entries to repoint their tableBlock
// bookkeeping at the table's new location.
func (st *state) retarget(ref blockRef, oldBlock, newBlock int32) error {
	replaceInList(st.lists, ref.owner, oldBlock, newBlock)

	switch ref.kind {
	case refDirect:
		rec, err := st.table.Get(ref.owner)
		if err != nil {
			return err
		}
		rec.Direct[ref.directIndex] = newBlock
		if err := st.table.Put(ref.owner, rec); err != nil {
			return err
		}
	case refIndirect1, refIndirect2:
		rec, err := st.table.Get(ref.owner)
		if err != nil {
			return err
		}
		if ref.kind == refIndirect1 {
			rec.Indirect1 = newBlock
		} else {
			rec.Indirect2 = newBlock
		}
		if err := st.table.Put(ref.owner, rec); err != nil {
			return err
		}
		// The table's own content (and hence the payload block numbers it
		// names) didn't move — only the table block itself did. Every
		// payload ref's bookkeeping of "which table block holds my
		// pointer" now needs to say newBlock instead of oldBlock.
		entries, err := st.addr.ReadTable(newBlock)
		if err != nil {
			return err
		}
		for _, v := range entries {
			if v == image.Free {
				continue
			}
			if r, ok := st.refs[v]; ok && r.kind == refInTable && r.tableBlock == oldBlock {
				r.tableBlock = newBlock
				st.refs[v] = r
			}
		}
	case refInTable:
		entries, err := st.addr.ReadTable(ref.tableBlock)
		if err != nil {
			return err
		}
		entries[ref.ordinal] = newBlock
		if err := st.addr.WriteTable(ref.tableBlock, entries); err != nil {
			return err
		}
	}
	return nil
}

func replaceInList(lists map[int32][]int32, owner int32, oldBlock, newBlock int32) {
	list := lists[owner]
	for i, v := range list {
		if v == oldBlock {
			list[i] = newBlock
			return
		}
	}
}
