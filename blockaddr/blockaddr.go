// Package blockaddr translates between an i-node's logical data-block
// sequence (block 0, 1, 2, ... of a file or directory) and the physical data
// blocks that back it, following the two-tier addressing scheme: five
// direct pointers, then one indirect table of block pointers, then a second
// indirect table of block pointers. Both indirect tables are flat: each
// holds up to PointersPerBlock plain data-block references, there is no
// table-of-tables tier.
//
// Every pointer an i-node or indirect table holds — direct, indirect1,
// indirect2, and every slot inside an indirect table — is a data-region
// block index, the same numbering space the bitmap allocator works in. The
// image package's DataBlockOffset converts one of these into an absolute
// image block number for actual I/O.
package blockaddr

import (
	"encoding/binary"

	"github.com/jbesta/simfs"
	"github.com/jbesta/simfs/bitmap"
	"github.com/jbesta/simfs/image"
)

// PointersPerBlock is how many 4-byte block indices fit in one block.
const PointersPerBlock = image.BlockSize / 4

// DirectCount is the number of direct pointers held in the i-node itself.
const DirectCount = 5

// Capacity tiers, expressed as counts of logical data blocks a file can hold
// once a given pointer level has been filled entirely.
const (
	Tier1Capacity = DirectCount                     // direct only
	Tier2Capacity = Tier1Capacity + PointersPerBlock // + indirect1
	Tier3Capacity = Tier2Capacity + PointersPerBlock // + indirect2 (max)
)

// MaxFileSize is the largest byte size addressable with direct + both
// indirect tables fully populated.
const MaxFileSize = Tier3Capacity * image.BlockSize

// Addressor resolves and grows the block list for a single i-node.
type Addressor struct {
	img *image.Image
}

// New builds an Addressor bound to the given image.
func New(img *image.Image) *Addressor {
	return &Addressor{img: img}
}

// ReadTable decodes the PointersPerBlock entries of the indirect table
// stored in the given data block, exposed for callers (the defrag pass)
// that need to rewrite table contents directly rather than through Grow
// or Truncate.
func (a *Addressor) ReadTable(block int32) ([]int32, error) {
	return a.readTable(block)
}

// WriteTable persists entries as the contents of the indirect table at the
// given data block. len(entries) must be PointersPerBlock.
func (a *Addressor) WriteTable(block int32, entries []int32) error {
	return a.writeTable(block, entries)
}

func (a *Addressor) readTable(block int32) ([]int32, error) {
	raw, err := a.img.ReadBlock(a.img.DataBlockOffset(block))
	if err != nil {
		return nil, simfs.WrapIOError(err)
	}
	entries := make([]int32, PointersPerBlock)
	for i := range entries {
		entries[i] = int32(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
	}
	return entries, nil
}

func (a *Addressor) writeTable(block int32, entries []int32) error {
	raw := make([]byte, image.BlockSize)
	for i, v := range entries {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], uint32(v))
	}
	if err := a.img.WriteBlock(a.img.DataBlockOffset(block), raw); err != nil {
		return simfs.WrapIOError(err)
	}
	return nil
}

func newTable() []int32 {
	entries := make([]int32, PointersPerBlock)
	for i := range entries {
		entries[i] = image.Free
	}
	return entries
}

// Count returns how many logical data blocks rec currently has allocated,
// determined by walking its direct and indirect pointers rather than by any
// byte-size field. This is how directory i-nodes track their own block
// count, since a directory's file size is reserved for the unrelated
// ancestor-size rollup.
func (a *Addressor) Count(rec image.RawInode) (int, error) {
	count := 0
	for i := 0; i < DirectCount; i++ {
		if rec.Direct[i] != image.Free {
			count++
		}
	}
	if count < DirectCount || rec.Indirect1 == image.Free {
		return count, nil
	}

	table1, err := a.readTable(rec.Indirect1)
	if err != nil {
		return 0, err
	}
	n1 := 0
	for _, v := range table1 {
		if v != image.Free {
			n1++
		}
	}
	count += n1
	if n1 < PointersPerBlock || rec.Indirect2 == image.Free {
		return count, nil
	}

	table2, err := a.readTable(rec.Indirect2)
	if err != nil {
		return 0, err
	}
	for _, v := range table2 {
		if v != image.Free {
			count++
		}
	}
	return count, nil
}

// Resolve returns the first n logical data-block addresses referenced by
// rec, in order. It is an error for rec to reference fewer than n blocks.
func (a *Addressor) Resolve(rec image.RawInode, n int) ([]int32, error) {
	blocks := make([]int32, 0, n)

	for i := 0; i < DirectCount && len(blocks) < n; i++ {
		blocks = append(blocks, rec.Direct[i])
	}
	if len(blocks) >= n {
		return blocks, nil
	}

	if rec.Indirect1 == image.Free {
		return nil, simfs.NewError(simfs.KindNotFound)
	}
	table1, err := a.readTable(rec.Indirect1)
	if err != nil {
		return nil, err
	}
	for i := 0; i < PointersPerBlock && len(blocks) < n; i++ {
		blocks = append(blocks, table1[i])
	}
	if len(blocks) >= n {
		return blocks, nil
	}

	if rec.Indirect2 == image.Free {
		return nil, simfs.NewError(simfs.KindNotFound)
	}
	table2, err := a.readTable(rec.Indirect2)
	if err != nil {
		return nil, err
	}
	for i := 0; i < PointersPerBlock && len(blocks) < n; i++ {
		blocks = append(blocks, table2[i])
	}

	if len(blocks) < n {
		return nil, simfs.NewError(simfs.KindNotFound)
	}
	return blocks, nil
}

// Grow extends rec so it addresses wantCount logical data blocks, allocating
// new data blocks (and, as needed, the indirect table blocks themselves)
// from alloc. It returns the updated i-node record and the data-block
// addresses newly assigned to logical positions [haveCount, wantCount), in
// order; this excludes the indirect table blocks themselves, which callers
// writing file content must not step on.
//
// Per spec §4.3, the whole request is sized and allocated as one plan
// through alloc.AllocateSet (data-block allocator, contiguous-first):
// total blocks = new data-block count + one table block for each indirect
// tier newly brought into existence by this call, with the table blocks
// placed last in the plan and assigned to indirect1 then indirect2 from its
// tail, in that order.
func (a *Addressor) Grow(rec image.RawInode, haveCount, wantCount int, alloc *bitmap.Allocator) (image.RawInode, []int32, error) {
	if wantCount <= haveCount {
		return rec, nil, nil
	}
	if wantCount > Tier3Capacity {
		return rec, nil, simfs.NewError(simfs.KindTooLarge)
	}

	newDataCount := wantCount - haveCount
	needIndirect1 := rec.Indirect1 == image.Free && wantCount > DirectCount
	needIndirect2 := rec.Indirect2 == image.Free && wantCount > Tier2Capacity

	total := uint32(newDataCount)
	if needIndirect1 {
		total++
	}
	if needIndirect2 {
		total++
	}

	plan, err := alloc.AllocateSet(total)
	if err != nil {
		return rec, nil, err
	}

	dataPlan := plan[:newDataCount]
	tablePlan := plan[newDataCount:]
	if needIndirect1 {
		rec.Indirect1 = tablePlan[0]
		tablePlan = tablePlan[1:]
		if err := a.writeTable(rec.Indirect1, newTable()); err != nil {
			return rec, nil, err
		}
	}
	if needIndirect2 {
		rec.Indirect2 = tablePlan[0]
		if err := a.writeTable(rec.Indirect2, newTable()); err != nil {
			return rec, nil, err
		}
	}

	next := 0
	nextData := func() int32 {
		b := dataPlan[next]
		next++
		return b
	}

	// Direct pointers.
	for i := haveCount; i < DirectCount && i < wantCount; i++ {
		rec.Direct[i] = nextData()
	}
	if wantCount <= DirectCount {
		return rec, dataPlan, nil
	}

	// First indirect table.
	if err := a.fillTier(rec.Indirect1, haveCount, wantCount, DirectCount, Tier2Capacity, nextData); err != nil {
		return rec, nil, err
	}
	if wantCount <= Tier2Capacity {
		return rec, dataPlan, nil
	}

	// Second indirect table.
	if err := a.fillTier(rec.Indirect2, haveCount, wantCount, Tier2Capacity, Tier3Capacity, nextData); err != nil {
		return rec, nil, err
	}
	return rec, dataPlan, nil
}

// fillTier fills the portion of one flat indirect table that falls within
// [haveCount, wantCount), consuming data-block addresses from nextData.
// tableBlock must already exist (Grow allocates it up front, as part of the
// same AllocateSet plan, before calling this). tierStart/tierEnd are the
// logical block range this table tier covers in full (e.g.
// DirectCount..Tier2Capacity for indirect1).
func (a *Addressor) fillTier(tableBlock int32, haveCount, wantCount, tierStart, tierEnd int, nextData func() int32) error {
	table, err := a.readTable(tableBlock)
	if err != nil {
		return err
	}

	lo := haveCount - tierStart
	if lo < 0 {
		lo = 0
	}
	hi := wantCount - tierStart
	if hi > tierEnd-tierStart {
		hi = tierEnd - tierStart
	}

	dirty := false
	for i := lo; i < hi; i++ {
		table[i] = nextData()
		dirty = true
	}
	if dirty {
		if err := a.writeTable(tableBlock, table); err != nil {
			return err
		}
	}
	return nil
}

// Truncate shrinks rec from haveCount down to wantCount logical data blocks,
// releasing the data blocks (and any indirect tables left empty) back to
// alloc.
func (a *Addressor) Truncate(rec image.RawInode, haveCount, wantCount int, alloc *bitmap.Allocator) (image.RawInode, error) {
	if wantCount >= haveCount {
		return rec, nil
	}

	if err := a.shrinkTier(&rec.Indirect2, haveCount, wantCount, Tier2Capacity, Tier3Capacity, alloc); err != nil {
		return rec, err
	}
	if err := a.shrinkTier(&rec.Indirect1, haveCount, wantCount, DirectCount, Tier2Capacity, alloc); err != nil {
		return rec, err
	}

	hi := haveCount - 1
	if hi >= DirectCount {
		hi = DirectCount - 1
	}
	lo := wantCount
	if lo < 0 {
		lo = 0
	}
	for i := hi; i >= lo; i-- {
		if rec.Direct[i] == image.Free {
			continue
		}
		if err := alloc.Free(rec.Direct[i]); err != nil {
			return rec, err
		}
		rec.Direct[i] = image.Free
	}

	return rec, nil
}

// shrinkTier releases entries of one flat indirect table that fall in
// [wantCount, haveCount), freeing the table block itself if every entry it
// held is released. ptr is the i-node's own Indirect1/Indirect2 field,
// mutated in place.
func (a *Addressor) shrinkTier(ptr *int32, haveCount, wantCount, tierStart, tierEnd int, alloc *bitmap.Allocator) error {
	if haveCount <= tierStart || *ptr == image.Free {
		return nil
	}

	table, err := a.readTable(*ptr)
	if err != nil {
		return err
	}

	hi := haveCount - tierStart - 1
	if hi >= tierEnd-tierStart {
		hi = tierEnd - tierStart - 1
	}
	lo := wantCount - tierStart
	if lo < 0 {
		lo = 0
	}

	for i := hi; i >= lo; i-- {
		if table[i] == image.Free {
			continue
		}
		if err := alloc.Free(table[i]); err != nil {
			return err
		}
		table[i] = image.Free
	}

	if lo == 0 {
		if err := alloc.Free(*ptr); err != nil {
			return err
		}
		*ptr = image.Free
		return nil
	}

	if err := a.writeTable(*ptr, table); err != nil {
		return err
	}
	return nil
}
