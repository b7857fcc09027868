package image

// RawInode is the packed, 38-byte on-disk representation of one i-node.
// Binary encoding relies on every field being a fixed-width integer type so
// that encoding/binary can serialize the struct directly with no padding.
type RawInode struct {
	NodeID      int32
	IsDirectory int8
	References  int8
	FileSize    int32
	Direct      [5]int32
	Indirect1   int32
	Indirect2   int32
}

// IsFree reports whether this i-node slot is unused.
func (r RawInode) IsFree() bool {
	return r.NodeID == Free
}
