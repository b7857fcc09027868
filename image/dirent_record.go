package image

// DirentSize is the fixed, packed size of one directory entry, in bytes.
const DirentSize = 16

// MaxNameLength is the maximum number of significant bytes in an entry name,
// not counting the NUL terminator.
const MaxNameLength = 11

// RawDirent is the packed, 16-byte on-disk representation of one directory
// entry: a 4-byte i-node reference (0 means the slot is empty) followed by a
// 12-byte NUL-padded name.
type RawDirent struct {
	Inode int32
	Name  [12]byte
}

// IsEmpty reports whether this directory-entry slot is unused.
func (d RawDirent) IsEmpty() bool {
	return d.Inode == 0
}

// NameString returns the entry's name with trailing NUL padding stripped.
func (d RawDirent) NameString() string {
	n := 0
	for n < len(d.Name) && d.Name[n] != 0 {
		n++
	}
	return string(d.Name[:n])
}

// NewRawDirent builds a RawDirent for the given i-node and name. The name
// must be at most MaxNameLength bytes.
func NewRawDirent(inode int32, name string) RawDirent {
	var d RawDirent
	d.Inode = inode
	copy(d.Name[:], name)
	return d
}
