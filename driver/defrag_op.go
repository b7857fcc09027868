package driver

import (
	"github.com/jbesta/simfs"
	"github.com/jbesta/simfs/defrag"
)

// Defrag compacts every used data block into the low prefix of the data
// region and makes each i-node's logical block sequence physically
// contiguous and ascending, per spec §4.7.
func (fs *FileSystem) Defrag() (simfs.Status, error) {
	if err := defrag.Run(fs.Img, fs.Alloc, fs.Table, fs.Addr); err != nil {
		return "", simfs.WrapIOError(err)
	}
	return simfs.StatusOK, nil
}
