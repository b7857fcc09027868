package driver

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jbesta/simfs"
	"github.com/jbesta/simfs/blockaddr"
	"github.com/jbesta/simfs/dirstore"
	"github.com/jbesta/simfs/image"
)

// basename returns the final component of an (in-image) path.
func basename(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if slash := strings.LastIndex(trimmed, "/"); slash >= 0 {
		return trimmed[slash+1:]
	}
	return trimmed
}

// Cat returns the full byte contents of the file at path, its final block
// truncated to the stored byte length.
func (fs *FileSystem) Cat(path string) ([]byte, simfs.Status, error) {
	id, err := fs.Tree.Resolve(path)
	if err != nil {
		status, ferr := statusFor(err)
		return nil, status, ferr
	}
	rec, err := fs.Table.Get(id)
	if err != nil {
		status, ferr := statusFor(err)
		return nil, status, ferr
	}
	if rec.IsDirectory != 0 {
		return nil, simfs.StatusFileNotFound, nil
	}

	n := logicalBlockCount(int64(rec.FileSize))
	if n == 0 {
		return nil, simfs.StatusOK, nil
	}
	blocks, err := fs.Addr.Resolve(rec, n)
	if err != nil {
		status, ferr := statusFor(err)
		return nil, status, ferr
	}

	out := make([]byte, 0, rec.FileSize)
	for i, b := range blocks {
		buf, rerr := fs.Img.ReadBlock(fs.Img.DataBlockOffset(b))
		if rerr != nil {
			return nil, "", simfs.WrapIOError(rerr)
		}
		if i == len(blocks)-1 {
			buf = buf[:tailLength(int64(rec.FileSize))]
		}
		out = append(out, buf...)
	}
	return out, simfs.StatusOK, nil
}

// Rm removes the file at path, releasing its i-node and data blocks and
// rolling its size out of every ancestor directory.
func (fs *FileSystem) Rm(path string) (simfs.Status, error) {
	parentID, name, err := fs.Tree.SplitParentAndLeaf(path)
	if err != nil {
		return pathStatusFor(err)
	}
	parentRec, err := fs.Table.Get(parentID)
	if err != nil {
		return pathStatusFor(err)
	}

	childID, found, err := dirstore.Lookup(fs.Img, fs.Addr, parentRec, name)
	if err != nil {
		return statusFor(err)
	}
	if !found {
		return simfs.StatusFileNotFound, nil
	}
	childRec, err := fs.Table.Get(childID)
	if err != nil {
		return statusFor(err)
	}
	if childRec.IsDirectory != 0 {
		return simfs.StatusFileNotFound, nil
	}

	newParentRec, err := dirstore.Remove(fs.Img, fs.Addr, fs.Alloc, parentRec, name)
	if err != nil {
		return statusFor(err)
	}
	if err := fs.Table.Put(parentID, newParentRec); err != nil {
		return statusFor(err)
	}

	if err := fs.releaseAllBlocks(childRec); err != nil {
		return statusFor(err)
	}
	if err := fs.Table.Release(childID); err != nil {
		return statusFor(err)
	}
	fs.Tree.Forget(childID)

	if err := fs.updateAncestorSizes(parentID, -childRec.FileSize); err != nil {
		return statusFor(err)
	}
	return simfs.StatusOK, nil
}

// createFile allocates a fresh i-node and enough data blocks for size bytes,
// links it into dstDir under name, and copies size bytes from r into it
// (zero-padding the final block's tail beyond size). It is the shared tail
// of Cp and Incp.
func (fs *FileSystem) createFile(dstDir int32, name string, size int64, r io.Reader) (simfs.Status, error) {
	if size > int64(blockaddr.MaxFileSize) {
		return simfs.StatusFileTooLarge, nil
	}

	dstRec, err := fs.Table.Get(dstDir)
	if err != nil {
		return pathStatusFor(err)
	}
	if dstRec.IsDirectory == 0 {
		return simfs.StatusPathNotFound, nil
	}
	if _, found, err := dirstore.Lookup(fs.Img, fs.Addr, dstRec, name); err != nil {
		return statusFor(err)
	} else if found {
		return simfs.StatusExist, nil
	}

	childID, childRec, err := fs.Table.AllocateFree(false)
	if err != nil {
		return statusFor(err)
	}

	n := logicalBlockCount(size)
	childRec, newBlocks, err := fs.Addr.Grow(childRec, 0, n, fs.Alloc)
	if err != nil {
		_ = fs.Table.Release(childID)
		return statusFor(err)
	}
	childRec.FileSize = int32(size)
	if err := fs.Table.Put(childID, childRec); err != nil {
		return statusFor(err)
	}

	newDstRec, err := dirstore.Insert(fs.Img, fs.Addr, fs.Alloc, dstRec, childID, name)
	if err != nil {
		_ = fs.releaseAllBlocks(childRec)
		_ = fs.Table.Release(childID)
		return statusFor(err)
	}
	if err := fs.Table.Put(dstDir, newDstRec); err != nil {
		return statusFor(err)
	}

	fs.Tree.Remember(childID, dstDir, name, false)
	if err := fs.updateAncestorSizes(dstDir, int32(size)); err != nil {
		return statusFor(err)
	}

	if err := fs.writeBlocksFrom(r, newBlocks); err != nil {
		return statusFor(err)
	}
	return simfs.StatusOK, nil
}

// writeBlocksFrom copies from r into the given physical data blocks, in
// order, using one block-sized buffer; the final block is zero-padded
// beyond whatever r had left.
func (fs *FileSystem) writeBlocksFrom(r io.Reader, blocks []int32) error {
	buf := make([]byte, image.BlockSize)
	for _, b := range blocks {
		for i := range buf {
			buf[i] = 0
		}
		if _, err := io.ReadFull(r, buf); err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return err
		}
		if err := fs.Img.WriteBlock(fs.Img.DataBlockOffset(b), buf); err != nil {
			return err
		}
	}
	return nil
}

// Cp copies the in-image file src into the directory dst under its own
// basename.
func (fs *FileSystem) Cp(src, dst string) (simfs.Status, error) {
	srcID, err := fs.Tree.Resolve(src)
	if err != nil {
		return statusFor(err)
	}
	srcRec, err := fs.Table.Get(srcID)
	if err != nil {
		return statusFor(err)
	}
	if srcRec.IsDirectory != 0 {
		return simfs.StatusFileNotFound, nil
	}

	dstDir, err := fs.Tree.Resolve(dst)
	if err != nil {
		return pathStatusFor(err)
	}

	n := logicalBlockCount(int64(srcRec.FileSize))
	var srcBlocks []int32
	if n > 0 {
		srcBlocks, err = fs.Addr.Resolve(srcRec, n)
		if err != nil {
			return statusFor(err)
		}
	}

	name := basename(src)
	return fs.createFile(dstDir, name, int64(srcRec.FileSize), newBlockReader(fs, srcBlocks))
}

// blockReader serves bytes out of a sequence of physical data blocks, for
// feeding an in-image file's contents back through createFile's writer path
// during cp.
type blockReader struct {
	fs     *FileSystem
	blocks []int32
	cur    []byte
}

func newBlockReader(fs *FileSystem, blocks []int32) *blockReader {
	return &blockReader{fs: fs, blocks: blocks}
}

func (r *blockReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		if len(r.blocks) == 0 {
			return 0, io.EOF
		}
		buf, err := r.fs.Img.ReadBlock(r.fs.Img.DataBlockOffset(r.blocks[0]))
		if err != nil {
			return 0, err
		}
		r.blocks = r.blocks[1:]
		r.cur = buf
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

// Mv moves the file src into directory dst, keeping its own basename. No
// data is copied: only the directory entry moves and ancestor sizes adjust.
func (fs *FileSystem) Mv(src, dst string) (simfs.Status, error) {
	srcParentID, name, err := fs.Tree.SplitParentAndLeaf(src)
	if err != nil {
		return pathStatusFor(err)
	}
	srcParentRec, err := fs.Table.Get(srcParentID)
	if err != nil {
		return pathStatusFor(err)
	}
	childID, found, err := dirstore.Lookup(fs.Img, fs.Addr, srcParentRec, name)
	if err != nil {
		return statusFor(err)
	}
	if !found {
		return simfs.StatusFileNotFound, nil
	}
	childRec, err := fs.Table.Get(childID)
	if err != nil {
		return statusFor(err)
	}
	if childRec.IsDirectory != 0 {
		return simfs.StatusFileNotFound, nil
	}

	dstDirID, err := fs.Tree.Resolve(dst)
	if err != nil {
		return pathStatusFor(err)
	}

	if dstDirID == srcParentID {
		return simfs.StatusOK, nil
	}

	dstDirRec, err := fs.Table.Get(dstDirID)
	if err != nil {
		return pathStatusFor(err)
	}
	if _, found, err := dirstore.Lookup(fs.Img, fs.Addr, dstDirRec, name); err != nil {
		return statusFor(err)
	} else if found {
		return simfs.StatusExist, nil
	}

	newDstDirRec, err := dirstore.Insert(fs.Img, fs.Addr, fs.Alloc, dstDirRec, childID, name)
	if err != nil {
		return statusFor(err)
	}
	if err := fs.Table.Put(dstDirID, newDstDirRec); err != nil {
		return statusFor(err)
	}

	newSrcParentRec, err := dirstore.Remove(fs.Img, fs.Addr, fs.Alloc, srcParentRec, name)
	if err != nil {
		return statusFor(err)
	}
	if err := fs.Table.Put(srcParentID, newSrcParentRec); err != nil {
		return statusFor(err)
	}
	if err := fs.updateAncestorSizes(srcParentID, -childRec.FileSize); err != nil {
		return statusFor(err)
	}
	if err := fs.updateAncestorSizes(dstDirID, childRec.FileSize); err != nil {
		return statusFor(err)
	}

	fs.Tree.Forget(childID)
	fs.Tree.Remember(childID, dstDirID, name, false)
	return simfs.StatusOK, nil
}

// Incp imports the host file at hostPath into the image directory dst,
// under the host file's own basename.
func (fs *FileSystem) Incp(hostPath, dst string) (simfs.Status, error) {
	f, err := os.Open(hostPath)
	if err != nil {
		return simfs.StatusFileNotFound, nil
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return simfs.StatusFileNotFound, nil
	}

	dstDir, err := fs.Tree.Resolve(dst)
	if err != nil {
		return pathStatusFor(err)
	}

	name := filepath.Base(hostPath)
	return fs.createFile(dstDir, name, stat.Size(), f)
}

// Outcp exports the in-image file src to hostDir/<name> on the host
// filesystem.
func (fs *FileSystem) Outcp(src, hostDir string) (simfs.Status, error) {
	data, status, err := fs.Cat(src)
	if err != nil || status != simfs.StatusOK {
		return status, err
	}

	name := basename(src)
	hostPath := filepath.Join(hostDir, name)
	if werr := os.WriteFile(hostPath, data, 0o644); werr != nil {
		return simfs.StatusCannotCreateFile, nil
	}
	return simfs.StatusOK, nil
}
