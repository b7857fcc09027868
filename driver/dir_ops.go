package driver

import (
	"fmt"
	"strings"

	"github.com/jbesta/simfs"
	"github.com/jbesta/simfs/dirstore"
	"github.com/jbesta/simfs/image"
)

// Mkdir creates an empty directory at path. Per spec §4.6, a freshly
// created directory contributes zero bytes to its ancestors' rolled-up
// size, so no size update is needed here.
func (fs *FileSystem) Mkdir(path string) (simfs.Status, error) {
	parentID, name, err := fs.Tree.SplitParentAndLeaf(path)
	if err != nil {
		return pathStatusFor(err)
	}
	parentRec, err := fs.Table.Get(parentID)
	if err != nil {
		return pathStatusFor(err)
	}

	if _, found, err := dirstore.Lookup(fs.Img, fs.Addr, parentRec, name); err != nil {
		return pathStatusFor(err)
	} else if found {
		return simfs.StatusExist, nil
	}

	childID, childRec, err := fs.Table.AllocateFree(true)
	if err != nil {
		return statusFor(err)
	}

	childRec, newBlocks, err := fs.Addr.Grow(childRec, 0, 1, fs.Alloc)
	if err != nil {
		_ = fs.Table.Release(childID)
		return statusFor(err)
	}
	childRec.Direct[0] = newBlocks[0]
	if err := fs.Table.Put(childID, childRec); err != nil {
		return statusFor(err)
	}

	newParentRec, err := dirstore.Insert(fs.Img, fs.Addr, fs.Alloc, parentRec, childID, name)
	if err != nil {
		_, _ = fs.Addr.Truncate(childRec, 1, 0, fs.Alloc)
		_ = fs.Table.Release(childID)
		return statusFor(err)
	}
	if err := fs.Table.Put(parentID, newParentRec); err != nil {
		return statusFor(err)
	}

	fs.Tree.Remember(childID, parentID, name, true)
	return simfs.StatusOK, nil
}

// Rmdir removes the empty directory at path.
func (fs *FileSystem) Rmdir(path string) (simfs.Status, error) {
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
	if childRec.IsDirectory == 0 {
		return simfs.StatusFileNotFound, nil
	}

	entries, err := dirstore.List(fs.Img, fs.Addr, childRec)
	if err != nil {
		return statusFor(err)
	}
	if len(entries) > 0 {
		return simfs.StatusNotEmpty, nil
	}

	newParentRec, err := dirstore.Remove(fs.Img, fs.Addr, fs.Alloc, parentRec, name)
	if err != nil {
		return statusFor(err)
	}
	if err := fs.Table.Put(parentID, newParentRec); err != nil {
		return statusFor(err)
	}

	// The child's own direct[0] block persists for a directory's lifetime
	// (spec §4.4) and is only released here, on rmdir, via Truncate(..., 0).
	if _, err := fs.Addr.Truncate(childRec, 1, 0, fs.Alloc); err != nil {
		return statusFor(err)
	}
	if err := fs.Table.Release(childID); err != nil {
		return statusFor(err)
	}

	if fs.Tree.Cwd() == childID {
		_ = fs.Tree.Chdir("..")
	}
	fs.Tree.Forget(childID)
	return simfs.StatusOK, nil
}

// Ls lists the contents of the directory at path: subdirectories prefixed
// with "+" then files prefixed with "-", one name per returned line.
func (fs *FileSystem) Ls(path string) ([]string, simfs.Status, error) {
	id, err := fs.Tree.Resolve(path)
	if err != nil {
		status, ferr := pathStatusFor(err)
		return nil, status, ferr
	}
	rec, err := fs.Table.Get(id)
	if err != nil {
		status, ferr := pathStatusFor(err)
		return nil, status, ferr
	}
	if rec.IsDirectory == 0 {
		return nil, simfs.StatusPathNotFound, nil
	}

	entries, err := dirstore.List(fs.Img, fs.Addr, rec)
	if err != nil {
		status, ferr := statusFor(err)
		return nil, status, ferr
	}

	var dirs, files []string
	for _, e := range entries {
		childRec, err := fs.Table.Get(e.Inode)
		if err != nil {
			status, ferr := statusFor(err)
			return nil, status, ferr
		}
		if childRec.IsDirectory != 0 {
			dirs = append(dirs, "+"+e.Name)
		} else {
			files = append(files, "-"+e.Name)
		}
	}
	return append(dirs, files...), simfs.StatusOK, nil
}

// Cd sets the working directory to path.
func (fs *FileSystem) Cd(path string) (simfs.Status, error) {
	if err := fs.Tree.Chdir(path); err != nil {
		return pathStatusFor(err)
	}
	return simfs.StatusOK, nil
}

// Pwd renders the absolute path of the working directory.
func (fs *FileSystem) Pwd() string {
	return fs.Tree.Pwd()
}

// Info renders name, size, i-node id, direct block numbers, and the
// contents of any indirect tables for path.
func (fs *FileSystem) Info(path string) (string, simfs.Status, error) {
	id, err := fs.Tree.Resolve(path)
	if err != nil {
		status, ferr := statusFor(err)
		return "", status, ferr
	}
	rec, err := fs.Table.Get(id)
	if err != nil {
		status, ferr := statusFor(err)
		return "", status, ferr
	}

	name := path
	if slash := strings.LastIndex(path, "/"); slash >= 0 {
		name = path[slash+1:]
	}
	if name == "" {
		name = "/"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s - %d - %d - ", name, rec.FileSize, rec.NodeID)

	var direct []string
	for _, d := range rec.Direct {
		if d != image.Free {
			direct = append(direct, fmt.Sprintf("%d", d))
		}
	}
	b.WriteString(strings.Join(direct, ","))

	if rec.Indirect1 != image.Free {
		entries, terr := fs.Addr.ReadTable(rec.Indirect1)
		if terr != nil {
			status, ferr := statusFor(terr)
			return "", status, ferr
		}
		fmt.Fprintf(&b, " IND1[%s]", joinNonFree(entries))
	}
	if rec.Indirect2 != image.Free {
		entries, terr := fs.Addr.ReadTable(rec.Indirect2)
		if terr != nil {
			status, ferr := statusFor(terr)
			return "", status, ferr
		}
		fmt.Fprintf(&b, " IND2[%s]", joinNonFree(entries))
	}
	return b.String(), simfs.StatusOK, nil
}

// joinNonFree renders every non-FREE entry of a decoded indirect table as a
// comma-separated list of block numbers, per spec §4.6: info prints "the
// contents of any indirect tables", not just the table's own block address.
func joinNonFree(entries []int32) string {
	out := make([]string, 0, len(entries))
	for _, v := range entries {
		if v != image.Free {
			out = append(out, fmt.Sprintf("%d", v))
		}
	}
	return strings.Join(out, ",")
}
