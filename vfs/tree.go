// Package vfs keeps an in-memory map of the directory tree backing a simfs
// image: a flat arena of nodes keyed by i-node id, each remembering its
// parent and name so that path resolution and ".." traversal don't have to
// re-walk the image from the root every time.
//
// The arena is a cache, never the source of truth: every node's children are
// still looked up from the on-disk directory entries via dirstore. Nodes are
// populated lazily as paths are resolved, and must be forgotten with Forget
// when their i-node is freed, since i-node ids are recycled.
package vfs

import (
	"strings"

	"github.com/jbesta/simfs"
	"github.com/jbesta/simfs/blockaddr"
	"github.com/jbesta/simfs/dirstore"
	"github.com/jbesta/simfs/image"
	"github.com/jbesta/simfs/inode"
)

// RootID is the i-node id of the filesystem root.
const RootID = image.RootInodeID

// node is one arena entry: a cached name and parent link for an i-node we've
// already resolved at least once.
type node struct {
	parent int32
	name   string
	isDir  bool
}

// Tree tracks the current working directory and caches resolved path
// components over an image's i-node table and directory entries.
type Tree struct {
	img   *image.Image
	table *inode.Table
	addr  *blockaddr.Addressor

	nodes map[int32]*node
	cwd   int32
}

// New builds a Tree rooted at the image's root directory, with the current
// working directory set to root.
func New(img *image.Image, table *inode.Table, addr *blockaddr.Addressor) *Tree {
	t := &Tree{
		img:   img,
		table: table,
		addr:  addr,
		nodes: make(map[int32]*node),
		cwd:   RootID,
	}
	t.nodes[RootID] = &node{parent: RootID, name: "", isDir: true}
	return t
}

// Cwd returns the i-node id of the current working directory.
func (t *Tree) Cwd() int32 {
	return t.cwd
}

// Forget removes a resolved i-node from the arena. Callers must invoke this
// when freeing an i-node, since ids get reused by a later allocation.
func (t *Tree) Forget(id int32) {
	delete(t.nodes, id)
}

// remember records (or refreshes) a node's parent/name/kind in the arena.
func (t *Tree) remember(id, parent int32, name string, isDir bool) {
	t.nodes[id] = &node{parent: parent, name: name, isDir: isDir}
}

// Remember records a freshly created child in the arena directly, so that
// operations which just linked a new i-node into a directory don't have to
// re-resolve the path to populate the cache. Callers that free an i-node
// must undo this with Forget.
func (t *Tree) Remember(id, parent int32, name string, isDir bool) {
	t.remember(id, parent, name, isDir)
}

func splitPath(path string) (absolute bool, parts []string) {
	absolute = strings.HasPrefix(path, "/")
	raw := strings.Split(path, "/")
	for _, p := range raw {
		if p == "" || p == "." {
			continue
		}
		parts = append(parts, p)
	}
	return absolute, parts
}

// Resolve walks path (absolute or relative to the current working
// directory) and returns the i-node id of the final component.
func (t *Tree) Resolve(path string) (int32, error) {
	absolute, parts := splitPath(path)

	current := t.cwd
	if absolute {
		current = RootID
	}

	for _, part := range parts {
		next, err := t.step(current, part)
		if err != nil {
			return 0, err
		}
		current = next
	}
	return current, nil
}

// step resolves one path component (a name, ".", or "..") relative to dir.
func (t *Tree) step(dir int32, part string) (int32, error) {
	if part == ".." {
		if n, ok := t.nodes[dir]; ok {
			return n.parent, nil
		}
		// Not cached: the root's parent is itself, anything else requires
		// a cache entry that Resolve would already have created while
		// walking down to it.
		return RootID, nil
	}

	rec, err := t.table.Get(dir)
	if err != nil {
		return 0, err
	}
	if rec.IsDirectory == 0 {
		return 0, simfs.NewError(simfs.KindNotFound)
	}

	childID, found, err := dirstore.Lookup(t.img, t.addr, rec, part)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, simfs.NewError(simfs.KindNotFound)
	}

	childRec, err := t.table.Get(childID)
	if err != nil {
		return 0, err
	}
	t.remember(childID, dir, part, childRec.IsDirectory != 0)
	return childID, nil
}

// SplitParentAndLeaf resolves every path component but the last, returning
// the parent directory's i-node id and the final component's name. It does
// not require the leaf itself to exist.
func (t *Tree) SplitParentAndLeaf(path string) (int32, string, error) {
	absolute, parts := splitPath(path)
	if len(parts) == 0 {
		return 0, "", simfs.NewErrorWithMessage(simfs.KindNotFound, "empty path")
	}

	leaf := parts[len(parts)-1]
	parentParts := parts[:len(parts)-1]

	current := t.cwd
	if absolute {
		current = RootID
	}
	for _, part := range parentParts {
		next, err := t.step(current, part)
		if err != nil {
			return 0, "", err
		}
		current = next
	}
	return current, leaf, nil
}

// Parent returns the cached parent of id and true, or (0, false) if id has
// no arena entry. Root's parent is itself.
func (t *Tree) Parent(id int32) (int32, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return 0, false
	}
	return n.parent, true
}

// IsDir reports whether the i-node at id is a directory, consulting the
// arena cache before falling back to the i-node table.
func (t *Tree) IsDir(id int32) (bool, error) {
	if n, ok := t.nodes[id]; ok {
		return n.isDir, nil
	}
	rec, err := t.table.Get(id)
	if err != nil {
		return false, err
	}
	return rec.IsDirectory != 0, nil
}

// Chdir moves the current working directory to path, which must resolve to
// a directory.
func (t *Tree) Chdir(path string) error {
	id, err := t.Resolve(path)
	if err != nil {
		return err
	}
	isDir, err := t.IsDir(id)
	if err != nil {
		return err
	}
	if !isDir {
		return simfs.NewError(simfs.KindNotFound)
	}
	t.cwd = id
	return nil
}

// Pwd renders the absolute path of the current working directory by
// following cached parent links back to the root. If an ancestor has fallen
// out of the arena, the climb stops there and Pwd returns what it could
// reconstruct, rooted instead at that ancestor.
func (t *Tree) Pwd() string {
	var components []string
	id := t.cwd
	for id != RootID {
		n, ok := t.nodes[id]
		if !ok {
			break
		}
		components = append([]string{n.name}, components...)
		id = n.parent
	}
	return "/" + strings.Join(components, "/")
}
