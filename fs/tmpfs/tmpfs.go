// Package tmpfs implements an in-memory filesystem driver (spec §4.8's
// Filesystem contract): a tree of file/directory nodes guarded by one
// lock, with a file handle that clones its data at open time and writes
// its whole buffer back into the tree on every Write.
//
// No teacher equivalent (gopher-os has no VFS); ported from
// original_source/vcore/src/vfs/tmpfs.rs's Node enum/navigate/
// navigate_to_parent structure, substituting a single `sync.Spinlock`
// for the source's `Mutex<Node>` and a map[string]*node child index for
// its BTreeMap (ordering doesn't matter here: Readdir callers don't rely
// on a sorted listing).
package tmpfs

import (
	"strings"

	"github.com/talonateox/vyper/fs"
	"github.com/talonateox/vyper/kernel/sync"
)

type node struct {
	isDir    bool
	data     []byte
	children map[string]*node
}

func newDir() *node { return &node{isDir: true, children: map[string]*node{}} }

func newFile() *node { return &node{} }

func (n *node) fileType() fs.FileType {
	if n.isDir {
		return fs.TypeDirectory
	}
	return fs.TypeFile
}

func (n *node) size() uint64 {
	if n.isDir {
		return uint64(len(n.children))
	}
	return uint64(len(n.data))
}

// TmpFs is a mountable in-memory Filesystem (spec §4.8).
type TmpFs struct {
	lock sync.Spinlock
	root *node
}

// New returns an empty tmpfs ready to be mounted.
func New() *TmpFs {
	return &TmpFs{root: newDir()}
}

func pathParts(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func navigate(root *node, parts []string) (*node, *fs.Error) {
	current := root
	for _, part := range parts {
		if !current.isDir {
			return nil, fs.ErrNotADirectory
		}
		next, ok := current.children[part]
		if !ok {
			return nil, fs.ErrNotFound
		}
		current = next
	}
	return current, nil
}

func navigateToParent(root *node, parts []string) (*node, string, *fs.Error) {
	if len(parts) == 0 {
		return nil, "", fs.ErrInvalidPath
	}
	parent, err := navigate(root, parts[:len(parts)-1])
	if err != nil {
		return nil, "", err
	}
	if !parent.isDir {
		return nil, "", fs.ErrNotADirectory
	}
	return parent, parts[len(parts)-1], nil
}

// Open implements fs.Filesystem.
func (t *TmpFs) Open(path string, flags fs.OpenFlags) (fs.FileHandle, *fs.Error) {
	t.lock.Acquire()
	defer t.lock.Release()

	parts := pathParts(path)
	if len(parts) == 0 {
		return nil, fs.ErrIsADirectory
	}

	n, err := navigate(t.root, parts)
	if err == fs.ErrNotFound && flags.Contains(fs.OCREAT) {
		parent, name, perr := navigateToParent(t.root, parts)
		if perr != nil {
			return nil, perr
		}
		f := newFile()
		parent.children[name] = f
		return &tmpFileHandle{fs: t, path: path, flags: flags}, nil
	}
	if err != nil {
		return nil, err
	}
	if n.isDir {
		return nil, fs.ErrIsADirectory
	}

	data := n.data
	if flags.Contains(fs.OTRUNC) {
		data = nil
		n.data = nil
	} else {
		cloned := make([]byte, len(data))
		copy(cloned, data)
		data = cloned
	}

	h := &tmpFileHandle{fs: t, path: path, flags: flags, data: data}
	if flags.Contains(fs.OAPPEND) {
		h.pos = int64(len(data))
	}
	return h, nil
}

// Mkdir implements fs.Filesystem.
func (t *TmpFs) Mkdir(path string) *fs.Error {
	t.lock.Acquire()
	defer t.lock.Release()

	parts := pathParts(path)
	if len(parts) == 0 {
		return fs.ErrAlreadyExists
	}

	parent, name, err := navigateToParent(t.root, parts)
	if err != nil {
		return err
	}
	if _, exists := parent.children[name]; exists {
		return fs.ErrAlreadyExists
	}
	parent.children[name] = newDir()
	return nil
}

// Remove implements fs.Filesystem.
func (t *TmpFs) Remove(path string) *fs.Error {
	t.lock.Acquire()
	defer t.lock.Release()

	parts := pathParts(path)
	if len(parts) == 0 {
		return fs.ErrPermissionDenied
	}

	parent, name, err := navigateToParent(t.root, parts)
	if err != nil {
		return err
	}

	target, ok := parent.children[name]
	if !ok {
		return fs.ErrNotFound
	}
	if target.isDir {
		return fs.ErrIsADirectory
	}
	delete(parent.children, name)
	return nil
}

// Rmdir implements fs.Filesystem.
func (t *TmpFs) Rmdir(path string) *fs.Error {
	t.lock.Acquire()
	defer t.lock.Release()

	parts := pathParts(path)
	if len(parts) == 0 {
		return fs.ErrPermissionDenied
	}

	parent, name, err := navigateToParent(t.root, parts)
	if err != nil {
		return err
	}

	target, ok := parent.children[name]
	if !ok {
		return fs.ErrNotFound
	}
	if !target.isDir {
		return fs.ErrNotADirectory
	}
	if len(target.children) != 0 {
		return fs.ErrNotEmpty
	}
	delete(parent.children, name)
	return nil
}

// Readdir implements fs.Filesystem.
func (t *TmpFs) Readdir(path string) ([]fs.DirEntry, *fs.Error) {
	t.lock.Acquire()
	defer t.lock.Release()

	n, err := t.navigateOrRoot(path)
	if err != nil {
		return nil, err
	}
	if !n.isDir {
		return nil, fs.ErrNotADirectory
	}

	entries := make([]fs.DirEntry, 0, len(n.children))
	for name, child := range n.children {
		entries = append(entries, fs.DirEntry{Name: name, Type: child.fileType()})
	}
	return entries, nil
}

// Metadata implements fs.Filesystem.
func (t *TmpFs) Metadata(path string) (fs.Metadata, *fs.Error) {
	t.lock.Acquire()
	defer t.lock.Release()

	n, err := t.navigateOrRoot(path)
	if err != nil {
		return fs.Metadata{}, err
	}
	return fs.Metadata{Type: n.fileType(), Size: n.size()}, nil
}

func (t *TmpFs) navigateOrRoot(path string) (*node, *fs.Error) {
	parts := pathParts(path)
	if len(parts) == 0 {
		return t.root, nil
	}
	return navigate(t.root, parts)
}

type tmpFileHandle struct {
	fs    *TmpFs
	path  string
	flags fs.OpenFlags
	data  []byte
	pos   int64
}

func (h *tmpFileHandle) Read(buf []byte) (int, *fs.Error) {
	if !h.flags.IsReadable() {
		return 0, fs.ErrPermissionDenied
	}

	available := int64(len(h.data)) - h.pos
	if available < 0 {
		available = 0
	}
	n := int64(len(buf))
	if n > available {
		n = available
	}
	copy(buf, h.data[h.pos:h.pos+n])
	h.pos += n
	return int(n), nil
}

func (h *tmpFileHandle) Write(buf []byte) (int, *fs.Error) {
	if !h.flags.IsWritable() {
		return 0, fs.ErrPermissionDenied
	}

	if h.flags.Contains(fs.OAPPEND) {
		h.pos = int64(len(h.data))
	}

	end := h.pos + int64(len(buf))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[h.pos:end], buf)
	h.pos = end

	h.fs.lock.Acquire()
	parts := pathParts(h.path)
	if n, err := navigate(h.fs.root, parts); err == nil && !n.isDir {
		n.data = append([]byte(nil), h.data...)
	}
	h.fs.lock.Release()

	return len(buf), nil
}

func (h *tmpFileHandle) Seek(pos fs.SeekFrom) (int64, *fs.Error) {
	var newPos int64
	switch pos.Whence {
	case fs.SeekStart:
		newPos = pos.Offset
	case fs.SeekCurrent:
		newPos = h.pos + pos.Offset
	case fs.SeekEnd:
		newPos = int64(len(h.data)) + pos.Offset
	}
	if newPos < 0 {
		return 0, fs.ErrInvalidPath
	}
	h.pos = newPos
	return h.pos, nil
}

func (h *tmpFileHandle) Metadata() (fs.Metadata, *fs.Error) {
	return fs.Metadata{Type: fs.TypeFile, Size: uint64(len(h.data))}, nil
}
