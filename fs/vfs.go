package fs

import (
	"sort"
	"strings"

	"github.com/talonateox/vyper/kernel/sync"
)

// mount pairs a normalized absolute mount path with the filesystem rooted
// there.
type mount struct {
	path string
	fs   Filesystem
}

// Vfs is the kernel's single mount table (spec §3 "VFS mount"; §5: "every
// global structure ... lives behind a spinlock"). The table is kept sorted
// by mount-path length descending so the first prefix match in a linear
// scan is always the deepest mount.
type Vfs struct {
	lock   sync.Spinlock
	mounts []mount
}

// global is the kernel's single VFS instance, analogous to pmm/vmm's
// package-level singletons.
var global Vfs

// Mount registers fsys at path, normalizing path first. Returns
// ErrAlreadyExists if something is already mounted there.
func Mount(path string, fsys Filesystem) *Error {
	global.lock.Acquire()
	defer global.lock.Release()
	return global.mount(path, fsys)
}

func (v *Vfs) mount(path string, fsys Filesystem) *Error {
	path = NormalizePath(path)

	for _, m := range v.mounts {
		if m.path == path {
			return ErrAlreadyExists
		}
	}

	v.mounts = append(v.mounts, mount{path: path, fs: fsys})
	sort.Slice(v.mounts, func(i, j int) bool {
		return len(v.mounts[i].path) > len(v.mounts[j].path)
	})
	return nil
}

// Unmount removes the mount at path.
func Unmount(path string) *Error {
	global.lock.Acquire()
	defer global.lock.Release()

	path = NormalizePath(path)
	for i, m := range global.mounts {
		if m.path == path {
			global.mounts = append(global.mounts[:i], global.mounts[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// resolve finds the deepest mount covering path and returns that
// filesystem plus path made relative to the mount point.
func (v *Vfs) resolve(path string) (Filesystem, string, *Error) {
	path = NormalizePath(path)

	for _, m := range v.mounts {
		if m.path == "/" {
			return m.fs, path, nil
		}
		if path == m.path {
			return m.fs, "/", nil
		}
		if strings.HasPrefix(path, m.path) {
			rest := path[len(m.path):]
			switch {
			case rest == "" || rest == "/":
				return m.fs, "/", nil
			case strings.HasPrefix(rest, "/"):
				return m.fs, rest, nil
			default:
				continue
			}
		}
	}

	return nil, "", ErrNotFound
}

// Open resolves path to a mount and opens it there.
func Open(path string, flags OpenFlags) (FileHandle, *Error) {
	global.lock.Acquire()
	fsys, rel, err := global.resolve(path)
	global.lock.Release()
	if err != nil {
		return nil, err
	}
	return fsys.Open(rel, flags)
}

// Mkdir resolves path to a mount and creates a directory there.
func Mkdir(path string) *Error {
	global.lock.Acquire()
	fsys, rel, err := global.resolve(path)
	global.lock.Release()
	if err != nil {
		return err
	}
	return fsys.Mkdir(rel)
}

// Remove resolves path to a mount and removes the file there.
func Remove(path string) *Error {
	global.lock.Acquire()
	fsys, rel, err := global.resolve(path)
	global.lock.Release()
	if err != nil {
		return err
	}
	return fsys.Remove(rel)
}

// Rmdir resolves path to a mount and removes the (empty) directory there.
func Rmdir(path string) *Error {
	global.lock.Acquire()
	fsys, rel, err := global.resolve(path)
	global.lock.Release()
	if err != nil {
		return err
	}
	return fsys.Rmdir(rel)
}

// Readdir resolves path to a mount and lists its directory entries.
func Readdir(path string) ([]DirEntry, *Error) {
	global.lock.Acquire()
	fsys, rel, err := global.resolve(path)
	global.lock.Release()
	if err != nil {
		return nil, err
	}
	return fsys.Readdir(rel)
}

// GetMetadata resolves path to a mount and returns its metadata.
func GetMetadata(path string) (Metadata, *Error) {
	global.lock.Acquire()
	fsys, rel, err := global.resolve(path)
	global.lock.Release()
	if err != nil {
		return Metadata{}, err
	}
	return fsys.Metadata(rel)
}

// PathExists reports whether path resolves to something anywhere in the
// mount table.
func PathExists(path string) bool {
	_, err := GetMetadata(path)
	return err == nil
}

// NormalizePath splits path on '/', drops empty and "." segments, pops the
// last kept segment for "..", then reconstructs an absolute path with a
// leading '/' (spec §4.8, §8 "normalize(P) begins with /, contains no //,
// no ., no .. segments").
func NormalizePath(path string) string {
	parts := make([]string, 0, strings.Count(path, "/")+1)

	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, part)
		}
	}

	if len(parts) == 0 {
		return "/"
	}

	var b strings.Builder
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(p)
	}
	return b.String()
}

// ResolvePath makes path absolute relative to cwd (if it is not already
// absolute) and normalizes the result (spec §4.8 "relative paths are
// prefixed with CWD then normalised").
func ResolvePath(path, cwd string) string {
	if strings.HasPrefix(path, "/") {
		return NormalizePath(path)
	}

	full := cwd
	if !strings.HasSuffix(full, "/") {
		full += "/"
	}
	full += path
	return NormalizePath(full)
}
