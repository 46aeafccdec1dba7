// Package fs implements the kernel's virtual filesystem layer: the mount
// table, path resolution, the fd table, and the capability-contract
// interfaces every concrete filesystem (tmpfs, tasksfs, fat32) implements
// (spec §4.8, §3 "VFS mount"/"File descriptor table").
//
// Grounded in spirit on the teacher's device.Driver interface
// (kernel/device/driver.go): a small method-set contract implementations
// satisfy structurally, not through inheritance. gopher-os has no VFS of
// its own, so the mount table, path normalization, OpenFlags and the error
// taxonomy below are built from spec.md §4.8/§3 literally, cross-checked
// against original_source/vcore/src/vfs/{mod,types,fd}.rs for exact field
// names, flag bit values and the open-mode edge cases.
package fs

// FileType classifies what a Metadata or DirEntry describes.
type FileType int

const (
	TypeFile FileType = iota
	TypeDirectory
	TypeDevice
)

// Metadata describes a file or directory's type and, for files, its size
// in bytes.
type Metadata struct {
	Type FileType
	Size uint64
}

// DirEntry is one entry returned by a Filesystem's Readdir.
type DirEntry struct {
	Name string
	Type FileType
}

// SeekWhence selects the reference point for a Seek call.
type SeekWhence int

const (
	SeekStart SeekWhence = iota
	SeekCurrent
	SeekEnd
)

// SeekFrom is the argument to FileHandle.Seek.
type SeekFrom struct {
	Whence SeekWhence
	Offset int64
}

// OpenFlags is the syscall-level open mode and modifier bitfield (spec §6
// dirent format note; §9 open questions on WRITE/O_RDONLY semantics).
// Values are POSIX-compatible octal constants so the numbers a userspace
// binary passes at the syscall boundary need no translation.
type OpenFlags uint32

const (
	ORDONLY OpenFlags = 0
	OWRONLY OpenFlags = 1
	ORDWR   OpenFlags = 2

	accessModeMask OpenFlags = 3

	OCREAT     OpenFlags = 0o100
	OEXCL      OpenFlags = 0o200
	OTRUNC     OpenFlags = 0o1000
	OAPPEND    OpenFlags = 0o2000
	ODIRECTORY OpenFlags = 0o200000
)

// WriteFlags is the convenience expansion spec.md §9 resolves "WRITE" to:
// truncating, creating create-if-missing, write-only open. Callers that
// want append-without-truncate must say so explicitly with OAPPEND.
const WriteFlags = OWRONLY | OCREAT | OTRUNC

// AppendFlags opens for write, creating if necessary, without truncating;
// every write is forced to the current end of file.
const AppendFlags = OWRONLY | OCREAT | OAPPEND

// Contains reports whether every bit in other is set in f, with one
// semantic exception carried over from the source (spec §9): checking for
// ORDONLY (value 0) cannot use a bitwise AND, since 0 is a subset of every
// value. ORDONLY is treated specially as "the access-mode bits are zero".
func (f OpenFlags) Contains(other OpenFlags) bool {
	if other == 0 {
		return f&accessModeMask == 0
	}
	return f&other == other
}

// AccessMode returns just the access-mode bits (RDONLY/WRONLY/RDWR).
func (f OpenFlags) AccessMode() OpenFlags {
	return f & accessModeMask
}

// IsReadable reports whether the access mode permits reads (RDONLY or RDWR).
func (f OpenFlags) IsReadable() bool {
	mode := f.AccessMode()
	return mode == ORDONLY || mode == ORDWR
}

// IsWritable reports whether the access mode permits writes (WRONLY or RDWR).
func (f OpenFlags) IsWritable() bool {
	mode := f.AccessMode()
	return mode == OWRONLY || mode == ORDWR
}

// ErrorKind enumerates the VFS error taxonomy (spec §7: "a FAT32 IoError
// stays IoError after VFS dispatch" -- the category is never collapsed or
// translated as it crosses layers, only ever preserved up to the syscall
// boundary where it collapses to u64::MAX).
type ErrorKind int

const (
	KindNotFound ErrorKind = iota
	KindAlreadyExists
	KindNotADirectory
	KindIsADirectory
	KindNotEmpty
	KindInvalidPath
	KindPermissionDenied
	KindNoSpace
	KindInvalidFd
	KindNotSupported
	KindIoError
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindNotADirectory:
		return "not a directory"
	case KindIsADirectory:
		return "is a directory"
	case KindNotEmpty:
		return "not empty"
	case KindInvalidPath:
		return "invalid path"
	case KindPermissionDenied:
		return "permission denied"
	case KindNoSpace:
		return "no space"
	case KindInvalidFd:
		return "invalid file descriptor"
	case KindNotSupported:
		return "not supported"
	case KindIoError:
		return "I/O error"
	default:
		return "unknown VFS error"
	}
}

// Error is the error type every fs-layer operation returns. Kind is
// preserved verbatim as the error crosses package boundaries.
type Error struct {
	Kind ErrorKind
}

func (e *Error) Error() string { return e.Kind.String() }

var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrAlreadyExists    = &Error{Kind: KindAlreadyExists}
	ErrNotADirectory    = &Error{Kind: KindNotADirectory}
	ErrIsADirectory     = &Error{Kind: KindIsADirectory}
	ErrNotEmpty         = &Error{Kind: KindNotEmpty}
	ErrInvalidPath      = &Error{Kind: KindInvalidPath}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrNoSpace          = &Error{Kind: KindNoSpace}
	ErrInvalidFd        = &Error{Kind: KindInvalidFd}
	ErrNotSupported     = &Error{Kind: KindNotSupported}
	ErrIoError          = &Error{Kind: KindIoError}
)

// FileHandle is the capability contract an opened file or device exposes.
type FileHandle interface {
	Read(buf []byte) (int, *Error)
	Write(buf []byte) (int, *Error)
	Seek(pos SeekFrom) (int64, *Error)
	Metadata() (Metadata, *Error)
}

// Filesystem is the capability contract a mounted driver implements (spec
// §4.8). Paths passed in are always already resolved relative to this
// filesystem's mount point.
type Filesystem interface {
	Open(path string, flags OpenFlags) (FileHandle, *Error)
	Mkdir(path string) *Error
	Remove(path string) *Error
	Rmdir(path string) *Error
	Readdir(path string) ([]DirEntry, *Error)
	Metadata(path string) (Metadata, *Error)
}

// Exists reports whether path resolves to something on fsys.
func Exists(fsys Filesystem, path string) bool {
	_, err := fsys.Metadata(path)
	return err == nil
}
