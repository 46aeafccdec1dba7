package fs

// MaxFds is the fixed fd table size (spec §3 "File descriptor table: a
// 64-slot array per task").
const MaxFds = 64

// descKind tags what an fd slot currently holds.
type descKind int

const (
	kindFile descKind = iota
	kindDirectory
	kindStdin
	kindStdout
	kindStderr
)

// directorySnapshot is the entry list and iteration cursor captured at
// open time for an ODIRECTORY fd (spec §4.7: "Open with O_DIRECTORY
// produces a Directory fd whose snapshot is taken at open time").
type directorySnapshot struct {
	path    string
	entries []DirEntry
	pos     int
}

// descriptor is one occupied or empty fd slot.
type descriptor struct {
	kind descKind
	file FileHandle
	dir  directorySnapshot
}

// FdTable is a task's 64-slot file descriptor table. Slots 0, 1 and 2 are
// permanently Stdin, Stdout and Stderr and can never be closed (spec §3,
// §8 "close(f) then get(f) fails with InvalidFd" for f > 2 only).
type FdTable struct {
	slots [MaxFds]*descriptor
}

// NewFdTable returns a table with the standard streams pre-populated.
func NewFdTable() *FdTable {
	t := &FdTable{}
	t.slots[0] = &descriptor{kind: kindStdin}
	t.slots[1] = &descriptor{kind: kindStdout}
	t.slots[2] = &descriptor{kind: kindStderr}
	return t
}

// AllocFile installs an open FileHandle in the first free slot.
func (t *FdTable) AllocFile(h FileHandle) (int, *Error) {
	return t.alloc(&descriptor{kind: kindFile, file: h})
}

// AllocDirectory installs a directory snapshot (path + entries taken at
// open time) in the first free slot.
func (t *FdTable) AllocDirectory(path string, entries []DirEntry) (int, *Error) {
	return t.alloc(&descriptor{kind: kindDirectory, dir: directorySnapshot{path: path, entries: entries}})
}

func (t *FdTable) alloc(d *descriptor) (int, *Error) {
	for i := 0; i < MaxFds; i++ {
		if t.slots[i] == nil {
			t.slots[i] = d
			return i, nil
		}
	}
	return -1, ErrNoSpace
}

// File returns the FileHandle at fd, failing with InvalidFd if fd is out
// of range, empty, or not a file slot.
func (t *FdTable) File(fd int) (FileHandle, *Error) {
	d, err := t.get(fd)
	if err != nil {
		return nil, err
	}
	if d.kind != kindFile {
		return nil, ErrInvalidFd
	}
	return d.file, nil
}

// PeekDirEntries returns every directory entry for an ODIRECTORY fd from
// its current cursor onward, without advancing the cursor. Callers that
// can only serialize a prefix of what's returned (e.g. sysGetdents
// packing into a fixed-size buffer) must call AdvanceDir themselves with
// however many entries they actually consumed, so the cursor never skips
// past entries the caller never got.
func (t *FdTable) PeekDirEntries(fd int) ([]DirEntry, *Error) {
	d, err := t.get(fd)
	if err != nil {
		return nil, err
	}
	if d.kind != kindDirectory {
		return nil, ErrInvalidFd
	}
	return d.dir.entries[d.dir.pos:], nil
}

// AdvanceDir moves an ODIRECTORY fd's cursor forward by n entries.
func (t *FdTable) AdvanceDir(fd int, n int) *Error {
	d, err := t.get(fd)
	if err != nil {
		return err
	}
	if d.kind != kindDirectory {
		return ErrInvalidFd
	}
	d.dir.pos += n
	return nil
}

func (t *FdTable) get(fd int) (*descriptor, *Error) {
	if fd < 0 || fd >= MaxFds {
		return nil, ErrInvalidFd
	}
	if t.slots[fd] == nil {
		return nil, ErrInvalidFd
	}
	return t.slots[fd], nil
}

// Close frees fd. Slots below 3 (the standard streams) can never be
// closed (spec §3 invariant).
func (t *FdTable) Close(fd int) *Error {
	if fd < 0 || fd >= MaxFds {
		return ErrInvalidFd
	}
	if fd < 3 {
		return ErrPermissionDenied
	}
	if t.slots[fd] == nil {
		return ErrInvalidFd
	}
	t.slots[fd] = nil
	return nil
}
