package syscall

import (
	"testing"
	"unsafe"

	"github.com/talonateox/vyper/fs"
	"github.com/talonateox/vyper/kernel/sched"
)

func TestUserBytesViewsRawMemory(t *testing.T) {
	backing := make([]byte, 5)
	copy(backing, "hello")
	ptr := uint64(uintptr(unsafe.Pointer(&backing[0])))

	got := userBytes(ptr, uint64(len(backing)))
	if string(got) != "hello" {
		t.Fatalf("userBytes = %q, want %q", got, "hello")
	}

	got[0] = 'H'
	if backing[0] != 'H' {
		t.Error("userBytes should alias the backing memory, not copy it")
	}
}

func TestUserBytesZeroLength(t *testing.T) {
	if got := userBytes(0, 0); got != nil {
		t.Errorf("userBytes(0, 0) = %v, want nil", got)
	}
}

// memFile is a trivial in-memory FileHandle used to exercise the syscall
// layer without a real filesystem driver.
type memFile struct {
	data []byte
	pos  int64
}

func (f *memFile) Read(buf []byte) (int, *fs.Error) {
	n := copy(buf, f.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) Write(buf []byte) (int, *fs.Error) {
	f.data = append(f.data, buf...)
	return len(buf), nil
}

func (f *memFile) Seek(pos fs.SeekFrom) (int64, *fs.Error) { return f.pos, nil }
func (f *memFile) Metadata() (fs.Metadata, *fs.Error)      { return fs.Metadata{}, nil }

type memFs struct {
	files map[string]*memFile
	dirs  map[string][]fs.DirEntry
}

func newMemFs() *memFs {
	return &memFs{files: map[string]*memFile{}, dirs: map[string][]fs.DirEntry{}}
}

func (m *memFs) Open(path string, flags fs.OpenFlags) (fs.FileHandle, *fs.Error) {
	f, ok := m.files[path]
	if !ok {
		if !flags.Contains(fs.OCREAT) {
			return nil, fs.ErrNotFound
		}
		f = &memFile{}
		m.files[path] = f
	}
	return f, nil
}

func (m *memFs) Mkdir(path string) *fs.Error { m.dirs[path] = nil; return nil }
func (m *memFs) Remove(path string) *fs.Error {
	delete(m.files, path)
	return nil
}
func (m *memFs) Rmdir(path string) *fs.Error {
	delete(m.dirs, path)
	return nil
}
func (m *memFs) Readdir(path string) ([]fs.DirEntry, *fs.Error) {
	entries, ok := m.dirs[path]
	if !ok {
		return nil, fs.ErrNotFound
	}
	return entries, nil
}
func (m *memFs) Metadata(path string) (fs.Metadata, *fs.Error) { return fs.Metadata{}, nil }

func withTestMount(t *testing.T) *memFs {
	t.Helper()
	m := newMemFs()
	if err := fs.Mount("/", m); err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	t.Cleanup(func() { fs.Unmount("/") })
	sched.Init()
	return m
}

func ptrLen(b []byte) (uint64, uint64) {
	if len(b) == 0 {
		return 0, 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0]))), uint64(len(b))
}

func TestSysOpenWriteReadRoundTrip(t *testing.T) {
	withTestMount(t)

	path := []byte("/greeting")
	pathPtr, pathLen := ptrLen(path)

	fd := sysOpen(pathPtr, pathLen, uint64(fs.WriteFlags))
	if fd == failure {
		t.Fatal("sysOpen failed")
	}

	msg := []byte("hi there")
	msgPtr, msgLen := ptrLen(msg)
	n := sysWrite(fd, msgPtr, msgLen)
	if n != uint64(len(msg)) {
		t.Fatalf("sysWrite = %d, want %d", n, len(msg))
	}

	if r := sysClose(fd); r == failure {
		t.Fatal("sysClose failed")
	}
}

func TestSysMkdirRmdir(t *testing.T) {
	withTestMount(t)

	path := []byte("/sub")
	ptr, length := ptrLen(path)

	if r := sysMkdir(ptr, length); r == failure {
		t.Fatal("sysMkdir failed")
	}
	if r := sysRmdir(ptr, length); r == failure {
		t.Fatal("sysRmdir failed")
	}
}

func TestSysChdirGetcwd(t *testing.T) {
	withTestMount(t)

	path := []byte("/sub")
	ptr, length := ptrLen(path)
	sysMkdir(ptr, length)

	if r := sysChdir(ptr, length); r == failure {
		t.Fatal("sysChdir failed")
	}

	buf := make([]byte, 16)
	bufPtr, bufLen := ptrLen(buf)
	n := sysGetcwd(bufPtr, bufLen)
	if string(buf[:n]) != "/sub" {
		t.Fatalf("getcwd = %q, want /sub", buf[:n])
	}
}

func TestSysGetdentsEncoding(t *testing.T) {
	m := withTestMount(t)
	m.dirs["/listing"] = []fs.DirEntry{
		{Name: "a", Type: fs.TypeFile},
		{Name: "bb", Type: fs.TypeDirectory},
	}

	path := []byte("/listing")
	ptr, length := ptrLen(path)
	fd := sysOpen(ptr, length, uint64(fs.ODIRECTORY))
	if fd == failure {
		t.Fatal("sysOpen(ODIRECTORY) failed")
	}

	buf := make([]byte, 64)
	bufPtr, bufLen := ptrLen(buf)
	n := sysGetdents(fd, bufPtr, bufLen)
	if n == failure {
		t.Fatal("sysGetdents failed")
	}

	if buf[0] != byte(fs.TypeFile) || buf[1] != 1 || buf[2] != 0 || string(buf[3:4]) != "a" {
		t.Fatalf("first dirent malformed: %v", buf[:4])
	}

	rest := buf[4:]
	if rest[0] != byte(fs.TypeDirectory) || rest[1] != 2 || rest[2] != 0 || string(rest[3:5]) != "bb" {
		t.Fatalf("second dirent malformed: %v", rest[:5])
	}
}
