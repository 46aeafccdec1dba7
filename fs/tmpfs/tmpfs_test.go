package tmpfs

import (
	"testing"

	"github.com/talonateox/vyper/fs"
)

func TestCreateWriteReadRoundTrip(t *testing.T) {
	t1 := New()

	h, err := t1.Open("/hello.txt", fs.WriteFlags)
	if err != nil {
		t.Fatalf("Open(create) failed: %v", err)
	}

	n, werr := h.Write([]byte("hello"))
	if werr != nil || n != 5 {
		t.Fatalf("Write = %d, %v, want 5, nil", n, werr)
	}

	h2, err := t1.Open("/hello.txt", fs.OpenFlags(fs.ORDONLY))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	buf := make([]byte, 16)
	nr, rerr := h2.Read(buf)
	if rerr != nil {
		t.Fatalf("Read failed: %v", rerr)
	}
	if string(buf[:nr]) != "hello" {
		t.Fatalf("read back %q, want %q", buf[:nr], "hello")
	}
}

func TestOpenMissingWithoutCreateFails(t *testing.T) {
	t1 := New()
	if _, err := t1.Open("/missing", fs.OpenFlags(fs.ORDONLY)); err != fs.ErrNotFound {
		t.Errorf("Open(missing) = %v, want ErrNotFound", err)
	}
}

func TestMkdirRmdir(t *testing.T) {
	t1 := New()

	if err := t1.Mkdir("/sub"); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := t1.Mkdir("/sub"); err != fs.ErrAlreadyExists {
		t.Errorf("Mkdir duplicate = %v, want ErrAlreadyExists", err)
	}

	h, err := t1.Open("/sub/file", fs.WriteFlags)
	if err != nil {
		t.Fatalf("Open under subdir failed: %v", err)
	}
	h.Write([]byte("x"))

	if err := t1.Rmdir("/sub"); err != fs.ErrNotEmpty {
		t.Errorf("Rmdir non-empty = %v, want ErrNotEmpty", err)
	}

	if err := t1.Remove("/sub/file"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := t1.Rmdir("/sub"); err != nil {
		t.Fatalf("Rmdir after empty failed: %v", err)
	}
}

func TestReaddirListsChildren(t *testing.T) {
	t1 := New()
	t1.Mkdir("/dir")
	t1.Open("/dir/a", fs.WriteFlags)
	t1.Open("/dir/b", fs.WriteFlags)

	entries, err := t1.Readdir("/dir")
	if err != nil {
		t.Fatalf("Readdir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}

func TestRemoveDirectoryFails(t *testing.T) {
	t1 := New()
	t1.Mkdir("/dir")
	if err := t1.Remove("/dir"); err != fs.ErrIsADirectory {
		t.Errorf("Remove(directory) = %v, want ErrIsADirectory", err)
	}
}

func TestTruncateFlagClearsExistingContent(t *testing.T) {
	t1 := New()
	h, _ := t1.Open("/f", fs.WriteFlags)
	h.Write([]byte("original"))

	h2, err := t1.Open("/f", fs.WriteFlags)
	if err != nil {
		t.Fatalf("reopen with truncate failed: %v", err)
	}
	buf := make([]byte, 16)
	n, _ := h2.Read(buf)
	if n != 0 {
		t.Fatalf("expected truncated file to read 0 bytes, got %d", n)
	}
}

func TestTruncateWithoutWritePersists(t *testing.T) {
	t1 := New()
	h, _ := t1.Open("/f", fs.WriteFlags)
	h.Write([]byte("original"))

	if _, err := t1.Open("/f", fs.WriteFlags); err != nil {
		t.Fatalf("reopen with truncate failed: %v", err)
	}

	h3, err := t1.Open("/f", fs.OpenFlags(fs.ORDONLY))
	if err != nil {
		t.Fatalf("reopen read-only failed: %v", err)
	}
	buf := make([]byte, 16)
	n, _ := h3.Read(buf)
	if n != 0 {
		t.Fatalf("expected truncation to persist without a write, got %d bytes: %q", n, buf[:n])
	}
}

func TestAppendFlagSeeksToEnd(t *testing.T) {
	t1 := New()
	h, _ := t1.Open("/f", fs.WriteFlags)
	h.Write([]byte("abc"))

	h2, err := t1.Open("/f", fs.AppendFlags)
	if err != nil {
		t.Fatalf("reopen with append failed: %v", err)
	}
	h2.Write([]byte("def"))

	h3, _ := t1.Open("/f", fs.OpenFlags(fs.ORDONLY))
	buf := make([]byte, 16)
	n, _ := h3.Read(buf)
	if string(buf[:n]) != "abcdef" {
		t.Fatalf("content = %q, want %q", buf[:n], "abcdef")
	}
}

func TestSeekWhence(t *testing.T) {
	t1 := New()
	h, _ := t1.Open("/f", fs.WriteFlags)
	h.Write([]byte("0123456789"))

	if pos, err := h.Seek(fs.SeekFrom{Whence: fs.SeekStart, Offset: 3}); err != nil || pos != 3 {
		t.Fatalf("Seek(Start, 3) = %d, %v", pos, err)
	}
	if pos, err := h.Seek(fs.SeekFrom{Whence: fs.SeekCurrent, Offset: 2}); err != nil || pos != 5 {
		t.Fatalf("Seek(Current, 2) = %d, %v", pos, err)
	}
	if pos, err := h.Seek(fs.SeekFrom{Whence: fs.SeekEnd, Offset: -1}); err != nil || pos != 9 {
		t.Fatalf("Seek(End, -1) = %d, %v", pos, err)
	}
}

func TestMetadataReportsTypeAndSize(t *testing.T) {
	t1 := New()
	h, _ := t1.Open("/f", fs.WriteFlags)
	h.Write([]byte("abcd"))

	meta, err := t1.Metadata("/f")
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if meta.Type != fs.TypeFile || meta.Size != 4 {
		t.Fatalf("Metadata = %+v, want Type=File Size=4", meta)
	}
}
