package tasksfs

import (
	"strconv"
	"testing"

	"github.com/talonateox/vyper/fs"
	"github.com/talonateox/vyper/kernel/sched"
)

func setup(t *testing.T) *sched.Task {
	t.Helper()
	sched.Init()
	return sched.Spawn("worker", func() {})
}

func TestReaddirRootListsLiveTasks(t *testing.T) {
	task := setup(t)
	tfs := New()

	entries, err := tfs.Readdir("/")
	if err != nil {
		t.Fatalf("Readdir failed: %v", err)
	}

	found := false
	for _, e := range entries {
		if e.Name == strconv.FormatUint(task.ID, 10) {
			found = true
			if e.Type != fs.TypeDirectory {
				t.Errorf("entry type = %v, want Directory", e.Type)
			}
		}
	}
	if !found {
		t.Errorf("spawned task %d not listed in %+v", task.ID, entries)
	}
}

func TestReaddirTaskListsStatusAndName(t *testing.T) {
	task := setup(t)
	tfs := New()

	pid := strconv.FormatUint(task.ID, 10)
	entries, err := tfs.Readdir("/" + pid)
	if err != nil {
		t.Fatalf("Readdir(%s) failed: %v", pid, err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}

func TestOpenStatusRendersFields(t *testing.T) {
	task := setup(t)
	tfs := New()

	pid := strconv.FormatUint(task.ID, 10)
	h, err := tfs.Open("/"+pid+"/status", fs.OpenFlags(fs.ORDONLY))
	if err != nil {
		t.Fatalf("Open status failed: %v", err)
	}

	buf := make([]byte, 256)
	n, rerr := h.Read(buf)
	if rerr != nil {
		t.Fatalf("Read failed: %v", rerr)
	}
	got := string(buf[:n])
	want := "pid: " + pid + "\nstate: ready\nmode: kernel"
	if got != want {
		t.Errorf("status = %q, want %q", got, want)
	}
}

func TestOpenNameRendersTaskName(t *testing.T) {
	task := setup(t)
	tfs := New()

	pid := strconv.FormatUint(task.ID, 10)
	h, err := tfs.Open("/"+pid+"/name", fs.OpenFlags(fs.ORDONLY))
	if err != nil {
		t.Fatalf("Open name failed: %v", err)
	}
	buf := make([]byte, 64)
	n, _ := h.Read(buf)
	if string(buf[:n]) != "worker" {
		t.Errorf("name = %q, want %q", buf[:n], "worker")
	}
}

func TestOpenUnknownPidFails(t *testing.T) {
	setup(t)
	tfs := New()
	if _, err := tfs.Open("/999999/status", fs.OpenFlags(fs.ORDONLY)); err != fs.ErrNotFound {
		t.Errorf("Open(unknown pid) = %v, want ErrNotFound", err)
	}
}

func TestOpenUnknownFileFails(t *testing.T) {
	task := setup(t)
	tfs := New()
	pid := strconv.FormatUint(task.ID, 10)
	if _, err := tfs.Open("/"+pid+"/bogus", fs.OpenFlags(fs.ORDONLY)); err != fs.ErrNotFound {
		t.Errorf("Open(bogus file) = %v, want ErrNotFound", err)
	}
}

func TestWriteAlwaysRejected(t *testing.T) {
	task := setup(t)
	tfs := New()
	pid := strconv.FormatUint(task.ID, 10)
	h, _ := tfs.Open("/"+pid+"/name", fs.OpenFlags(fs.ORDONLY))
	if _, err := h.Write([]byte("x")); err != fs.ErrPermissionDenied {
		t.Errorf("Write = %v, want ErrPermissionDenied", err)
	}
}

func TestMkdirRemoveRmdirAlwaysRejected(t *testing.T) {
	setup(t)
	tfs := New()
	if err := tfs.Mkdir("/x"); err != fs.ErrPermissionDenied {
		t.Errorf("Mkdir = %v, want ErrPermissionDenied", err)
	}
	if err := tfs.Remove("/x"); err != fs.ErrPermissionDenied {
		t.Errorf("Remove = %v, want ErrPermissionDenied", err)
	}
	if err := tfs.Rmdir("/x"); err != fs.ErrPermissionDenied {
		t.Errorf("Rmdir = %v, want ErrPermissionDenied", err)
	}
}

func TestMetadataReportsDirectoryThenFile(t *testing.T) {
	task := setup(t)
	tfs := New()
	pid := strconv.FormatUint(task.ID, 10)

	if meta, err := tfs.Metadata("/"); err != nil || meta.Type != fs.TypeDirectory {
		t.Errorf("Metadata(/) = %+v, %v, want Directory", meta, err)
	}
	if meta, err := tfs.Metadata("/" + pid); err != nil || meta.Type != fs.TypeDirectory {
		t.Errorf("Metadata(pid) = %+v, %v, want Directory", meta, err)
	}
	if meta, err := tfs.Metadata("/" + pid + "/status"); err != nil || meta.Type != fs.TypeFile {
		t.Errorf("Metadata(status) = %+v, %v, want File", meta, err)
	}
}

func TestSeekWhence(t *testing.T) {
	task := setup(t)
	tfs := New()
	pid := strconv.FormatUint(task.ID, 10)
	h, _ := tfs.Open("/"+pid+"/name", fs.OpenFlags(fs.ORDONLY))

	if pos, err := h.Seek(fs.SeekFrom{Whence: fs.SeekEnd, Offset: 0}); err != nil || pos != int64(len("worker")) {
		t.Fatalf("Seek(End,0) = %d, %v", pos, err)
	}
}
