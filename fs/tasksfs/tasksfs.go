// Package tasksfs implements a synthetic, read-only filesystem exposing
// the scheduler's task table (spec §4.10): one directory per live task,
// each containing a "status" and "name" file rendered from a point-in-time
// snapshot of that task's scheduling state.
//
// No teacher equivalent (gopher-os has no VFS or scheduler); ported from
// original_source/vcore/src/vfs/tasksfs.rs, substituting sched.Snapshot's
// lock-scoped copy for the source's direct SCHEDULER.lock() borrow so this
// package never reaches into kernel/sched's internals.
package tasksfs

import (
	"strconv"
	"strings"

	"github.com/talonateox/vyper/fs"
	"github.com/talonateox/vyper/kernel/sched"
)

// TasksFs is a mountable read-only view of the scheduler's task table.
type TasksFs struct{}

// New returns a ready-to-mount tasksfs.
func New() *TasksFs { return &TasksFs{} }

func pathParts(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func findTask(pidStr string) (sched.TaskInfo, *fs.Error) {
	pid, err := strconv.ParseUint(pidStr, 10, 64)
	if err != nil {
		return sched.TaskInfo{}, fs.ErrNotFound
	}
	for _, t := range sched.Snapshot() {
		if t.ID == pid {
			return t, nil
		}
	}
	return sched.TaskInfo{}, fs.ErrNotFound
}

func renderFile(task sched.TaskInfo, name string) ([]byte, *fs.Error) {
	switch name {
	case "status":
		s := "pid: " + strconv.FormatUint(task.ID, 10) +
			"\nstate: " + task.State.String() +
			"\nmode: " + task.Mode.String()
		return []byte(s), nil
	case "name":
		return []byte(task.Name), nil
	default:
		return nil, fs.ErrNotFound
	}
}

// Open implements fs.Filesystem. Only two-component paths ("<pid>/status",
// "<pid>/name") ever resolve to a file.
func (t *TasksFs) Open(path string, _ fs.OpenFlags) (fs.FileHandle, *fs.Error) {
	parts := pathParts(path)
	if len(parts) != 2 {
		return nil, fs.ErrIsADirectory
	}

	task, err := findTask(parts[0])
	if err != nil {
		return nil, err
	}
	content, err := renderFile(task, parts[1])
	if err != nil {
		return nil, err
	}
	return &taskFileHandle{content: content}, nil
}

// Mkdir implements fs.Filesystem. Always rejected: the directory tree is
// derived entirely from the scheduler's task table.
func (t *TasksFs) Mkdir(string) *fs.Error { return fs.ErrPermissionDenied }

// Remove implements fs.Filesystem. Always rejected.
func (t *TasksFs) Remove(string) *fs.Error { return fs.ErrPermissionDenied }

// Rmdir implements fs.Filesystem. Always rejected.
func (t *TasksFs) Rmdir(string) *fs.Error { return fs.ErrPermissionDenied }

// Readdir implements fs.Filesystem.
func (t *TasksFs) Readdir(path string) ([]fs.DirEntry, *fs.Error) {
	parts := pathParts(path)

	switch len(parts) {
	case 0:
		snap := sched.Snapshot()
		entries := make([]fs.DirEntry, 0, len(snap))
		for _, task := range snap {
			if task.State == sched.Dead {
				continue
			}
			entries = append(entries, fs.DirEntry{
				Name: strconv.FormatUint(task.ID, 10),
				Type: fs.TypeDirectory,
			})
		}
		return entries, nil
	case 1:
		if _, err := findTask(parts[0]); err != nil {
			return nil, err
		}
		return []fs.DirEntry{
			{Name: "status", Type: fs.TypeFile},
			{Name: "name", Type: fs.TypeFile},
		}, nil
	default:
		return nil, fs.ErrNotADirectory
	}
}

// Metadata implements fs.Filesystem.
func (t *TasksFs) Metadata(path string) (fs.Metadata, *fs.Error) {
	parts := pathParts(path)

	switch len(parts) {
	case 0:
		return fs.Metadata{Type: fs.TypeDirectory}, nil
	case 1:
		if _, err := findTask(parts[0]); err != nil {
			return fs.Metadata{}, err
		}
		return fs.Metadata{Type: fs.TypeDirectory}, nil
	case 2:
		task, err := findTask(parts[0])
		if err != nil {
			return fs.Metadata{}, err
		}
		content, err := renderFile(task, parts[1])
		if err != nil {
			return fs.Metadata{}, err
		}
		return fs.Metadata{Type: fs.TypeFile, Size: uint64(len(content))}, nil
	default:
		return fs.Metadata{}, fs.ErrNotFound
	}
}

type taskFileHandle struct {
	content []byte
	pos     int64
}

func (h *taskFileHandle) Read(buf []byte) (int, *fs.Error) {
	available := int64(len(h.content)) - h.pos
	if available < 0 {
		available = 0
	}
	n := int64(len(buf))
	if n > available {
		n = available
	}
	copy(buf, h.content[h.pos:h.pos+n])
	h.pos += n
	return int(n), nil
}

func (h *taskFileHandle) Write([]byte) (int, *fs.Error) {
	return 0, fs.ErrPermissionDenied
}

func (h *taskFileHandle) Seek(pos fs.SeekFrom) (int64, *fs.Error) {
	var newPos int64
	switch pos.Whence {
	case fs.SeekStart:
		newPos = pos.Offset
	case fs.SeekCurrent:
		newPos = h.pos + pos.Offset
	case fs.SeekEnd:
		newPos = int64(len(h.content)) + pos.Offset
	}
	if newPos < 0 {
		return 0, fs.ErrInvalidPath
	}
	h.pos = newPos
	return h.pos, nil
}

func (h *taskFileHandle) Metadata() (fs.Metadata, *fs.Error) {
	return fs.Metadata{Type: fs.TypeFile, Size: uint64(len(h.content))}, nil
}
