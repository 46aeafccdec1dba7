package syscall

import (
	"unsafe"

	"github.com/talonateox/vyper/device/keyboard"
	"github.com/talonateox/vyper/fs"
	"github.com/talonateox/vyper/kernel/hal"
	"github.com/talonateox/vyper/kernel/sched"
)

// failure is the sentinel every syscall returns on error (spec §4.7: "every
// error collapses to u64::MAX; successes return the unsigned result").
const failure = ^uint64(0)

// userBytes views a userland (ptr, len) pair as a Go byte slice. The
// caller's address space is already active (CR3 wasn't changed on syscall
// entry), so the pointer is valid to dereference directly; this kernel
// does not validate that the range actually belongs to the calling task,
// matching the trust model spec §4.7 describes (argument marshalling, not
// a copy_from_user boundary).
func userBytes(ptr, length uint64) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), int(length))
}

func userString(ptr, length uint64) string {
	return string(userBytes(ptr, length))
}

// dispatchSyscall is called by entryTrampoline with RAX in num and the
// remaining syscall registers in arg1..arg5 (spec §4.7's numbered table).
// It never runs with interrupts enabled (SFMASK cleared IF on entry).
func dispatchSyscall(num, arg1, arg2, arg3, arg4, arg5 uint64) uint64 {
	switch num {
	case 0:
		return sysExit(arg1)
	case 1:
		return sysWrite(arg1, arg2, arg3)
	case 2:
		return sysRead(arg1, arg2, arg3)
	case 3:
		return sysOpen(arg1, arg2, arg3)
	case 4:
		return sysClose(arg1)
	case 5:
		return sysGetdents(arg1, arg2, arg3)
	case 6:
		return sysMkdir(arg1, arg2)
	case 7:
		return sysUnlink(arg1, arg2)
	case 8:
		return sysRmdir(arg1, arg2)
	case 9:
		return sysChdir(arg1, arg2)
	case 10:
		return sysGetcwd(arg1, arg2)
	default:
		return failure
	}
}

func sysExit(code uint64) uint64 {
	sched.Exit()
	return 0 // unreachable: Exit never returns
}

// sysWrite special-cases fds 1/2 (Stdout/Stderr): those slots hold no
// FileHandle (fs/fd.go's kindStdout/kindStderr), so File() always fails
// ErrInvalidFd for them, and the bytes have to go to the console sink
// instead (spec §4.7's write table entry; the original's syscall.rs
// confirms fd 1 must print).
func sysWrite(fd, ptr, length uint64) uint64 {
	buf := userBytes(ptr, length)

	if fd == 1 || fd == 2 {
		n, err := hal.ActiveTerminal.Write(buf)
		if err != nil {
			return failure
		}
		return uint64(n)
	}

	task := sched.Current()
	h, err := task.Fds.File(int(fd))
	if err != nil {
		return failure
	}
	n, werr := h.Write(buf)
	if werr != nil {
		return failure
	}
	return uint64(n)
}

// sysRead special-cases fd 0 (Stdin): that slot holds no FileHandle
// either, and reading from it means blocking on the keyboard driver's
// ring buffer until a newline or a full buffer (spec §4.7/§5).
func sysRead(fd, ptr, length uint64) uint64 {
	buf := userBytes(ptr, length)

	if fd == 0 {
		return uint64(keyboard.Read(buf))
	}

	task := sched.Current()
	h, err := task.Fds.File(int(fd))
	if err != nil {
		return failure
	}
	n, rerr := h.Read(buf)
	if rerr != nil {
		return failure
	}
	return uint64(n)
}

func sysOpen(pathPtr, pathLen, flags uint64) uint64 {
	task := sched.Current()
	path := fs.ResolvePath(userString(pathPtr, pathLen), task.Cwd)
	of := fs.OpenFlags(flags)

	if of.Contains(fs.ODIRECTORY) {
		entries, err := fs.Readdir(path)
		if err != nil {
			return failure
		}
		fd, ferr := task.Fds.AllocDirectory(path, entries)
		if ferr != nil {
			return failure
		}
		return uint64(fd)
	}

	h, err := fs.Open(path, of)
	if err != nil {
		return failure
	}
	fd, ferr := task.Fds.AllocFile(h)
	if ferr != nil {
		return failure
	}
	return uint64(fd)
}

func sysClose(fd uint64) uint64 {
	task := sched.Current()
	if err := task.Fds.Close(int(fd)); err != nil {
		return failure
	}
	return 0
}

// sysGetdents serializes the dirent wire format spec §4.7 defines:
// repeated {type:u8, name_len:u16 LE, name:bytes[name_len]}. bufLen is a
// byte count, not an entry count: entries are peeked (not yet consumed
// from the directory cursor) so the byte-packing loop can stop wherever
// the buffer runs out, and the cursor is only advanced past the entries
// that actually got serialized -- advancing it by a byte count (or by
// every peeked entry regardless of what fit) would drop the entries that
// didn't fit on the next getdents call.
func sysGetdents(fd, bufPtr, bufLen uint64) uint64 {
	task := sched.Current()
	entries, err := task.Fds.PeekDirEntries(int(fd))
	if err != nil {
		return failure
	}

	out := userBytes(bufPtr, bufLen)
	written := 0
	consumed := 0
	for _, e := range entries {
		need := 1 + 2 + len(e.Name)
		if written+need > len(out) {
			break
		}
		out[written] = byte(e.Type)
		out[written+1] = byte(len(e.Name))
		out[written+2] = byte(len(e.Name) >> 8)
		copy(out[written+3:], e.Name)
		written += need
		consumed++
	}

	if err := task.Fds.AdvanceDir(int(fd), consumed); err != nil {
		return failure
	}
	return uint64(written)
}

func sysMkdir(pathPtr, pathLen uint64) uint64 {
	task := sched.Current()
	path := fs.ResolvePath(userString(pathPtr, pathLen), task.Cwd)
	if err := fs.Mkdir(path); err != nil {
		return failure
	}
	return 0
}

func sysUnlink(pathPtr, pathLen uint64) uint64 {
	task := sched.Current()
	path := fs.ResolvePath(userString(pathPtr, pathLen), task.Cwd)
	if err := fs.Remove(path); err != nil {
		return failure
	}
	return 0
}

func sysRmdir(pathPtr, pathLen uint64) uint64 {
	task := sched.Current()
	path := fs.ResolvePath(userString(pathPtr, pathLen), task.Cwd)
	if err := fs.Rmdir(path); err != nil {
		return failure
	}
	return 0
}

func sysChdir(pathPtr, pathLen uint64) uint64 {
	task := sched.Current()
	path := fs.ResolvePath(userString(pathPtr, pathLen), task.Cwd)
	if !fs.PathExists(path) {
		return failure
	}
	task.Cwd = path
	return 0
}

func sysGetcwd(bufPtr, bufLen uint64) uint64 {
	task := sched.Current()
	out := userBytes(bufPtr, bufLen)
	n := copy(out, task.Cwd)
	return uint64(n)
}
