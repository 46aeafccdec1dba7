package elf

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/talonateox/vyper/kernel"
	"github.com/talonateox/vyper/kernel/hal/boot"
	"github.com/talonateox/vyper/kernel/mm"
	"github.com/talonateox/vyper/kernel/mm/vmm"
)

// fakeFrames mirrors vmm's own test fixture: page-aligned slabs cut from
// ordinary Go-heap arenas stand in for physical frames, with a zero HHDM
// offset making boot.PhysToVirt the identity function.
type fakeFrames struct {
	free   []mm.Frame
	arenas [][]byte
}

func newFakeFrames(n int) *fakeFrames {
	ff := &fakeFrames{}
	for i := 0; i < n; i++ {
		arena := make([]byte, 2*mm.PageSize)
		ff.arenas = append(ff.arenas, arena)
		base := uintptr(unsafe.Pointer(&arena[0]))
		aligned := (base + mm.PageSize - 1) &^ (mm.PageSize - 1)
		ff.free = append(ff.free, mm.Frame(aligned>>mm.PageShift))
	}
	return ff
}

func (f *fakeFrames) Alloc() (mm.Frame, *kernel.Error) {
	if len(f.free) == 0 {
		return mm.InvalidFrame, &kernel.Error{Module: "elftest", Message: "out of fake frames"}
	}
	frame := f.free[0]
	f.free = f.free[1:]
	return frame, nil
}

func (f *fakeFrames) Free(fr mm.Frame) {
	f.free = append(f.free, fr)
}

func setupAddressSpace(t *testing.T, frames int) *vmm.AddressSpace {
	t.Helper()
	boot.SetHHDMOffset(0)

	ff := newFakeFrames(frames)
	mm.SetFrameAllocator(ff.Alloc)
	mm.SetFrameDeallocator(ff.Free)

	kernelFrame, err := ff.Alloc()
	if err != nil {
		t.Fatalf("allocating kernel PML4 frame: %s", err)
	}
	vmm.Init(kernelFrame)

	as, err := vmm.New()
	if err != nil {
		t.Fatalf("vmm.New() failed: %s", err)
	}
	return as
}

// buildImage assembles a minimal ELF64 executable with a single PT_LOAD
// segment: len(code) bytes of file content followed by a BSS tail extending
// memsz past filesz.
func buildImage(vaddr, entry uint64, code []byte, memsz uint64) []byte {
	const headerSize = 64
	const phdrSize = 56

	buf := make([]byte, headerSize+phdrSize+len(code))

	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = classELF64
	buf[5] = 1 // little-endian
	buf[6] = 1 // version
	binary.LittleEndian.PutUint16(buf[18:20], machineAMD64)
	binary.LittleEndian.PutUint64(buf[24:32], entry)
	binary.LittleEndian.PutUint64(buf[32:40], headerSize) // phoff
	binary.LittleEndian.PutUint16(buf[54:56], phdrSize)   // phentsize
	binary.LittleEndian.PutUint16(buf[56:58], 1)          // phnum

	ph := buf[headerSize:]
	binary.LittleEndian.PutUint32(ph[0:4], ptLoad)
	binary.LittleEndian.PutUint32(ph[4:8], pfR|pfW|pfX)
	binary.LittleEndian.PutUint64(ph[8:16], headerSize+phdrSize) // offset
	binary.LittleEndian.PutUint64(ph[16:24], vaddr)
	binary.LittleEndian.PutUint64(ph[32:40], uint64(len(code))) // filesz
	binary.LittleEndian.PutUint64(ph[40:48], memsz)

	copy(buf[headerSize+phdrSize:], code)
	return buf
}

func TestLoadRejectsTooSmall(t *testing.T) {
	if _, err := Load([]byte{1, 2, 3}, nil); err != errTooSmall {
		t.Errorf("Load(tiny) = %v, want errTooSmall", err)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	img := buildImage(0x1000, 0x1000, []byte("hi"), 2)
	img[0] = 'X'
	if _, err := Load(img, nil); err != errBadMagic {
		t.Errorf("Load(bad magic) = %v, want errBadMagic", err)
	}
}

func TestLoadMapsWritesAndZeroesBSS(t *testing.T) {
	as := setupAddressSpace(t, 32)

	vaddr := uint64(0x400000)
	code := []byte("hello user task")
	memsz := uint64(len(code)) + 16 // 16 bytes of BSS tail

	img := buildImage(vaddr, vaddr+4, code, memsz)

	loaded, err := Load(img, as)
	if err != nil {
		t.Fatalf("Load failed: %s", err)
	}
	if loaded.Entry != uintptr(vaddr+4) {
		t.Fatalf("Entry = %#x, want %#x", loaded.Entry, vaddr+4)
	}

	if !as.IsMapped(uintptr(vaddr)) {
		t.Fatal("expected segment's page to be mapped")
	}

	// Unmap (without freeing) to recover the backing frame, then read it
	// through the HHDM the same way addr_space_test.go's TestWriteAndReadBack
	// does, since AddressSpace has no exported read accessor of its own.
	frame, err := as.Unmap(mm.PageFromAddress(uintptr(vaddr)))
	if err != nil {
		t.Fatalf("Unmap failed: %s", err)
	}

	page := (*[mm.PageSize]byte)(unsafe.Pointer(boot.PhysToVirt(frame.Address())))
	if string(page[:len(code)]) != string(code) {
		t.Fatalf("read back %q, want %q", page[:len(code)], code)
	}

	bss := page[len(code) : len(code)+16]
	for i, b := range bss {
		if b != 0 {
			t.Fatalf("bss[%d] = %d, want 0", i, b)
		}
	}
}
