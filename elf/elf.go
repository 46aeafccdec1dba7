// Package elf implements the minimal ELF64 loader described in spec §4.6:
// validate the header, walk PT_LOAD program headers, and map each segment
// into a target address space.
//
// No teacher equivalent exists (gopher-os never reaches userspace), so
// this is built from spec.md §4.6 literally, cross-checked field-by-field
// against original_source/vcore/src/elf.rs for the exact header layout and
// the phoff/phentsize/phnum walk order. Kept deliberately off
// debug/elf: that package assumes an io.ReaderAt over a hosted OS file
// handle, which this kernel doesn't have — the input here is always a
// byte slice already read into memory by the VFS.
package elf

import (
	"unsafe"

	"github.com/talonateox/vyper/kernel"
	"github.com/talonateox/vyper/kernel/mm"
	"github.com/talonateox/vyper/kernel/mm/vmm"
)

var (
	errTooSmall   = &kernel.Error{Module: "elf", Message: "elf image smaller than its own header"}
	errBadMagic   = &kernel.Error{Module: "elf", Message: "invalid ELF magic"}
	errNotElf64   = &kernel.Error{Module: "elf", Message: "not a 64-bit ELF image"}
	errNotAmd64   = &kernel.Error{Module: "elf", Message: "not an amd64 ELF image"}
	errPhdrOOB    = &kernel.Error{Module: "elf", Message: "program header table out of bounds"}
	errSegmentOOB = &kernel.Error{Module: "elf", Message: "segment data out of bounds"}
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

const (
	classELF64   = 2
	machineAMD64 = 0x3E

	ptLoad = 1

	pfX = 1
	pfW = 2
	pfR = 4
)

// header64 mirrors the 64-byte ELF64 file header.
type header64 struct {
	Magic     [4]byte
	Class     uint8
	Endian    uint8
	Version   uint8
	OsABI     uint8
	pad       [8]byte
	Type      uint16
	Machine   uint16
	Version2  uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// programHeader64 mirrors one Elf64_Phdr entry.
type programHeader64 struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Loaded describes the outcome of a successful load: the virtual address
// execution should begin at.
type Loaded struct {
	Entry uintptr
}

// readHeader validates and returns the file header at the start of data.
func readHeader(data []byte) (*header64, *kernel.Error) {
	if len(data) < int(unsafe.Sizeof(header64{})) {
		return nil, errTooSmall
	}

	h := (*header64)(unsafe.Pointer(&data[0]))
	if h.Magic != elfMagic {
		return nil, errBadMagic
	}
	if h.Class != classELF64 {
		return nil, errNotElf64
	}
	if h.Machine != machineAMD64 {
		return nil, errNotAmd64
	}
	return h, nil
}

// Load validates data as an ELF64/amd64 executable and maps every PT_LOAD
// segment into as, page-aligning the mapped range, writing the segment's
// file bytes, and zeroing the BSS tail (memsz - filesz) (spec §4.6).
func Load(data []byte, as *vmm.AddressSpace) (Loaded, *kernel.Error) {
	h, err := readHeader(data)
	if err != nil {
		return Loaded{}, err
	}

	phOffset := int(h.Phoff)
	phSize := int(h.Phentsize)
	phNum := int(h.Phnum)

	for i := 0; i < phNum; i++ {
		start := phOffset + i*phSize
		if start+phSize > len(data) {
			return Loaded{}, errPhdrOOB
		}

		ph := (*programHeader64)(unsafe.Pointer(&data[start]))
		if ph.Type != ptLoad {
			continue
		}

		flags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagUser
		if ph.Flags&pfX == 0 {
			flags |= vmm.FlagNoExecute
		}

		startPage := uintptr(ph.Vaddr) &^ (mm.PageSize - 1)
		endAddr := uintptr(ph.Vaddr + ph.Memsz)
		endPage := (endAddr + mm.PageSize - 1) &^ (mm.PageSize - 1)

		for addr := startPage; addr < endPage; addr += mm.PageSize {
			if !as.IsMapped(addr) {
				if _, err := as.MapAlloc(mm.PageFromAddress(addr), flags); err != nil {
					return Loaded{}, err
				}
			}
		}

		fileStart := int(ph.Offset)
		fileEnd := fileStart + int(ph.Filesz)
		if fileEnd > len(data) {
			return Loaded{}, errSegmentOOB
		}

		if ph.Filesz > 0 {
			if err := as.Write(uintptr(ph.Vaddr), data[fileStart:fileEnd]); err != nil {
				return Loaded{}, err
			}
		}

		if ph.Memsz > ph.Filesz {
			if err := as.Zero(uintptr(ph.Vaddr)+uintptr(ph.Filesz), uintptr(ph.Memsz-ph.Filesz)); err != nil {
				return Loaded{}, err
			}
		}
	}

	return Loaded{Entry: uintptr(h.Entry)}, nil
}
