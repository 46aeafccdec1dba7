package vmm

import (
	"unsafe"

	"github.com/talonateox/vyper/kernel/hal/boot"
	"github.com/talonateox/vyper/kernel/mm"
)

const (
	pageLevels  = 4
	entryCount  = 512
	frameMask   = uintptr(0x000ffffffffff000)
	flagMask    = ^frameMask
	addrBitsLen = 9
)

// pageLevelShifts holds the bit offset of the index field for each paging
// level, PML4 first. Generalizes the teacher's pageLevelShifts/pageLevelBits
// (kernel/mm/vmm/vmm_constants_amd64.go) to the HHDM-addressed walker below.
var pageLevelShifts = [pageLevels + 1]uint{39, 30, 21, 12, 0}

// pageTableEntry is a single 8-byte slot within any of the four paging
// levels.
type pageTableEntry uintptr

// Frame returns the physical frame this entry points to.
func (e pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(e) & frameMask) >> mm.PageShift)
}

// SetFrame installs f as the target of this entry, preserving flags.
func (e *pageTableEntry) SetFrame(f mm.Frame) {
	*e = pageTableEntry((uintptr(*e) &^ frameMask) | f.Address())
}

// HasFlags returns true if all bits in flags are set.
func (e pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uintptr(e)&uintptr(flags) == uintptr(flags)
}

// SetFlags ORs flags into the entry.
func (e *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*e |= pageTableEntry(flags)
}

// ClearFlags clears flags from the entry.
func (e *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*e &^= pageTableEntry(flags)
}

// tableAt returns the HHDM-mapped slice of 512 entries for the page table
// stored at the given physical frame.
func tableAt(frame mm.Frame) []pageTableEntry {
	virt := boot.PhysToVirt(frame.Address())
	return (*[entryCount]pageTableEntry)(unsafe.Pointer(virt))[:]
}

func index(virt uintptr, level int) uintptr {
	return (virt >> pageLevelShifts[level]) & (entryCount - 1)
}
