package vmm

import (
	"github.com/talonateox/vyper/kernel/cpu"
	"github.com/talonateox/vyper/kernel/mm"
)

// InitKernelAddressSpace records the PML4 that is already active in CR3 at
// the point this is called (installed either by the bootloader itself or
// by architecture bring-up code that runs before any subsystem depends on
// vmm) as the master kernel page table that every later AddressSpace's
// upper half is copied from.
func InitKernelAddressSpace() {
	Init(mm.FrameFromAddress(cpu.ActivePDT()))
}
