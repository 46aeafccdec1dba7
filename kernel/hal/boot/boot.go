// Package boot models the handoff contract with a Limine-class bootloader:
// a physical memory map, a framebuffer descriptor and the higher-half
// direct map (HHDM) offset. It replaces the teacher's Multiboot-info
// parsing (kernel/hal/multiboot) with the Limine request/response protocol
// spec.md names as this kernel's boot input; the iteration shape
// (VisitMemRegions(callback)) is kept from the teacher.
package boot

// MemRegionType classifies a physical memory map entry.
type MemRegionType uint32

const (
	// MemUsable marks RAM that is free for the PMM to hand out.
	MemUsable = MemRegionType(iota)
	// MemReserved marks memory the kernel must never allocate from.
	MemReserved
	// MemACPIReclaimable marks ACPI tables that become usable once the
	// kernel has parsed them. Treated as reserved by this kernel, which
	// does not parse ACPI tables.
	MemACPIReclaimable
	// MemACPINVS marks ACPI non-volatile storage.
	MemACPINVS
	// MemBadMemory marks memory reported as defective by the firmware.
	MemBadMemory
	// MemBootloaderReclaimable marks memory used by the bootloader
	// itself that becomes usable after the kernel has consumed the boot
	// protocol responses.
	MemBootloaderReclaimable
	// MemKernelAndModules marks the kernel image and any loaded modules.
	MemKernelAndModules
	// MemFramebuffer marks the framebuffer's backing memory.
	MemFramebuffer
)

// MemoryMapEntry describes a single physical memory region reported by the
// bootloader.
type MemoryMapEntry struct {
	// Base is the physical start address of the region.
	Base uintptr
	// Length is the size of the region in bytes.
	Length uintptr
	// Type classifies the region.
	Type MemRegionType
}

// FramebufferInfo describes the linear framebuffer handed off by the
// bootloader. Rasterization into it is out of scope for this kernel (see
// spec's scope notes); only the address/geometry is consumed, to build a
// raw byte sink for hal.InitTerminal.
type FramebufferInfo struct {
	PhysAddr uintptr
	Width    uint32
	Height   uint32
	Pitch    uint32
	Bpp      uint8
}

var (
	memoryMap  []MemoryMapEntry
	fbInfo     FramebufferInfo
	hhdmOffset uintptr
)

// SetMemoryMap installs the physical memory map reported by the
// bootloader. Called once, very early, by the boot trampoline.
func SetMemoryMap(entries []MemoryMapEntry) {
	memoryMap = entries
}

// VisitMemRegions invokes visitor once for every entry in the physical
// memory map, in the order reported by the bootloader. The visitor returns
// false to stop the iteration early.
func VisitMemRegions(visitor func(entry *MemoryMapEntry) bool) {
	for i := range memoryMap {
		if !visitor(&memoryMap[i]) {
			return
		}
	}
}

// SetFramebufferInfo installs the framebuffer descriptor reported by the
// bootloader.
func SetFramebufferInfo(info FramebufferInfo) {
	fbInfo = info
}

// GetFramebufferInfo returns the framebuffer descriptor reported by the
// bootloader.
func GetFramebufferInfo() FramebufferInfo {
	return fbInfo
}

// SetHHDMOffset installs the higher-half direct map offset reported by the
// bootloader: for any physical address p, p+offset is mapped and readable/
// writable through the direct map.
func SetHHDMOffset(offset uintptr) {
	hhdmOffset = offset
}

// HHDMOffset returns the higher-half direct map offset.
func HHDMOffset() uintptr {
	return hhdmOffset
}

// PhysToVirt converts a physical address to its higher-half direct-map
// virtual address.
func PhysToVirt(phys uintptr) uintptr {
	return phys + hhdmOffset
}
