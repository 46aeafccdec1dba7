// Package cpu exposes the architecture primitives the rest of the kernel is
// built on: port I/O, control/MSR registers, and CPU control instructions.
// Every function here except IsIntel is declared without a body; each is implemented in the
// sibling .s file, following the same "declare in Go, define in assembly"
// split the teacher uses for Halt/FlushTLBEntry/ReadCR2.
package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling (STI).
func EnableInterrupts()

// DisableInterrupts disables interrupt handling (CLI).
func DisableInterrupts()

// Halt stops instruction execution forever, looping on HLT; used once the
// kernel has nothing left to schedule or has hit a fatal condition.
func Halt()

// HaltOnce executes a single HLT and returns once the next interrupt wakes
// the CPU back up, unlike Halt which never returns. Used by blocking
// device reads (spec §5's "busy-halts until the buffer is non-empty").
func HaltOnce()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory (CR3) to point to the
// specified physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table
// (the value of CR3).
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register (the faulting address
// on the most recent page fault).
func ReadCR2() uint64

// ID returns information about the CPU and its features. It is implemented
// as a CPUID instruction with EAX=leaf and returns the values in EAX, EBX,
// ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// Inb reads a single byte from the given I/O port.
func Inb(port uint16) uint8

// Outb writes a single byte to the given I/O port.
func Outb(port uint16, value uint8)

// Inw reads a 16-bit word from the given I/O port.
func Inw(port uint16) uint16

// Outw writes a 16-bit word to the given I/O port.
func Outw(port uint16, value uint16)

// Inl reads a 32-bit dword from the given I/O port.
func Inl(port uint16) uint32

// Outl writes a 32-bit dword to the given I/O port.
func Outl(port uint16, value uint32)

// Rdmsr reads the 64-bit value of the model-specific register msr.
func Rdmsr(msr uint32) uint64

// Wrmsr writes a 64-bit value to the model-specific register msr.
func Wrmsr(msr uint32, value uint64)

// Swapgs exchanges the value of the GS base MSR with the value stored in
// KernelGSBase. Used at syscall entry/exit to switch between the user and
// kernel GS-relative CPU-local structures.
func Swapgs()

// WriteCR3 loads a physical address (a PML4 table) into CR3 without
// necessarily implying a full TLB flush semantic distinct from SwitchPDT;
// kept as a separate primitive since the scheduler writes CR3 directly from
// a saved task field rather than through the VMM's page-table bookkeeping.
func WriteCR3(pml4PhysAddr uintptr)
