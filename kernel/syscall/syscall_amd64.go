// Package syscall wires up the SYSCALL/SYSRET fast path (spec §4.7): MSR
// configuration, the swapgs entry trampoline, and the numbered dispatch
// table that every userland ELF talks to.
//
// No teacher equivalent exists (gopher-os never reaches ring 3); built
// from spec.md §4.7 literally and cross-checked against
// original_source/vcore/src/cpu/syscall.rs for the exact swapgs/
// save-RSP/push-registers/call/pop/swapgs/sysretq sequencing and the
// CPU-local user_rsp/kernel_rsp struct addressed via KernelGsBase. Reuses
// the teacher's bodyless-Go/assembly-sibling split (kernel/cpu,
// kernel/gate) for the entry trampoline, and kernel/gdt.StarValue for the
// STAR MSR packing.
package syscall

import (
	"unsafe"

	"github.com/talonateox/vyper/kernel/cpu"
	"github.com/talonateox/vyper/kernel/gdt"
)

const (
	msrStar         = 0xC0000081
	msrLstar        = 0xC0000082
	msrFmask        = 0xC0000084
	msrEfer         = 0xC0000080
	msrKernelGsBase = 0xC0000102

	eferSCE = 1 << 0

	// rflagsIF is the interrupt-enable bit SFMASK clears on entry, so a
	// syscall always starts with interrupts disabled (spec §4.7).
	rflagsIF = 1 << 9

	syscallStackSize = 4096 * 4
)

// cpuLocal is addressed via the swapgs'd GS segment: offset 0 holds the
// caller's RSP while the trampoline runs on the kernel stack at offset 8.
// Mirrors original_source's CpuLocal{user_rsp, kernel_rsp}.
type cpuLocal struct {
	userRSP   uint64
	kernelRSP uint64
}

var local cpuLocal

var syscallStack [syscallStackSize]byte

// Init configures STAR/LSTAR/SFMASK/EFER.SCE and points KernelGsBase at
// this CPU's cpuLocal, so the entry trampoline can find a kernel stack
// regardless of what was running in userland. sel must be the same
// Selectors value gdt.Init returned.
func Init(sel gdt.Selectors) {
	cpu.Wrmsr(msrStar, gdt.StarValue(sel))
	cpu.Wrmsr(msrLstar, uint64(entryTrampolineAddr()))
	cpu.Wrmsr(msrFmask, rflagsIF)

	efer := cpu.Rdmsr(msrEfer)
	cpu.Wrmsr(msrEfer, efer|eferSCE)

	local.kernelRSP = uint64(uintptr(unsafe.Pointer(&syscallStack[len(syscallStack)-1]))) + 1
	cpu.Wrmsr(msrKernelGsBase, uint64(uintptr(unsafe.Pointer(&local))))
}

// entryTrampoline is the LSTAR target: swapgs, switch to the syscall
// stack, save/restore registers around dispatchSyscall, swapgs, sysretq.
// Bodyless; implemented in syscall_amd64.s.
func entryTrampoline()

func entryTrampolineAddr() uintptr {
	f := entryTrampoline
	return **(**uintptr)(unsafe.Pointer(&f))
}
