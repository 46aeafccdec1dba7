package sched

import "unsafe"

// calleeSavedSlots is the number of callee-saved registers switchContext
// pushes/pops: rbp, rbx, r12, r13, r14, r15 (see switch_amd64.s).
const calleeSavedSlots = 6

// funcPC recovers the entry program counter of a bodyless (or ordinary) Go
// function value, the same trick kernel/gate uses to turn a Go func into an
// address the IDT or, here, a synthesized stack frame can jump to.
func funcPC(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}

// stackTop returns the highest usable address within stack, i.e. one past
// its last byte -- the initial RSP value for a stack that grows down.
func stackTop(stack []byte) uintptr {
	if len(stack) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&stack[len(stack)-1])) + 1
}

// alignDown16 rounds addr down to the nearest 16-byte boundary, matching
// the SysV ABI's stack alignment requirement at a call instruction.
func alignDown16(addr uintptr) uintptr {
	return addr &^ 15
}

// synthesizeInitialStack writes a frame onto the top of stack such that a
// switchContext pop sequence (r15,r14,r13,r12,rbx,rbp then ret) lands
// control at trampolinePC with all six callee-saved registers zeroed.
//
// This deliberately diverges from original_source/vcore/src/sched/task.rs,
// which smuggles the real entry point and argument into r15/r14 for the
// naked-asm trampoline to read out of registers. Go's calling convention
// and the fact that kernelTrampoline/userTrampoline are Go functions (not
// naked asm) make that handoff awkward to replicate faithfully, so instead
// the trampolines take no synthesized arguments at all: once control lands
// there, they call back into this package's Current() to read the task's
// entry/userEntry/userStack fields directly out of the scheduler's current
// Task, which is already authoritative (it's how TSS.RSP0 and CR3 get
// chosen on every switch anyway).
func synthesizeInitialStack(stack []byte, trampolinePC uintptr) uintptr {
	top := alignDown16(stackTop(stack))

	// Reserve one slot for the return address and calleeSavedSlots for
	// the registers switchContext will pop, writing from high addresses
	// down so that after all the pops sp==the return address slot.
	sp := top - unsafe.Sizeof(uintptr(0))*(calleeSavedSlots+1)
	words := (*[calleeSavedSlots + 1]uintptr)(unsafe.Pointer(sp))

	for i := 0; i < calleeSavedSlots; i++ {
		words[i] = 0
	}
	words[calleeSavedSlots] = trampolinePC

	return sp
}
