package sched

import "github.com/talonateox/vyper/kernel/gdt"

// jumpToUsermode builds an IRETQ frame that drops the CPU to ring 3 at
// entry, running on stack, with RFLAGS.IF set so the user task starts with
// interrupts enabled. It never returns to its caller; the only way back
// into kernel code is a later interrupt, exception, or syscall.
func jumpToUsermode(entry, stack uintptr)

// usermodeRFlags is RFLAGS with only the interrupt-enable bit (bit 9) and
// the reserved always-one bit 1 set.
const usermodeRFlags = 0x202

// userCS and userDS are read by the assembly stub; kept as package vars
// rather than asm constants so gdt's UserCS/UserDS selector constants are
// the single source of truth.
var userCS = uint64(gdt.UserCS)
var userDS = uint64(gdt.UserDS)
