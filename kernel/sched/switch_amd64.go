package sched

// switchContext saves the six callee-saved registers and RSP at *oldSP,
// switches RSP to newSP, optionally reloads CR3, and returns into whatever
// the new stack's synthesized (or previously saved) return address points
// at. Ported from original_source/vcore/src/sched/switch.rs's switch_context,
// with the CR3 reload folded in so callers don't need a second asm stub.
func switchContext(oldSP *uintptr, newSP uintptr, newCR3 uintptr)
