package sched

// kernelTrampoline and userTrampoline are the two addresses newKernelTask
// and newUserTask synthesize a return into (see stack_amd64.go). Both are
// bodyless; their bodies live in trampoline_amd64.s and simply enable
// interrupts before handing off to a real Go function that reads the
// now-current task out of the global scheduler.
func kernelTrampoline()
func userTrampoline()

func kernelTrampolineAddr() uintptr { return funcPC(kernelTrampoline) }
func userTrampolineAddr() uintptr   { return funcPC(userTrampoline) }

// runKernelEntry is called by kernelTrampoline once interrupts are enabled.
// It runs the current task's closure to completion and then exits it,
// mirroring original_source's entry_wrapper/exit-on-return behaviour.
func runKernelEntry() {
	t := global.currentTask()
	if t.entry != nil {
		t.entry()
	}
	Exit()
}

// runUserEntry is called by userTrampoline once interrupts are enabled. It
// drops to ring 3 at the task's recorded entry point and stack; it never
// returns (jumpToUsermode performs an IRETQ).
func runUserEntry() {
	t := global.currentTask()
	jumpToUsermode(t.userEntry, t.userStack)
}
