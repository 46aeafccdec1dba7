// Package sched implements the kernel's preemptive uniprocessor scheduler
// (spec §4.5): a single run queue, round-robin selection, and the
// synthesized-stack context-switch protocol that lands a freshly spawned
// task in a trampoline which enables interrupts and either runs a kernel
// closure or drops to usermode.
//
// gopher-os never reaches multitasking, so there is no teacher file to
// port; this package is built from spec.md §3/§4.5 literally, reusing the
// teacher's idioms throughout (kernel.Error returns, sync.Spinlock
// guarding shared state, the bodyless-Go/assembly-sibling split from
// kernel/cpu and kernel/gate for switchContext and the two trampolines).
// Cross-checked against original_source/vcore/src/sched/{mod,switch,task,
// user}.rs for the exact reap->wake->pick->switch ordering and the
// synthesized-stack contract (see the package-level note in sched.go on
// where this port deliberately diverges from the Rust naked-asm register
// handoff).
package sched

import (
	"sync/atomic"

	"github.com/talonateox/vyper/fs"
	"github.com/talonateox/vyper/kernel/mm/vmm"
)

// State is a task's scheduling state (spec §3).
type State int

const (
	Ready State = iota
	Running
	Sleeping
	Dead
)

// Mode distinguishes a task that runs kernel code directly from one that
// runs in ring 3.
type Mode int

const (
	KernelMode Mode = iota
	UserMode
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

func (m Mode) String() string {
	if m == UserMode {
		return "user"
	}
	return "kernel"
}

// kernelStackSize is the size of the stack allocated for every task,
// mirroring original_source/vcore/src/sched/task.rs's Task::STACK_SIZE.
const kernelStackSize = 4096 * 4

var nextID uint64

func allocTaskID() uint64 {
	return atomic.AddUint64(&nextID, 1)
}

// Task is one schedulable unit of execution (spec §3). At most one Task is
// ever Running at a time; a Running task's stackPtr field is stale (the
// live value lives in the CPU's RSP register).
type Task struct {
	ID    uint64
	Name  string
	State State
	Mode  Mode

	// stackPtr is the saved RSP for a non-running task. switchContext
	// reads/writes it directly.
	stackPtr uintptr

	hasWakeAt bool
	wakeAt    uint64

	userEntry uintptr
	userStack uintptr

	// kernelStack anchors this task's private stack; never accessed by
	// Go code once the task is running, only its top address matters
	// (used both as the initial stackPtr and as the TSS.RSP0 target
	// while this task owns the CPU).
	kernelStack []byte

	// AddrSpace is nil for kernel tasks (they share the kernel's active
	// address space) and non-nil for user tasks.
	AddrSpace *vmm.AddressSpace

	Cwd string
	Fds *fs.FdTable

	// entry is the closure a kernel task runs once its trampoline has
	// enabled interrupts. Unused (nil) for user tasks.
	entry func()
}

// newKernelTask and newUserTask take their trampoline return addresses from
// kernelTrampolineAddr and userTrampolineAddr in trampoline_amd64.go.

// newKernelInitTask builds the Task representing the code already running
// at scheduler-init time (the boot/idle task). It starts Running with no
// saved stack pointer, matching Task::kernel_task() in the source.
func newKernelInitTask() *Task {
	return &Task{
		ID:    allocTaskID(),
		Name:  "kernel",
		State: Running,
		Mode:  KernelMode,
		Cwd:   "/",
		Fds:   fs.NewFdTable(),
	}
}

// newKernelTask allocates a fresh stack for entry and synthesizes an
// initial frame such that the first context-switch return lands in
// kernelTrampoline (spec §4.5 "Initial stacks for new tasks are
// synthesised so that the first return lands in a trampoline that enables
// interrupts and jumps to the real entry").
func newKernelTask(name string, entry func()) *Task {
	t := &Task{
		ID:    allocTaskID(),
		Name:  name,
		State: Ready,
		Mode:  KernelMode,
		Cwd:   "/",
		Fds:   fs.NewFdTable(),
		entry: entry,
	}
	t.kernelStack = make([]byte, kernelStackSize)
	t.stackPtr = synthesizeInitialStack(t.kernelStack, kernelTrampolineAddr())
	return t
}

// newUserTask allocates a kernel stack for a user task whose entry/stack
// in its own address space have already been set up (ELF segments mapped,
// user stack mapped), and synthesizes the initial frame so the first
// return lands in userTrampoline.
func newUserTask(name string, as *vmm.AddressSpace, entry, userStack uintptr) *Task {
	t := &Task{
		ID:        allocTaskID(),
		Name:      name,
		State:     Ready,
		Mode:      UserMode,
		Cwd:       "/",
		Fds:       fs.NewFdTable(),
		AddrSpace: as,
		userEntry: entry,
		userStack: userStack,
	}
	t.kernelStack = make([]byte, kernelStackSize)
	t.stackPtr = synthesizeInitialStack(t.kernelStack, userTrampolineAddr())
	return t
}

// kernelStackTop returns the address SetKernelStack should install while
// this task owns the CPU (the TSS.RSP0 target for a ring3->ring0
// transition through a syscall or interrupt gate).
func (t *Task) kernelStackTop() uintptr {
	if len(t.kernelStack) == 0 {
		return 0
	}
	return alignDown16(stackTop(t.kernelStack))
}

// cr3 returns the physical PML4 address to load when this task becomes
// current, or 0 for a kernel task (meaning: leave CR3 untouched, spec
// §4.5 "if new_cr3 != 0, write it to CR3").
func (t *Task) cr3() uintptr {
	if t.AddrSpace == nil {
		return 0
	}
	return t.AddrSpace.PML4Frame().Address()
}
