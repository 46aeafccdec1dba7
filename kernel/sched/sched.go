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
// synthesized-stack contract.
//
// One deliberate divergence from the Rust source: switch.rs/task.rs smuggle
// a freshly spawned task's entry point and argument into r15/r14 for its
// naked-asm trampoline to read directly out of registers. The trampolines
// here (trampoline_amd64.go/.s) take no such handoff -- they call back into
// this package to read the current task's entry/userEntry/userStack out of
// the scheduler's own bookkeeping, which is already the authoritative
// source used to pick TSS.RSP0 and CR3 on every switch.
package sched

import (
	"sync/atomic"

	"github.com/talonateox/vyper/elf"
	"github.com/talonateox/vyper/kernel"
	"github.com/talonateox/vyper/kernel/cpu"
	"github.com/talonateox/vyper/kernel/gdt"
	"github.com/talonateox/vyper/kernel/mm"
	"github.com/talonateox/vyper/kernel/mm/vmm"
	"github.com/talonateox/vyper/kernel/sync"
)

// Scheduler owns the single run queue (spec §4.5: "a single run queue,
// round robin").
type Scheduler struct {
	lock sync.Spinlock

	tasks   []*Task
	current int

	ticks uint64
}

var global Scheduler

// Init installs the boot task (the code already executing) as the
// scheduler's current task and must run before any Spawn/Schedule call.
func Init() {
	global.lock.Acquire()
	defer global.lock.Release()

	global.tasks = []*Task{newKernelInitTask()}
	global.current = 0
}

// currentTask returns the task presently marked Running. Safe to call from
// the trampolines, which run with the scheduler lock already released (the
// switch that got them here happened outside the critical section).
func (s *Scheduler) currentTask() *Task {
	s.lock.Acquire()
	t := s.tasks[s.current]
	s.lock.Release()
	return t
}

// Current returns the task presently running on the CPU.
func Current() *Task { return global.currentTask() }

// Spawn creates a new kernel task running entry and adds it to the run
// queue in the Ready state.
func Spawn(name string, entry func()) *Task {
	t := newKernelTask(name, entry)

	global.lock.Acquire()
	global.tasks = append(global.tasks, t)
	global.lock.Release()

	return t
}

// userStackPages is how many pages below userStackTop SpawnELF maps for
// the new task's initial user stack (spec §4.5: "map a user stack of 4
// pages ending at a fixed high user-address").
const userStackPages = 4

// SpawnELF loads an ELF64 image into a fresh address space, maps a user
// stack below userStackTop in that same address space, and spawns a user
// task starting at the image's entry point (spec §4.6/§3).
func SpawnELF(name string, data []byte, userStackTop uintptr) (*Task, *kernel.Error) {
	as, err := vmm.New()
	if err != nil {
		return nil, err
	}

	loaded, err := elf.Load(data, as)
	if err != nil {
		return nil, err
	}

	stackFlags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagUser
	stackBottom := userStackTop - userStackPages*mm.PageSize
	for addr := stackBottom; addr < userStackTop; addr += mm.PageSize {
		if _, err := as.MapAlloc(mm.PageFromAddress(addr), stackFlags); err != nil {
			return nil, err
		}
	}

	t := newUserTask(name, as, loaded.Entry, userStackTop)

	global.lock.Acquire()
	global.tasks = append(global.tasks, t)
	global.lock.Release()

	return t, nil
}

// TaskInfo is a point-in-time snapshot of one task's scheduling state,
// copied out from under the scheduler lock so callers (tasksfs) never
// touch *Task directly.
type TaskInfo struct {
	ID    uint64
	Name  string
	State State
	Mode  Mode
}

// Snapshot returns every task currently known to the scheduler, including
// Dead ones not yet reaped. Callers that want to mirror spec §4.10's
// "dead tasks disappear from the directory listing" behavior must filter
// State == Dead themselves.
func Snapshot() []TaskInfo {
	global.lock.Acquire()
	defer global.lock.Release()

	out := make([]TaskInfo, len(global.tasks))
	for i, t := range global.tasks {
		out[i] = TaskInfo{ID: t.ID, Name: t.Name, State: t.State, Mode: t.Mode}
	}
	return out
}

// Tick advances the scheduler's tick counter; called once per timer
// interrupt (spec §5, vector 32) before Schedule.
func Tick() uint64 {
	return atomic.AddUint64(&global.ticks, 1)
}

// Ticks returns the number of timer interrupts observed so far.
func Ticks() uint64 {
	return atomic.LoadUint64(&global.ticks)
}

// reapDead drops every task in the Dead state from the run queue except
// the one at index keep (the current task, which may itself be Dead right
// after Exit set it so -- Exit never returns to its caller, so the task
// that just died is still "current" until this same Schedule call picks a
// replacement). Returns the adjusted index of the kept task, since removing
// entries ahead of it shifts the slice (spec §4.5 step 1: "adjust current
// if reaping shifted the array"). A reaped task's owned address space is
// freed here (spec §3: "dropped when the task is reaped"); its
// kernel-shared upper half is left untouched by Destroy.
func (s *Scheduler) reapDead(keep int) int {
	kept := s.tasks[keep]
	newCurrent := 0
	alive := s.tasks[:0]
	for i, t := range s.tasks {
		if i != keep && t.State == Dead {
			if t.AddrSpace != nil {
				t.AddrSpace.Destroy()
			}
			continue
		}
		if t == kept {
			newCurrent = len(alive)
		}
		alive = append(alive, t)
	}
	s.tasks = alive
	return newCurrent
}

// wakeSleepers promotes every Sleeping task whose wakeAt has passed back to
// Ready.
func (s *Scheduler) wakeSleepers(now uint64) {
	for _, t := range s.tasks {
		if t.State == Sleeping && t.hasWakeAt && now >= t.wakeAt {
			t.State = Ready
			t.hasWakeAt = false
		}
	}
}

// nextReady returns the index of the next Ready task after `from`, scanning
// round-robin, or -1 if none is ready.
func (s *Scheduler) nextReady(from int) int {
	n := len(s.tasks)
	for i := 1; i <= n; i++ {
		idx := (from + i) % n
		if s.tasks[idx].State == Ready {
			return idx
		}
	}
	return -1
}

// Schedule implements spec §4.5's ordering: disable interrupts, reap dead
// tasks, wake sleepers whose deadline has passed, pick the next ready task,
// drop the lock, then context switch into it (spec §4.5/§5). Called from
// the timer interrupt handler (where IF is already 0, the interrupt gate's
// doing) and from Yield/Sleep/Exit, which may call it with IF=1. Disabling
// unconditionally on entry is what stops a timer tick from re-entering
// Schedule while global.lock is held -- the spinlock isn't reentrant, and
// a tick landing inside the critical section would spin on itself forever.
// Interrupts are re-enabled before every return, including across the
// switch: a task resumed here (rather than through a trampoline) continues
// right after switchContext with interrupts still off otherwise.
func Schedule() {
	cpu.DisableInterrupts()
	global.lock.Acquire()

	global.current = global.reapDead(global.current)
	global.wakeSleepers(Ticks())

	if len(global.tasks) == 0 {
		global.lock.Release()
		cpu.EnableInterrupts()
		return
	}

	old := global.tasks[global.current]
	nextIdx := global.nextReady(global.current)
	if nextIdx < 0 {
		// Nothing else ready; keep running old if it still can.
		if old.State == Running || old.State == Ready {
			global.lock.Release()
			cpu.EnableInterrupts()
			return
		}
		global.lock.Release()
		cpu.EnableInterrupts()
		return
	}

	next := global.tasks[nextIdx]

	if old.State == Running {
		old.State = Ready
	}
	next.State = Running
	global.current = nextIdx

	if top := next.kernelStackTop(); top != 0 {
		gdt.SetKernelStack(top)
	}

	oldSPSlot := &old.stackPtr
	newSP := next.stackPtr
	newCR3 := next.cr3()

	global.lock.Release()

	switchContext(oldSPSlot, newSP, newCR3)
	cpu.EnableInterrupts()
}

// Yield voluntarily gives up the CPU, moving the current task back to
// Ready and picking the next one.
func Yield() {
	Schedule()
}

// Sleep marks the current task Sleeping until Ticks() >= now+ticks, then
// yields the CPU. The state change has to happen with interrupts disabled
// for the same reason Schedule disables them: a tick landing between
// Acquire and Release would re-enter Schedule and spin on global.lock.
func Sleep(ticks uint64) {
	cpu.DisableInterrupts()
	global.lock.Acquire()
	t := global.tasks[global.current]
	t.State = Sleeping
	t.hasWakeAt = true
	t.wakeAt = Ticks() + ticks
	global.lock.Release()
	cpu.EnableInterrupts()

	Schedule()
}

// Exit marks the current task Dead (to be reaped by the next Schedule)
// and never returns to its caller.
func Exit() {
	cpu.DisableInterrupts()
	global.lock.Acquire()
	global.tasks[global.current].State = Dead
	global.lock.Release()
	cpu.EnableInterrupts()

	Schedule()
	for {
		cpu.Halt()
	}
}
