// Package sync provides synchronization primitives for a single-CPU,
// preemptive-scheduler kernel: spinlocks that busy-wait until the lock
// becomes available.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked after a configurable number of failed acquire
	// attempts so that a spinning task does not starve the CPU forever
	// while waiting for the scheduler's timer tick. It is swapped out in
	// tests to avoid deadlocking a hosted goroutine scheduler.
	yieldFn = defaultYield

	// attemptsBeforeYielding bounds how many busy-wait iterations run
	// before falling back to yieldFn.
	attemptsBeforeYielding = uint32(1000)
)

// defaultYield is a no-op in the kernel: with a single CPU and timer-driven
// preemption, spinning tasks simply wait for the next timer tick to run
// schedule() on their behalf. Tests replace this with runtime.Gosched.
func defaultYield() {}

// Spinlock implements a lock where each task trying to acquire it busy-waits
// until the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active
// task. Any attempt to re-acquire a lock already held by the current task
// will cause a deadlock.
func (l *Spinlock) Acquire() {
	var attempts uint32
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		pause()
		attempts++
		if attempts >= attemptsBeforeYielding {
			attempts = 0
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock
// could be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock, allowing other tasks to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// pause executes the architecture's spin-wait hint instruction (PAUSE on
// amd64). Implemented in spinlock_amd64.s.
func pause()
