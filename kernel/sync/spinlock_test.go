package sync

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestSpinlock(t *testing.T) {
	// Substitute yieldFn with runtime.Gosched to avoid deadlocks while
	// testing under a hosted goroutine scheduler.
	defer func(orig func()) { yieldFn = orig }(yieldFn)
	yieldFn = runtime.Gosched

	defer func(orig uint32) { attemptsBeforeYielding = orig }(attemptsBeforeYielding)
	attemptsBeforeYielding = 10

	var (
		sl         Spinlock
		wg         sync.WaitGroup
		numWorkers = 10
	)

	sl.Acquire()

	if sl.TryToAcquire() != false {
		t.Error("expected TryToAcquire to return false when lock is held")
	}

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func(worker int) {
			sl.Acquire()
			sl.Release()
			wg.Done()
		}(i)
	}

	<-time.After(100 * time.Millisecond)
	sl.Release()
	wg.Wait()
}
