package sched

import "testing"

func newTestTask(id uint64, state State) *Task {
	return &Task{ID: id, State: state, Mode: KernelMode}
}

func TestReapDeadRemovesOnlyDeadTasks(t *testing.T) {
	s := &Scheduler{tasks: []*Task{
		newTestTask(1, Running),
		newTestTask(2, Dead),
		newTestTask(3, Ready),
		newTestTask(4, Dead),
	}}

	s.reapDead(0)

	if len(s.tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(s.tasks))
	}
	for _, task := range s.tasks {
		if task.State == Dead {
			t.Errorf("task %d survived reapDead", task.ID)
		}
	}
}

func TestReapDeadKeepsCurrentEvenIfDead(t *testing.T) {
	current := newTestTask(2, Dead)
	s := &Scheduler{tasks: []*Task{
		newTestTask(1, Dead),
		current,
		newTestTask(3, Ready),
	}}

	newCurrent := s.reapDead(1)

	if len(s.tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(s.tasks))
	}
	if s.tasks[newCurrent] != current {
		t.Fatalf("reapDead did not track the current task through the shift: got index %d", newCurrent)
	}
}

func TestReapDeadAdjustsCurrentIndexOnShift(t *testing.T) {
	current := newTestTask(3, Running)
	s := &Scheduler{tasks: []*Task{
		newTestTask(1, Dead),
		newTestTask(2, Dead),
		current,
	}}

	newCurrent := s.reapDead(2)

	if s.tasks[newCurrent] != current {
		t.Fatalf("reapDead did not adjust current index after shift: got index %d, tasks=%v", newCurrent, s.tasks)
	}
	if newCurrent != 0 {
		t.Fatalf("newCurrent = %d, want 0", newCurrent)
	}
}

func TestWakeSleepersPromotesExpiredOnly(t *testing.T) {
	due := newTestTask(1, Sleeping)
	due.hasWakeAt = true
	due.wakeAt = 10

	notYet := newTestTask(2, Sleeping)
	notYet.hasWakeAt = true
	notYet.wakeAt = 20

	s := &Scheduler{tasks: []*Task{due, notYet}}
	s.wakeSleepers(10)

	if due.State != Ready {
		t.Errorf("due task State = %v, want Ready", due.State)
	}
	if due.hasWakeAt {
		t.Error("due task hasWakeAt should be cleared after waking")
	}
	if notYet.State != Sleeping {
		t.Errorf("notYet task State = %v, want Sleeping", notYet.State)
	}
}

func TestNextReadyRoundRobinsFromCurrent(t *testing.T) {
	s := &Scheduler{tasks: []*Task{
		newTestTask(1, Running),
		newTestTask(2, Sleeping),
		newTestTask(3, Ready),
		newTestTask(4, Ready),
	}}

	got := s.nextReady(0)
	if got != 2 {
		t.Errorf("nextReady(0) = %d, want 2 (first Ready task after index 0)", got)
	}

	got = s.nextReady(2)
	if got != 3 {
		t.Errorf("nextReady(2) = %d, want 3", got)
	}
}

func TestNextReadyReturnsNegativeOneWhenNoneReady(t *testing.T) {
	s := &Scheduler{tasks: []*Task{
		newTestTask(1, Running),
		newTestTask(2, Sleeping),
		newTestTask(3, Dead),
	}}

	if got := s.nextReady(0); got != -1 {
		t.Errorf("nextReady(0) = %d, want -1", got)
	}
}

func TestTicksMonotonic(t *testing.T) {
	global.ticks = 0
	first := Tick()
	second := Tick()
	if second != first+1 {
		t.Errorf("Tick() sequence = %d, %d; want consecutive", first, second)
	}
	if Ticks() != second {
		t.Errorf("Ticks() = %d, want %d", Ticks(), second)
	}
}
