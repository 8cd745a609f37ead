package runloop_test

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/gofpm/internal/runloop"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLoop(t *testing.T) *runloop.Loop {
	t.Helper()
	l := runloop.New("test", testLogger())
	l.Start()
	t.Cleanup(l.Stop)
	return l
}

func TestScheduleRunsInOrder(t *testing.T) {
	t.Parallel()

	l := newLoop(t)

	var order []int
	done := make(chan struct{})
	for i := 1; i <= 3; i++ {
		i := i
		l.Schedule(func() { order = append(order, i) })
	}
	l.Schedule(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop stalled")
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("execution order = %v, want [1 2 3]", order)
	}
}

func TestScheduleTimer(t *testing.T) {
	t.Parallel()

	l := newLoop(t)

	fired := make(chan time.Time, 1)
	start := time.Now()
	l.ScheduleTimer(20*time.Millisecond, func() { fired <- time.Now() })

	select {
	case at := <-fired:
		if at.Sub(start) < 20*time.Millisecond {
			t.Errorf("timer fired after %v, want >= 20ms", at.Sub(start))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestCancelPreventsExecution(t *testing.T) {
	t.Parallel()

	l := newLoop(t)

	var ran atomic.Bool
	task := l.ScheduleTimer(30*time.Millisecond, func() { ran.Store(true) })
	task.Cancel()

	time.Sleep(80 * time.Millisecond)
	if ran.Load() {
		t.Error("cancelled task ran")
	}
	if task.Done() {
		t.Error("cancelled task reported done")
	}
}

func TestArmDeduplicates(t *testing.T) {
	t.Parallel()

	l := newLoop(t)

	var runs atomic.Int32
	var slot *runloop.Task
	ready := make(chan struct{})

	// Both Arm calls happen on the loop itself, as slot owners must.
	l.Schedule(func() {
		l.Arm(&slot, 50*time.Millisecond, func() { runs.Add(1) })
		l.Arm(&slot, 50*time.Millisecond, func() { runs.Add(1) })
		close(ready)
	})
	<-ready

	time.Sleep(120 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("armed task ran %d times, want 1 (second arm must be a no-op)", got)
	}

	// After the task ran, the slot is free to arm again.
	again := make(chan struct{})
	l.Schedule(func() {
		l.Arm(&slot, 0, func() { runs.Add(1); close(again) })
	})
	select {
	case <-again:
	case <-time.After(5 * time.Second):
		t.Fatal("re-armed task never ran")
	}
}

func TestDisarmClearsSlot(t *testing.T) {
	t.Parallel()

	l := newLoop(t)

	var ran atomic.Bool
	var slot *runloop.Task
	done := make(chan struct{})
	l.Schedule(func() {
		l.Arm(&slot, 50*time.Millisecond, func() { ran.Store(true) })
		runloop.Disarm(&slot)
		if slot != nil {
			t.Error("slot not cleared by Disarm")
		}
		close(done)
	})
	<-done

	time.Sleep(100 * time.Millisecond)
	if ran.Load() {
		t.Error("disarmed task ran")
	}
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	t.Parallel()

	l := runloop.New("drain", testLogger())
	l.Start()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		l.Schedule(func() { ran.Add(1) })
	}
	l.Stop()

	if got := ran.Load(); got != 10 {
		t.Errorf("%d tasks ran before Stop returned, want 10", got)
	}

	// Tasks scheduled after Stop never run.
	l.Schedule(func() { ran.Add(1) })
	time.Sleep(20 * time.Millisecond)
	if got := ran.Load(); got != 10 {
		t.Errorf("task ran after Stop: %d", got)
	}
}
