// Package runloop provides a single-goroutine task executor with
// cancellable handles.
//
// A Loop is the Go rendering of an event-driven thread: callbacks are
// scheduled onto it from any goroutine, but they always execute serially on
// the loop's own goroutine. State owned by a loop therefore needs no locking
// as long as it is only touched from tasks running on that loop.
package runloop

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Loop executes scheduled tasks serially on a dedicated goroutine.
type Loop struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	queue   []*Task
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// Task is a handle to a scheduled callback. It can be cancelled from any
// goroutine; cancellation after the callback started running has no effect.
type Task struct {
	fn        func()
	timer     *time.Timer
	cancelled atomic.Bool
	ran       atomic.Bool
}

// Cancel prevents the task from running if it has not started yet.
// Safe to call from any goroutine and more than once.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Done reports whether the task already executed.
func (t *Task) Done() bool {
	return t != nil && t.ran.Load()
}

// New creates a stopped loop. Call Start to begin executing tasks.
func New(name string, logger *slog.Logger) *Loop {
	return &Loop{
		name:   name,
		logger: logger.With(slog.String("loop", name)),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Name returns the loop name given to New.
func (l *Loop) Name() string { return l.name }

// Start launches the loop goroutine.
func (l *Loop) Start() {
	go l.run()
}

// Stop waits for the loop goroutine to finish the tasks already queued and
// exit. Timers that have not fired yet are dropped, and tasks scheduled
// after Stop never run.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

// Schedule queues fn for execution on the loop goroutine.
func (l *Loop) Schedule(fn func()) *Task {
	t := &Task{fn: fn}
	l.push(t)
	return t
}

// ScheduleTimer queues fn for execution on the loop goroutine after d has
// elapsed. A zero duration behaves like Schedule.
func (l *Loop) ScheduleTimer(d time.Duration, fn func()) *Task {
	t := &Task{fn: fn}
	if d <= 0 {
		l.push(t)
		return t
	}
	t.timer = time.AfterFunc(d, func() {
		l.push(t)
	})
	return t
}

func (l *Loop) push(t *Task) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		var t *Task
		if len(l.queue) > 0 {
			t = l.queue[0]
			copy(l.queue, l.queue[1:])
			l.queue = l.queue[:len(l.queue)-1]
		}
		stopped := l.stopped
		l.mu.Unlock()

		if t == nil {
			if stopped {
				return
			}
			<-l.wake
			continue
		}
		if t.cancelled.Load() {
			continue
		}
		t.ran.Store(true)
		t.fn()
	}
}

// Arm schedules fn on the loop only if the slot does not already hold a
// pending task, and stores the new handle in the slot. This mirrors an
// "armed event" that must not be double-scheduled. The slot must only be
// accessed from the loop that owns it.
func (l *Loop) Arm(slot **Task, d time.Duration, fn func()) {
	if *slot != nil && !(*slot).Done() && !(*slot).cancelled.Load() {
		return
	}
	*slot = l.ScheduleTimer(d, fn)
}

// Disarm cancels the slot's pending task, if any, and clears the slot.
func Disarm(slot **Task) {
	if *slot != nil {
		(*slot).Cancel()
		*slot = nil
	}
}
