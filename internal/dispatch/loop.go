// Package dispatch provides a single-threaded cooperative task loop.
//
// All acquisition-side state (the hardware core, the coordinator, the preview
// streamer) is mutated exclusively from tasks running on one Loop, so none of
// those components need locks. The only asynchronous element the loop offers
// is PostDelayed, which schedules a task back onto the same loop after a
// delay. That delay is a scheduling nicety, not a synchronization primitive:
// there is no ordering guarantee beyond "runs sometime after the delay on the
// loop goroutine".
package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/microscope-data/scope.report/internal/monitoring"
)

// ErrClosed is returned when posting to a loop that has been closed.
var ErrClosed = errors.New("dispatch: loop closed")

// Task is a unit of work executed on the loop goroutine.
type Task func()

// Loop drains a FIFO task queue on a single goroutine.
type Loop struct {
	tasks chan Task
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	// timers holds only pending delayed tasks; a timer removes itself
	// when it fires.
	timers map[*time.Timer]struct{}
}

// NewLoop starts a loop with a buffered task queue.
func NewLoop() *Loop {
	l := &Loop{
		tasks:  make(chan Task, 256),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for task := range l.tasks {
		l.invoke(task)
	}
}

// invoke runs one task, recovering panics so a misbehaving callback cannot
// take down the loop. This is the process-level analog of a top-level
// unhandled-exception handler: log and continue.
func (l *Loop) invoke(task Task) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("dispatch: recovered panic in task: %v", r)
		}
	}()
	task()
}

// Post enqueues a task for execution on the loop goroutine. It returns
// ErrClosed if the loop has been closed.
func (l *Loop) Post(task Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.tasks <- task
	return nil
}

// Call posts a task and blocks until it has run. It is the bridge used by
// HTTP handlers and CLI code to read or mutate loop-owned state. Call must
// not be used from a task already running on the loop; that would wait on
// the goroutine doing the waiting.
func (l *Loop) Call(task Task) error {
	ran := make(chan struct{})
	err := l.Post(func() {
		defer close(ran)
		task()
	})
	if err != nil {
		return err
	}
	<-ran
	return nil
}

// PostDelayed schedules a task onto the loop after at least d has elapsed.
// The timer fires off-loop; execution happens on the loop goroutine. If the
// loop closes before the timer fires, the task is dropped silently.
func (l *Loop) PostDelayed(d time.Duration, task Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		l.mu.Lock()
		delete(l.timers, timer)
		l.mu.Unlock()
		// a failed post here means the loop closed in the interim; the
		// task simply becomes a no-op
		_ = l.Post(task)
	})
	l.timers[timer] = struct{}{}
}

// Close stops accepting tasks, cancels pending delayed tasks, and waits for
// the queue to drain.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	for timer := range l.timers {
		timer.Stop()
	}
	l.timers = nil
	close(l.tasks)
	l.mu.Unlock()
	<-l.done
}
