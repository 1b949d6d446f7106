// Package scheduler runs recurring timed tasks on the event loop.
//
// Timers live on their own goroutines but never call a task directly: each
// tick is posted to the loop, and the task runs only if its handle is still
// live when the tick is executed. A tick already queued when its task is
// cancelled is therefore dropped.
//
// Scheduler methods must be called from the loop goroutine.
package scheduler

import "time"

// Handle identifies a scheduled task.
type Handle uint64

// InvalidHandle is never returned for a live task.
const InvalidHandle Handle = 0

// Poster queues a callback on the event loop.
type Poster interface {
	Post(fn func()) bool
}

// ticker abstracts time.Ticker for tests.
type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	*time.Ticker
}

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

func newRealTicker(d time.Duration) ticker {
	return realTicker{time.NewTicker(d)}
}

type task struct {
	action func(Handle)
	stop   chan struct{}
}

// Scheduler tracks recurring tasks.
type Scheduler struct {
	poster    Poster
	last      Handle
	tasks     map[Handle]*task
	newTicker func(time.Duration) ticker
}

// New creates a Scheduler posting ticks to poster.
func New(poster Poster) *Scheduler {
	return &Scheduler{
		poster:    poster,
		tasks:     make(map[Handle]*task),
		newTicker: newRealTicker,
	}
}

// ScheduleRecurring runs action on the loop every interval, first after one
// interval has elapsed. It returns InvalidHandle if interval is not positive.
func (s *Scheduler) ScheduleRecurring(interval time.Duration, action func(Handle)) Handle {
	if interval <= 0 || action == nil {
		return InvalidHandle
	}

	s.last++
	h := s.last
	t := &task{
		action: action,
		stop:   make(chan struct{}),
	}
	s.tasks[h] = t

	go s.pump(h, t, s.newTicker(interval))
	return h
}

// pump forwards ticks to the loop until the task is cancelled or the loop
// stops accepting posts.
func (s *Scheduler) pump(h Handle, t *task, tk ticker) {
	defer tk.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tk.C():
			if !s.poster.Post(func() { s.fire(h) }) {
				return
			}
		}
	}
}

// fire runs the task's action if it is still live.
func (s *Scheduler) fire(h Handle) {
	t, ok := s.tasks[h]
	if !ok {
		return
	}
	t.action(h)
}

// Cancel stops a task. Cancelling an unknown, invalid or already cancelled
// handle is a no-op.
func (s *Scheduler) Cancel(h Handle) {
	t, ok := s.tasks[h]
	if !ok {
		return
	}
	delete(s.tasks, h)
	close(t.stop)
}

// CancelAll stops every live task.
func (s *Scheduler) CancelAll() {
	for h := range s.tasks {
		s.Cancel(h)
	}
}

// Live reports whether h identifies a task that has not been cancelled.
func (s *Scheduler) Live(h Handle) bool {
	_, ok := s.tasks[h]
	return ok
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int {
	return len(s.tasks)
}
