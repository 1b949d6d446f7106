package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/iotcore-client/internal/eventloop"
)

// manualTicker is driven by the test.
type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time, 8), stopped: make(chan struct{})}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { close(m.stopped) }

// harness runs a loop and a scheduler with manual tickers.
type harness struct {
	loop    *eventloop.Loop
	sched   *Scheduler
	tickers []*manualTicker
	done    chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{loop: eventloop.New(), done: make(chan struct{})}
	h.sched = New(h.loop)
	h.sched.newTicker = func(time.Duration) ticker {
		tk := newManualTicker()
		h.tickers = append(h.tickers, tk)
		return tk
	}
	go func() {
		h.loop.Run(context.Background())
		close(h.done)
	}()
	t.Cleanup(func() {
		h.loop.Stop()
		<-h.done
	})
	return h
}

// onLoop runs fn on the loop and waits for it.
func (h *harness) onLoop(t *testing.T, fn func()) {
	t.Helper()
	finished := make(chan struct{})
	h.loop.Post(func() {
		fn()
		close(finished)
	})
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("loop callback did not run")
	}
}

func TestScheduleRecurring_Fires(t *testing.T) {
	h := newHarness(t)
	fired := make(chan Handle, 4)

	var handle Handle
	h.onLoop(t, func() {
		handle = h.sched.ScheduleRecurring(time.Second, func(got Handle) { fired <- got })
	})
	if handle == InvalidHandle {
		t.Fatal("ScheduleRecurring() returned InvalidHandle")
	}

	tk := h.tickers[0]
	tk.ch <- time.Now()
	tk.ch <- time.Now()

	for i := 0; i < 2; i++ {
		select {
		case got := <-fired:
			if got != handle {
				t.Errorf("action got handle %d, want %d", got, handle)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d did not fire", i+1)
		}
	}
}

func TestScheduleRecurring_InvalidInterval(t *testing.T) {
	h := newHarness(t)

	h.onLoop(t, func() {
		if got := h.sched.ScheduleRecurring(0, func(Handle) {}); got != InvalidHandle {
			t.Errorf("ScheduleRecurring(0) = %d, want InvalidHandle", got)
		}
		if h.sched.Len() != 0 {
			t.Errorf("Len() = %d, want 0", h.sched.Len())
		}
	})
}

func TestCancel_Idempotent(t *testing.T) {
	h := newHarness(t)

	h.onLoop(t, func() {
		handle := h.sched.ScheduleRecurring(time.Second, func(Handle) {})
		h.sched.Cancel(handle)
		h.sched.Cancel(handle)
		h.sched.Cancel(InvalidHandle)
		h.sched.Cancel(Handle(9999))

		if h.sched.Live(handle) {
			t.Error("Live() = true after Cancel()")
		}
		if h.sched.Len() != 0 {
			t.Errorf("Len() = %d, want 0", h.sched.Len())
		}
	})

	select {
	case <-h.tickers[0].stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker not stopped after Cancel()")
	}
}

func TestCancel_DropsQueuedTick(t *testing.T) {
	h := newHarness(t)
	ran := false

	h.onLoop(t, func() {
		handle := h.sched.ScheduleRecurring(time.Second, func(Handle) { ran = true })
		// A tick that reached the queue before cancellation.
		h.loop.Post(func() { h.sched.fire(handle) })
		h.sched.Cancel(handle)
	})
	h.onLoop(t, func() {})

	if ran {
		t.Error("cancelled task ran from a queued tick")
	}
}

func TestCancelAll(t *testing.T) {
	h := newHarness(t)

	h.onLoop(t, func() {
		h.sched.ScheduleRecurring(time.Second, func(Handle) {})
		h.sched.ScheduleRecurring(time.Minute, func(Handle) {})
		h.sched.CancelAll()

		if h.sched.Len() != 0 {
			t.Errorf("Len() = %d after CancelAll(), want 0", h.sched.Len())
		}
	})
}

func TestScheduleRecurring_RealTicker(t *testing.T) {
	l := eventloop.New()
	s := New(l)
	count := 0

	l.Post(func() {
		s.ScheduleRecurring(5*time.Millisecond, func(h Handle) {
			count++
			if count == 3 {
				s.Cancel(h)
				l.Stop()
			}
		})
	})

	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		l.Stop()
		t.Fatal("recurring task did not fire three times")
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
