// Package eventloop provides the single flow of control that drives the
// device agent.
//
// Every callback (transport state changes, inbound messages, timed task
// ticks) is posted to the Loop and executed one at a time on the goroutine
// that called Run. Code running on the loop therefore needs no locking.
// Goroutines owned by the transport or by timers only ever call Post.
package eventloop

import (
	"context"
	"sync"
)

// Loop is a FIFO callback executor.
//
// Post never blocks: the queue is unbounded so a callback may post further
// work to its own loop.
type Loop struct {
	mu    sync.Mutex
	queue []func()

	wake     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	onInterrupt func()
}

// New creates a loop that is ready to accept posts before Run is called.
func New() *Loop {
	return &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// SetInterrupt registers the function Run executes on the loop when its
// context is cancelled. It is used to request a graceful shutdown; the loop
// keeps running until Stop. Without an interrupt function, cancellation
// stops the loop directly. Must be called before Run.
func (l *Loop) SetInterrupt(fn func()) {
	l.onInterrupt = fn
}

// Post queues fn for execution on the loop. It returns false if the loop has
// been stopped, in which case fn will never run.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop ends Run after the callback currently executing. Callbacks still
// queued are discarded. Safe to call more than once and from any goroutine.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)
	})
}

// Done is closed once Stop has been called.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	select {
	case <-l.stopped:
		return true
	default:
		return false
	}
}

// Run executes posted callbacks until Stop is called. It blocks.
func (l *Loop) Run(ctx context.Context) {
	ctxDone := ctx.Done()

	for {
		for {
			if l.Stopped() {
				return
			}
			fn := l.next()
			if fn == nil {
				break
			}
			fn()
		}

		select {
		case <-l.stopped:
			return
		case <-l.wake:
		case <-ctxDone:
			ctxDone = nil
			if l.onInterrupt == nil {
				l.Stop()
				continue
			}
			l.onInterrupt()
		}
	}
}

// next pops the oldest queued callback, or returns nil.
func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}
