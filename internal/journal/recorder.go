package journal

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/iotcore-client/internal/connection"
	"github.com/nerrad567/iotcore-client/internal/credential"
)

const (
	// defaultQueueSize bounds events waiting to be written.
	defaultQueueSize = 256

	// writeTimeout bounds a single insert.
	writeTimeout = 5 * time.Second
)

// Logger is the logging surface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder writes lifecycle events to a Repository from its own goroutine.
// It implements connection.Observer; the observer methods never block, and
// events arriving while the queue is full are dropped with a warning.
type Recorder struct {
	repo   Repository
	device string
	logger Logger
	now    func() time.Time

	queue chan Event
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewRecorder starts a recorder writing events for device to repo.
// A nil logger discards warnings. Close must be called to drain the queue.
func NewRecorder(repo Repository, device string, logger Logger) *Recorder {
	r := &Recorder{
		repo:   repo,
		device: device,
		logger: logger,
		now:    time.Now,
		queue:  make(chan Event, defaultQueueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.repo.Create(ctx, &ev); err != nil {
			r.warn("journal write failed", "kind", string(ev.Kind), "error", err)
		}
		cancel()
	}
}

// StateChanged journals a connection state transition.
func (r *Recorder) StateChanged(from, to connection.State, err error) {
	ev := Event{
		Kind:      KindState,
		FromState: from.String(),
		ToState:   to.String(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.enqueue(ev)
}

// CredentialIssued journals the expiry of a new credential.
func (r *Recorder) CredentialIssued(cred credential.Credential) {
	expires := cred.ExpiresAt().UTC()
	r.enqueue(Event{
		Kind:      KindCredential,
		ExpiresAt: &expires,
	})
}

// PublishCompleted journals the outcome of a publish.
func (r *Recorder) PublishCompleted(topic string, err error) {
	ev := Event{Kind: KindPublish, Topic: topic}
	if err != nil {
		ev.Error = err.Error()
	}
	r.enqueue(ev)
}

func (r *Recorder) enqueue(ev Event) {
	ev.Device = r.device
	ev.CreatedAt = r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.warn("journal queue full, event dropped", "kind", string(ev.Kind))
	}
}

// Close stops accepting events and waits until queued events are written.
// Safe to call multiple times.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
