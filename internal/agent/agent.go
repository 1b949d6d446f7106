// Package agent assembles the device agent: one event loop driving the
// connection manager, the task scheduler and the message router.
//
// An Agent owns every piece of per-process state. It is constructed once,
// run once, and its counters can be read concurrently by the status server.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nerrad567/iotcore-client/internal/connection"
	"github.com/nerrad567/iotcore-client/internal/credential"
	"github.com/nerrad567/iotcore-client/internal/eventloop"
	"github.com/nerrad567/iotcore-client/internal/infrastructure/config"
	"github.com/nerrad567/iotcore-client/internal/keystore"
	"github.com/nerrad567/iotcore-client/internal/pubsub"
	"github.com/nerrad567/iotcore-client/internal/router"
	"github.com/nerrad567/iotcore-client/internal/scheduler"
	"github.com/nerrad567/iotcore-client/internal/status"
)

// ErrLoopStopped is returned by Run when the loop was stopped before the
// first connection attempt could be queued.
var ErrLoopStopped = errors.New("agent: event loop already stopped")

// Logger is the logging surface used by the agent and handed to its parts.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PublishObserver is told about every publish outcome. Observers passed in
// Options that implement it are notified on the loop.
type PublishObserver interface {
	PublishCompleted(topic string, err error)
}

// MessageObserver is told about every inbound message.
type MessageObserver interface {
	MessageReceived(topic string, size int)
}

// Options configures an Agent.
type Options struct {
	Config *config.Config
	Key    keystore.PrivateKey

	// Loop must be the loop the transport posts to.
	Loop      *eventloop.Loop
	Transport connection.Transport

	// Issuer defaults to a credential.Issuer bounded by the configured
	// token size.
	Issuer connection.Issuer

	// Observers receive lifecycle events (journal, telemetry).
	Observers []connection.Observer

	Logger Logger
	Now    func() time.Time
}

// Agent is the single aggregate owning the connection and its schedule.
type Agent struct {
	cfg     *config.Config
	loop    *eventloop.Loop
	sched   *scheduler.Scheduler
	manager *connection.Manager
	router  *router.Router
	logger  Logger

	publishObservers []PublishObserver
	messageObservers []MessageObserver

	message pubsub.Message
	acked   int // loop only

	published     atomic.Int64
	publishFailed atomic.Int64
	received      atomic.Int64
	expiresAt     atomic.Int64
}

// New wires an Agent. The configured subscribe topic is routed to a handler
// that logs each message; further routes can be added with Handle.
func New(opts Options) (*Agent, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Loop == nil {
		return nil, fmt.Errorf("event loop is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	cfg := opts.Config

	pubQoS, err := pubsub.ParseQoS(cfg.Publish.QoS)
	if err != nil {
		return nil, fmt.Errorf("publish qos: %w", err)
	}
	if opts.Issuer == nil {
		issuerOpts := []credential.Option{credential.WithMaxTokenSize(cfg.Credential.MaxTokenSize)}
		if opts.Now != nil {
			issuerOpts = append(issuerOpts, credential.WithClock(opts.Now))
		}
		opts.Issuer = credential.NewIssuer(issuerOpts...)
	}

	a := &Agent{
		cfg:    cfg,
		loop:   opts.Loop,
		sched:  scheduler.New(opts.Loop),
		router: router.New(opts.Logger),
		logger: opts.Logger,
		message: pubsub.Message{
			Topic:   cfg.Publish.Topic,
			Payload: []byte(cfg.Publish.Message),
			QoS:     pubQoS,
		},
	}

	if err := a.router.Handle(cfg.SubscribeTopic(), router.PrintHandler(opts.Logger)); err != nil {
		return nil, fmt.Errorf("subscribe topic: %w", err)
	}

	observers := append([]connection.Observer{a}, opts.Observers...)
	for _, o := range opts.Observers {
		if po, ok := o.(PublishObserver); ok {
			a.publishObservers = append(a.publishObservers, po)
		}
		if mo, ok := o.(MessageObserver); ok {
			a.messageObservers = append(a.messageObservers, mo)
		}
	}

	a.manager = connection.NewManager(connection.Options{
		Identity: credential.Identity{
			ProjectID:  cfg.Identity.ProjectID,
			DevicePath: cfg.Identity.DevicePath,
		},
		Key:            opts.Key,
		TTL:            cfg.GetCredentialTTL(),
		RefreshMargin:  cfg.GetRefreshMargin(),
		Username:       cfg.Broker.Username,
		ConnectTimeout: cfg.GetConnectTimeout(),
		KeepAlive:      cfg.GetKeepAlive(),
		MaxReconnects:  cfg.Reconnect.MaxAttempts,
		Transport:      opts.Transport,
		Issuer:         opts.Issuer,
		Tasks:          a.sched,
		Loop:           opts.Loop,
		Logger:         opts.Logger,
		Observers:      observers,
		OnOpen:         a.onOpen,
		Now:            opts.Now,
	})

	// Cancellation of Run's context becomes a graceful shutdown request.
	opts.Loop.SetInterrupt(a.manager.Shutdown)

	return a, nil
}

// Handle routes messages matching filter to h. Must be called before Run.
func (a *Agent) Handle(filter string, h router.Handler) error {
	return a.router.Handle(filter, h)
}

// Run connects and drives the loop until the agent stops. Cancelling ctx
// requests a graceful shutdown. It returns nil after a graceful stop and the
// fatal error otherwise.
func (a *Agent) Run(ctx context.Context) error {
	queued := a.loop.Post(func() {
		// A failed Connect terminates the manager; Err reports it.
		_ = a.manager.Connect() //nolint:errcheck // reported via Err
	})
	if !queued {
		return ErrLoopStopped
	}

	a.loop.Run(ctx)
	a.sched.CancelAll()

	return a.manager.Err()
}

// Manager exposes the connection manager for callers that need the state.
func (a *Agent) Manager() *connection.Manager {
	return a.manager
}

// onOpen runs on the loop every time the connection opens: subscriptions do
// not survive a clean session, so they are renewed before publishing.
func (a *Agent) onOpen() {
	topic := a.cfg.SubscribeTopic()
	qos, err := pubsub.ParseQoS(a.cfg.Subscribe.QoS)
	if err == nil {
		err = a.manager.Subscribe(topic, qos, a.onDelivery)
	}
	if err != nil {
		a.logger.Warn("subscribe failed", "topic", topic, "error", err)
	}

	a.publish()

	if interval := a.cfg.GetPublishInterval(); interval > 0 {
		if _, err := a.manager.ScheduleRecurring(interval, func(scheduler.Handle) { a.publish() }); err != nil {
			a.logger.Warn("scheduling recurring publish failed", "interval", interval, "error", err)
		}
	}
}

func (a *Agent) publish() {
	topic := a.message.Topic
	if err := a.manager.Publish(a.message, func(err error) { a.onPublished(topic, err) }); err != nil {
		a.onPublished(topic, err)
	}
}

func (a *Agent) onPublished(topic string, err error) {
	for _, o := range a.publishObservers {
		o.PublishCompleted(topic, err)
	}

	if err != nil {
		a.publishFailed.Add(1)
		a.logger.Warn("publish failed", "topic", topic, "error", err)
		return
	}

	a.published.Add(1)
	a.acked++
	a.logger.Info("message published", "topic", topic, "count", a.acked)

	if maxCount := a.cfg.Publish.MaxCount; maxCount > 0 && a.acked >= maxCount {
		a.logger.Info("publish count reached, stopping", "max_count", maxCount)
		a.manager.Shutdown()
	}
}

func (a *Agent) onDelivery(d pubsub.Delivery) {
	if d.Kind == pubsub.KindMessage {
		a.received.Add(1)
		for _, o := range a.messageObservers {
			o.MessageReceived(d.Message.Topic, len(d.Message.Payload))
		}
	}
	a.router.OnMessage(d)
}

// StateChanged implements connection.Observer.
func (a *Agent) StateChanged(_, _ connection.State, _ error) {}

// CredentialIssued implements connection.Observer; the expiry is mirrored
// for the status server.
func (a *Agent) CredentialIssued(cred credential.Credential) {
	a.expiresAt.Store(cred.ExpiresAt().Unix())
}

// ConnectionStatus implements status.Source. Safe for concurrent use.
func (a *Agent) ConnectionStatus() status.ConnectionStatus {
	st := status.ConnectionStatus{
		Device:        a.cfg.Identity.DevicePath,
		State:         a.manager.State().String(),
		Attempts:      a.manager.Attempts(),
		Reconnects:    a.manager.Reconnects(),
		Published:     a.published.Load(),
		PublishFailed: a.publishFailed.Load(),
		Received:      a.received.Load(),
	}
	if exp := a.expiresAt.Load(); exp > 0 {
		t := time.Unix(exp, 0).UTC()
		st.ExpiresAt = &t
	}
	return st
}
