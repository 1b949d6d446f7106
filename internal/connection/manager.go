package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nerrad567/iotcore-client/internal/credential"
	"github.com/nerrad567/iotcore-client/internal/keystore"
	"github.com/nerrad567/iotcore-client/internal/pubsub"
	"github.com/nerrad567/iotcore-client/internal/scheduler"
)

// Username is sent in the CONNECT packet. The broker ignores it; the
// credential travels in the password field.
const Username = "unused"

// Issuer produces signed credentials.
type Issuer interface {
	Issue(key keystore.PrivateKey, identity credential.Identity, ttl time.Duration) (credential.Credential, error)
}

// Tasks schedules the recurring timed task bound to the connection.
type Tasks interface {
	ScheduleRecurring(interval time.Duration, action func(scheduler.Handle)) scheduler.Handle
	Cancel(h scheduler.Handle)
}

// Stopper stops the event loop.
type Stopper interface {
	Stop()
}

// Options configures a Manager.
type Options struct {
	Identity credential.Identity
	Key      keystore.PrivateKey

	// TTL is the credential lifetime. Defaults to credential.DefaultTTL.
	TTL time.Duration

	// RefreshMargin reissues a credential that would expire within the margin
	// before a reconnect uses it.
	RefreshMargin time.Duration

	// Username overrides the CONNECT username. Defaults to Username.
	Username       string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration

	// MaxReconnects bounds reconnects over the Manager's lifetime. Zero means
	// unlimited.
	MaxReconnects int

	Transport Transport
	Issuer    Issuer
	Tasks     Tasks
	Loop      Stopper
	Logger    Logger
	Observers []Observer

	// OnOpen runs on the loop each time the connection opens.
	OnOpen func()

	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager drives the connection lifecycle. All methods except State,
// Attempts and Reconnects must be called from the event loop.
type Manager struct {
	opts Options

	state      State
	cred       credential.Credential
	task       scheduler.Handle
	reconnects int
	terminated bool
	closing    bool
	err        error

	shared        atomic.Int32
	attempts      atomic.Int64
	reconnectsTot atomic.Int64
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(opts Options) *Manager {
	if opts.TTL == 0 {
		opts.TTL = credential.DefaultTTL
	}
	if opts.Username == "" {
		opts.Username = Username
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{opts: opts}
}

// Connect starts a connection attempt.
//
// The credential is reissued first if none exists or the current one is
// expired. The outcome is reported later through HandleStateChange. If the
// attempt cannot be started the Manager is terminated: the loop is stopped
// and the error is both returned and kept for Err.
func (m *Manager) Connect() error {
	switch m.state {
	case Connecting, Open:
		return ErrConnectInProgress
	case OpenFailed:
		return ErrTerminated
	}
	if m.terminated {
		return ErrTerminated
	}

	if err := m.ensureCredential(); err != nil {
		m.fail(err)
		return err
	}

	params := Params{
		ClientID:       m.opts.Identity.DevicePath,
		Username:       m.opts.Username,
		Password:       m.cred.Token,
		ConnectTimeout: m.opts.ConnectTimeout,
		KeepAlive:      m.opts.KeepAlive,
	}

	m.attempts.Add(1)
	m.setState(Connecting, nil)
	m.opts.Logger.Info("connecting to broker", "client_id", params.ClientID, "attempt", m.attempts.Load())

	if err := m.opts.Transport.Connect(params, m.HandleStateChange); err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectFailed, err)
		m.setState(OpenFailed, err)
		m.fail(err)
		return err
	}
	return nil
}

// HandleStateChange applies a transport notification.
func (m *Manager) HandleStateChange(change StateChange) {
	switch change.State {
	case Open:
		if m.state != Connecting {
			m.ignore(change)
			return
		}
		m.setState(Open, nil)
		m.opts.Logger.Info("connected to broker", "client_id", m.opts.Identity.DevicePath)
		if m.closing {
			m.opts.Transport.Disconnect()
			return
		}
		if m.opts.OnOpen != nil {
			m.opts.OnOpen()
		}

	case OpenFailed:
		if m.state != Connecting {
			m.ignore(change)
			return
		}
		reason := change.Err
		if reason == nil {
			reason = errors.New("no reason given")
		}
		err := fmt.Errorf("%w: %w", ErrConnectFailed, reason)
		m.setState(OpenFailed, err)
		m.fail(err)

	case Closed:
		if m.state != Open {
			m.ignore(change)
			return
		}
		// The task belongs to the connection that just closed.
		m.cancelTask()
		m.setState(Closed, change.Err)

		if change.Err == nil {
			m.opts.Logger.Info("connection closed")
			m.terminated = true
			m.opts.Loop.Stop()
			return
		}
		if m.closing {
			m.opts.Logger.Info("connection closed during shutdown", "reason", change.Err)
			m.terminated = true
			m.opts.Loop.Stop()
			return
		}

		m.opts.Logger.Warn("connection lost, reconnecting", "reason", change.Err)
		if m.opts.MaxReconnects > 0 && m.reconnects >= m.opts.MaxReconnects {
			m.fail(fmt.Errorf("%w: %d reconnects", ErrReconnectLimit, m.reconnects))
			return
		}
		m.reconnects++
		m.reconnectsTot.Add(1)
		// Connect terminates the Manager itself on failure.
		_ = m.Connect()

	default:
		m.ignore(change)
	}
}

// ScheduleRecurring binds a recurring task to the open connection. The task
// is cancelled automatically when the connection closes.
func (m *Manager) ScheduleRecurring(interval time.Duration, action func(scheduler.Handle)) (scheduler.Handle, error) {
	if m.state != Open {
		return scheduler.InvalidHandle, ErrNotConnected
	}
	if m.task != scheduler.InvalidHandle {
		return scheduler.InvalidHandle, ErrTaskActive
	}
	if interval <= 0 {
		return scheduler.InvalidHandle, ErrInvalidInterval
	}
	h := m.opts.Tasks.ScheduleRecurring(interval, action)
	if h == scheduler.InvalidHandle {
		return scheduler.InvalidHandle, ErrInvalidInterval
	}
	m.task = h
	return h, nil
}

// CancelTask cancels the live timed task, if any.
func (m *Manager) CancelTask() {
	m.cancelTask()
}

// Task returns the live timed task handle, or scheduler.InvalidHandle.
func (m *Manager) Task() scheduler.Handle {
	return m.task
}

// Publish sends a message over the open connection.
func (m *Manager) Publish(msg pubsub.Message, onDone func(error)) error {
	if m.state != Open {
		return ErrNotConnected
	}
	if msg.Topic == "" {
		return ErrInvalidTopic
	}
	if !msg.QoS.Valid() {
		return pubsub.ErrInvalidQoS
	}
	return m.opts.Transport.Publish(msg.Clone(), onDone)
}

// Subscribe registers onDelivery for filter on the open connection.
func (m *Manager) Subscribe(filter string, qos pubsub.QoS, onDelivery func(pubsub.Delivery)) error {
	if m.state != Open {
		return ErrNotConnected
	}
	if filter == "" {
		return ErrInvalidTopic
	}
	if !qos.Valid() {
		return pubsub.ErrInvalidQoS
	}
	return m.opts.Transport.Subscribe(filter, qos, onDelivery)
}

// Shutdown requests a graceful stop. An open connection is disconnected and
// the loop stops when the transport reports the close; otherwise the loop
// stops immediately.
func (m *Manager) Shutdown() {
	if m.closing {
		return
	}
	m.closing = true
	m.opts.Logger.Info("shutdown requested", "state", m.state.String())

	switch m.state {
	case Open:
		m.opts.Transport.Disconnect()
	case Connecting:
		// Wait for the attempt to resolve: Open is followed by a disconnect,
		// OpenFailed stops the loop.
	default:
		m.cancelTask()
		m.terminated = true
		m.opts.Loop.Stop()
	}
}

// Err returns the fatal error that stopped the loop, or nil after a
// graceful stop.
func (m *Manager) Err() error {
	return m.err
}

// Credential returns the current credential.
func (m *Manager) Credential() credential.Credential {
	return m.cred
}

// State returns the current state. Safe for concurrent use.
func (m *Manager) State() State {
	return State(m.shared.Load())
}

// Attempts returns the number of connection attempts started. Safe for
// concurrent use.
func (m *Manager) Attempts() int64 {
	return m.attempts.Load()
}

// Reconnects returns the number of reconnects performed. Safe for
// concurrent use.
func (m *Manager) Reconnects() int64 {
	return m.reconnectsTot.Load()
}

func (m *Manager) ensureCredential() error {
	now := m.opts.Now()
	if !m.cred.Expired(now, m.opts.RefreshMargin) {
		return nil
	}
	cred, err := m.opts.Issuer.Issue(m.opts.Key, m.opts.Identity, m.opts.TTL)
	if err != nil {
		return fmt.Errorf("issuing credential: %w", err)
	}
	m.cred = cred
	m.opts.Logger.Debug("credential issued", "expires_at", cred.ExpiresAt())
	for _, o := range m.opts.Observers {
		o.CredentialIssued(cred)
	}
	return nil
}

func (m *Manager) cancelTask() {
	if m.task == scheduler.InvalidHandle {
		return
	}
	m.opts.Tasks.Cancel(m.task)
	m.task = scheduler.InvalidHandle
}

func (m *Manager) setState(to State, err error) {
	from := m.state
	m.state = to
	m.shared.Store(int32(to))
	for _, o := range m.opts.Observers {
		o.StateChanged(from, to, err)
	}
}

func (m *Manager) fail(err error) {
	m.cancelTask()
	if m.err == nil {
		m.err = err
	}
	m.terminated = true
	m.opts.Logger.Error("connection manager stopped", "error", err)
	m.opts.Loop.Stop()
}

func (m *Manager) ignore(change StateChange) {
	m.opts.Logger.Debug("ignoring state notification",
		"state", m.state.String(),
		"notification", change.State.String(),
		"error", change.Err,
	)
}
