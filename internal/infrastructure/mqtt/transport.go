package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/iotcore-client/internal/connection"
	"github.com/nerrad567/iotcore-client/internal/infrastructure/config"
)

// Poster queues a callback on the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Transport implements connection.Transport over paho.mqtt.golang.
//
// Thread Safety:
//   - Connect, Disconnect, Publish and Subscribe are called from the loop.
//   - IsConnected, HealthCheck and Close are safe from any goroutine.
type Transport struct {
	cfg            config.BrokerConfig
	poster         Poster
	tlsConfig      *tls.Config
	newClient      func(*pahomqtt.ClientOptions) pahomqtt.Client
	publishTimeout time.Duration
	logger         Logger

	mu       sync.Mutex
	client   pahomqtt.Client
	onChange func(connection.StateChange)
	gen      uint64
	closed   bool
}

// New creates a Transport for the broker in cfg. Notifications are posted
// to poster. Creating a Transport does not open a connection.
//
// Returns:
//   - *Transport: ready for Connect
//   - error: wrapping ErrTLSConfig if the CA bundle cannot be loaded
func New(cfg config.BrokerConfig, poster Poster) (*Transport, error) {
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Transport{
		cfg:            cfg,
		poster:         poster,
		tlsConfig:      tlsConfig,
		newClient:      pahomqtt.NewClient,
		publishTimeout: defaultPublishTimeout,
		logger:         slog.New(slog.DiscardHandler),
	}, nil
}

// SetLogger sets a logger for transport diagnostics.
func (t *Transport) SetLogger(logger Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Connect starts a connection attempt with params. The outcome, and a later
// loss of the connection, are posted to onChange.
func (t *Transport) Connect(params connection.Params, onChange func(connection.StateChange)) error {
	if onChange == nil {
		return fmt.Errorf("%w: state callback cannot be nil", ErrConnectionFailed)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.gen++
	gen := t.gen

	// resolved is closed once the attempt's outcome has been posted. paho may
	// report a lost connection before the connect token's waiter runs; Closed
	// must still reach the loop after Open.
	resolved := make(chan struct{})

	opts := buildClientOptions(t.cfg, params, t.tlsConfig)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		lost := ErrConnectionLost
		if err != nil {
			lost = fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		go func() {
			<-resolved
			t.post(gen, func() {
				onChange(connection.StateChange{State: connection.Closed, Err: lost})
			})
		}()
	})

	client := t.newClient(opts)
	t.client = client
	t.onChange = onChange
	t.mu.Unlock()

	t.logger.Debug("mqtt connect", "broker", brokerURL(t.cfg), "client_id", params.ClientID)

	token := client.Connect()
	go func() {
		<-token.Done()
		change := connection.StateChange{State: connection.Open}
		if err := token.Error(); err != nil {
			change = connection.StateChange{State: connection.OpenFailed, Err: err}
		}
		t.post(gen, func() { onChange(change) })
		close(resolved)
	}()

	return nil
}

// Disconnect closes the current connection. Closed with a nil error is
// posted once paho has finished the disconnect.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	client, gen, onChange := t.client, t.gen, t.onChange
	t.mu.Unlock()

	if client == nil {
		return
	}

	go func() {
		client.Disconnect(defaultDisconnectQuiesce)
		t.post(gen, func() {
			onChange(connection.StateChange{State: connection.Closed})
		})
	}()
}

// Close releases the transport. Pending notifications are discarded and an
// open connection is disconnected synchronously. Close is idempotent.
//
// Returns:
//   - error: always nil (connection already closed is not an error)
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.gen++
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(defaultDisconnectQuiesce)
	}
	return nil
}

// IsConnected reports whether the current connection is open.
func (t *Transport) IsConnected() bool {
	client, _ := t.current()
	return client != nil && client.IsConnectionOpen()
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (t *Transport) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !t.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

func (t *Transport) current() (pahomqtt.Client, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client, t.gen
}

func (t *Transport) generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// post queues fn on the loop. fn is dropped if a newer connection attempt
// has started by the time it runs.
func (t *Transport) post(gen uint64, fn func()) {
	ok := t.poster.Post(func() {
		if t.generation() != gen {
			t.logger.Debug("dropping notification from previous connection")
			return
		}
		fn()
	})
	if !ok {
		t.logger.Debug("event loop stopped, notification dropped")
	}
}

// await waits for token with a timeout. A non-positive timeout waits
// indefinitely.
func await(token pahomqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		<-token.Done()
		return token.Error()
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(timeout):
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}
