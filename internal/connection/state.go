package connection

import (
	"fmt"
	"time"

	"github.com/nerrad567/iotcore-client/internal/credential"
	"github.com/nerrad567/iotcore-client/internal/pubsub"
)

// State is the connection lifecycle state.
type State int32

// Connection states.
const (
	Disconnected State = iota
	Connecting
	Open
	OpenFailed
	Closed
)

// String returns the state name used in logs and the status endpoint.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case OpenFailed:
		return "open_failed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StateChange is a transport notification.
//
// For Closed, a nil Err is the canonical "ok" reason: the close was requested.
type StateChange struct {
	State State
	Err   error
}

// Params are the connect arguments handed to the transport.
type Params struct {
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// Transport is the broker connection capability consumed by the Manager.
//
// Every callback must be delivered on the event loop, in the order the
// underlying events occurred.
type Transport interface {
	// Connect starts an attempt. Its outcome arrives through onChange: Open or
	// OpenFailed, later Closed. An error means no attempt was started.
	Connect(params Params, onChange func(StateChange)) error

	// Disconnect closes the connection; onChange then receives Closed with a
	// nil error.
	Disconnect()

	// Publish sends msg. onDone, if not nil, receives the delivery outcome.
	Publish(msg pubsub.Message, onDone func(error)) error

	// Subscribe registers onDelivery for messages matching filter.
	Subscribe(filter string, qos pubsub.QoS, onDelivery func(pubsub.Delivery)) error
}

// Observer is told about lifecycle events. Observers run on the loop and
// must not block.
type Observer interface {
	StateChanged(from, to State, err error)
	CredentialIssued(cred credential.Credential)
}

// Logger is the logging surface used by the Manager.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
