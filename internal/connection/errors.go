package connection

import "errors"

// Domain-specific errors for connection management.
var (
	// ErrConnectFailed is returned when the broker rejects a connection attempt
	// or the transport cannot start one.
	ErrConnectFailed = errors.New("connection: connect failed")

	// ErrConnectInProgress is returned by Connect while an attempt is pending or
	// the connection is already open.
	ErrConnectInProgress = errors.New("connection: connection attempt already active")

	// ErrTerminated is returned by Connect after a fatal failure.
	ErrTerminated = errors.New("connection: manager terminated")

	// ErrReconnectLimit is the fatal error when the configured reconnect budget is spent.
	ErrReconnectLimit = errors.New("connection: reconnect limit reached")

	// ErrNotConnected is returned for operations that need an open connection.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrTaskActive is returned when a timed task is already bound to the connection.
	ErrTaskActive = errors.New("connection: timed task already scheduled")

	// ErrInvalidInterval is returned when a timed task interval is not positive.
	ErrInvalidInterval = errors.New("connection: task interval must be positive")

	// ErrInvalidTopic is returned when an empty topic or filter is provided.
	ErrInvalidTopic = errors.New("connection: topic cannot be empty")
)
