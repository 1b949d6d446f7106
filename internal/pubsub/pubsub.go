// Package pubsub holds the publish/subscribe vocabulary shared by the
// connection manager, the message router and the transport adapters.
package pubsub

import (
	"errors"
	"fmt"
)

// QoS is the MQTT delivery guarantee level.
type QoS byte

// Supported QoS levels.
const (
	// AtMostOnce is fire-and-forget delivery (QoS 0).
	AtMostOnce QoS = 0

	// AtLeastOnce guarantees delivery, possibly duplicated (QoS 1).
	AtLeastOnce QoS = 1

	// ExactlyOnce guarantees a single delivery (QoS 2).
	ExactlyOnce QoS = 2
)

// ErrInvalidQoS is returned when a QoS level outside 0..2 is supplied.
var ErrInvalidQoS = errors.New("pubsub: invalid QoS level (must be 0, 1, or 2)")

// ParseQoS converts a configured integer into a QoS level.
func ParseQoS(level int) (QoS, error) {
	if level < int(AtMostOnce) || level > int(ExactlyOnce) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidQoS, level)
	}
	return QoS(level), nil
}

// Valid reports whether q is one of the three MQTT levels.
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

// String returns the level name used in logs.
func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	default:
		return fmt.Sprintf("qos(%d)", byte(q))
	}
}

// Message is a topic/payload pair. It is a value type: the payload is copied
// by Clone before it crosses a goroutine boundary.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool
}

// Clone returns a copy of m that shares no memory with it.
func (m Message) Clone() Message {
	if m.Payload != nil {
		m.Payload = append([]byte(nil), m.Payload...)
	}
	return m
}

// Kind distinguishes data messages from protocol notifications delivered on
// a subscription callback.
type Kind int

// Delivery kinds.
const (
	// KindMessage carries an inbound application message.
	KindMessage Kind = iota

	// KindSubscribed reports that the broker acknowledged a subscription.
	KindSubscribed

	// KindSubscribeFailed reports that a subscription was rejected.
	KindSubscribeFailed
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindSubscribed:
		return "subscribed"
	case KindSubscribeFailed:
		return "subscribe_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Delivery is one invocation of a subscription callback.
type Delivery struct {
	Kind    Kind
	Message Message

	// Err is set for KindSubscribeFailed.
	Err error
}
