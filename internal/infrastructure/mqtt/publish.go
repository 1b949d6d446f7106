package mqtt

import (
	"fmt"

	"github.com/nerrad567/iotcore-client/internal/pubsub"
)

// Publish sends msg over the current connection.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (not accepted by every bridge)
//
// Parameters:
//   - msg: Topic, payload (max 256KB), QoS and retain flag
//   - onDone: Optional; posted to the loop with nil once the broker has
//     acknowledged the message, or an error wrapping ErrPublishFailed
//
// Returns:
//   - error: if the message is invalid or there is no open connection
func (t *Transport) Publish(msg pubsub.Message, onDone func(error)) error {
	if msg.Topic == "" {
		return ErrInvalidTopic
	}
	if !msg.QoS.Valid() {
		return ErrInvalidQoS
	}
	if len(msg.Payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(msg.Payload), maxPayloadSize)
	}

	client, gen := t.current()
	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := client.Publish(msg.Topic, byte(msg.QoS), msg.Retained, msg.Payload)
	if onDone == nil {
		return nil
	}

	go func() {
		err := await(token, t.publishTimeout)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		t.post(gen, func() { onDone(err) })
	}()

	return nil
}
