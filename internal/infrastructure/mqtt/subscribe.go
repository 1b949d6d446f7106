package mqtt

import (
	"bytes"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/iotcore-client/internal/pubsub"
)

// Subscribe registers onDelivery for messages matching filter.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "/devices/+/commands" matches any device
//   - # (multi-level): "/devices/dev-1/commands/#" matches every subfolder
//
// Every delivery is posted to the loop. The broker's answer arrives first as
// a KindSubscribed or KindSubscribeFailed delivery; messages follow as
// KindMessage with a payload the handler may keep.
//
// Subscriptions are not restored after a reconnect: the owner subscribes
// again when the new connection opens.
//
// Returns:
//   - error: nil if the SUBSCRIBE was sent, or wrapped error describing the failure
func (t *Transport) Subscribe(filter string, qos pubsub.QoS, onDelivery func(pubsub.Delivery)) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if !qos.Valid() {
		return ErrInvalidQoS
	}
	if onDelivery == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	client, gen := t.current()
	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	handler := func(_ pahomqtt.Client, m pahomqtt.Message) {
		msg := pubsub.Message{
			Topic:    m.Topic(),
			Payload:  bytes.Clone(m.Payload()),
			QoS:      pubsub.QoS(m.Qos()),
			Retained: m.Retained(),
		}
		t.post(gen, func() {
			onDelivery(pubsub.Delivery{Kind: pubsub.KindMessage, Message: msg})
		})
	}

	token := client.Subscribe(filter, byte(qos), handler)
	go func() {
		err := await(token, t.publishTimeout)
		if err == nil {
			err = subackError(token, filter)
		}

		d := pubsub.Delivery{
			Kind:    pubsub.KindSubscribed,
			Message: pubsub.Message{Topic: filter, QoS: qos},
		}
		if err != nil {
			d.Kind = pubsub.KindSubscribeFailed
			d.Err = fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
		t.post(gen, func() { onDelivery(d) })
	}()

	return nil
}

// subackError reports a subscription the broker refused in its SUBACK.
func subackError(token pahomqtt.Token, filter string) error {
	st, ok := token.(*pahomqtt.SubscribeToken)
	if !ok {
		return nil
	}
	if code, found := st.Result()[filter]; found && code == subackFailure {
		return fmt.Errorf("broker rejected filter %q", filter)
	}
	return nil
}
