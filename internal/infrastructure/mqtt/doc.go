// Package mqtt adapts paho.mqtt.golang to the connection.Transport interface.
//
// This package manages:
//   - One paho client per connection attempt, with its own credentials
//   - Publish and subscribe with completion reported asynchronously
//   - Translation of paho callbacks into loop-posted notifications
//
// # Architecture
//
// paho runs its callbacks and token completions on its own goroutines. The
// Transport never calls back into application code from those goroutines:
// every notification is posted to the event loop, where it runs in order
// with everything else.
//
//	paho goroutines ──Post──▶ eventloop.Loop ──▶ connection.Manager / router
//
// paho's own reconnect machinery is disabled. Every connection attempt is
// requested explicitly by connection.Manager so that a fresh credential can
// be presented. Notifications from an earlier attempt are discarded once a
// newer attempt has started.
//
// # Security Considerations
//
//   - TLS 1.2 is the minimum; a CA bundle can replace the system roots
//   - The password is a short-lived JWT and is never logged
//
// # Usage
//
//	transport, err := mqtt.New(cfg.Broker, loop)
//	if err != nil {
//	    return err
//	}
//	defer transport.Close()
//
//	err = transport.Connect(params, manager.HandleStateChange)
package mqtt
