package influxdb

import (
	"github.com/nerrad567/iotcore-client/internal/connection"
	"github.com/nerrad567/iotcore-client/internal/credential"
)

// Measurement names.
const (
	measurementState      = "connection_state"
	measurementCredential = "credential"
	measurementPublish    = "publish"
	measurementMessage    = "message"
)

// StateChanged records a connection state transition.
func (c *Client) StateChanged(from, to connection.State, err error) {
	fields := map[string]any{
		"value": int64(to),
		"error": err != nil,
	}
	if err != nil {
		fields["reason"] = err.Error()
	}
	c.record(measurementState, map[string]string{
		"from": from.String(),
		"to":   to.String(),
	}, fields)
}

// CredentialIssued records a credential's lifetime. The token is never written.
func (c *Client) CredentialIssued(cred credential.Credential) {
	c.record(measurementCredential, nil, map[string]any{
		"ttl_seconds": int64(cred.TTL.Seconds()),
		"expires_at":  cred.ExpiresAt().Unix(),
	})
}

// PublishCompleted records the outcome of a publish.
func (c *Client) PublishCompleted(topic string, err error) {
	fields := map[string]any{"ok": err == nil}
	if err != nil {
		fields["reason"] = err.Error()
	}
	c.record(measurementPublish, map[string]string{"topic": topic}, fields)
}

// MessageReceived records the size of an inbound message.
func (c *Client) MessageReceived(topic string, size int) {
	c.record(measurementMessage, map[string]string{"topic": topic}, map[string]any{
		"bytes": int64(size),
	})
}
