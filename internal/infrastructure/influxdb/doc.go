// Package influxdb records device agent telemetry in InfluxDB v2.
//
// A Client is registered as a connection observer. Each lifecycle event
// becomes one point tagged with the device path:
//
//   - connection_state: tags from, to; fields value, error, reason
//   - credential: fields ttl_seconds, expires_at (never the token)
//   - publish: tag topic; fields ok, reason
//   - message: tag topic; field bytes
//
// Points are batched by the client library's WriteAPI. Batch failures are
// reported through SetOnError; Close flushes what is still queued.
package influxdb
