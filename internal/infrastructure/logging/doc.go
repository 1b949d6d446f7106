// Package logging configures the agent's structured logger.
//
// Entries are written by log/slog as JSON (default) or text, filtered by
// the logging.level setting and tagged with service and version. After the
// configuration is loaded the agent adds the device path with ForDevice,
// and each subsystem (mqtt, journal, status) logs through Component.
//
// Before configuration is available, Default writes text to stderr so
// startup failures are readable on a terminal.
//
// The MQTT password is a signed credential: log its expiry, never the token.
package logging
