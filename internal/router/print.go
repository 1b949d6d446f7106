package router

// PrintHandler returns a Handler that logs each message at info level.
func PrintHandler(logger Logger) Handler {
	return func(topic string, payload []byte) error {
		logger.Info("received message", "topic", topic, "payload", string(payload))
		return nil
	}
}
