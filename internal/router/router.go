// Package router dispatches incoming messages to handlers by topic filter.
//
// The Router runs on the event loop. Handlers are called synchronously in
// registration order; a handler that returns an error or panics is logged
// and does not affect the others.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nerrad567/iotcore-client/internal/pubsub"
)

// ErrInvalidFilter is returned for malformed topic filters.
var ErrInvalidFilter = errors.New("router: invalid topic filter")

// Handler processes one message.
type Handler func(topic string, payload []byte) error

// Logger is the logging surface used by the Router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type route struct {
	filter  string
	levels  []string
	handler Handler
}

// Router holds the registered routes.
type Router struct {
	routes []route
	logger Logger
}

// New creates an empty Router. A nil logger discards output.
func New(logger Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{logger: logger}
}

// Handle registers handler for messages whose topic matches filter.
//
// Filters follow MQTT rules: "+" matches exactly one level and "#", valid
// only as the last level, matches the parent level and everything below it.
func (r *Router) Handle(filter string, handler Handler) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrInvalidFilter)
	}
	r.routes = append(r.routes, route{
		filter:  filter,
		levels:  strings.Split(filter, "/"),
		handler: handler,
	})
	return nil
}

// Len returns the number of registered routes.
func (r *Router) Len() int {
	return len(r.routes)
}

// OnMessage dispatches a delivery. Subscription acknowledgements are logged
// and otherwise ignored. It returns the number of handlers invoked.
func (r *Router) OnMessage(d pubsub.Delivery) int {
	switch d.Kind {
	case pubsub.KindMessage:
	case pubsub.KindSubscribeFailed:
		r.logger.Warn("subscription failed", "topic", d.Message.Topic, "error", d.Err)
		return 0
	default:
		r.logger.Debug("ignoring delivery", "kind", d.Kind.String(), "topic", d.Message.Topic)
		return 0
	}

	topic := d.Message.Topic
	levels := strings.Split(topic, "/")
	invoked := 0
	for _, rt := range r.routes {
		if !matchLevels(rt.levels, levels) {
			continue
		}
		invoked++
		r.dispatch(rt, topic, d.Message.Payload)
	}
	if invoked == 0 {
		r.logger.Debug("no route for message", "topic", topic)
	}
	return invoked
}

func (r *Router) dispatch(rt route, topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("message handler panic recovered",
				"topic", topic,
				"filter", rt.filter,
				"panic", rec,
			)
		}
	}()

	if err := rt.handler(topic, payload); err != nil {
		r.logger.Warn("message handler returned error",
			"topic", topic,
			"filter", rt.filter,
			"error", err,
		)
	}
}

// ValidateFilter reports whether filter is a well-formed MQTT topic filter.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty", ErrInvalidFilter)
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidFilter, filter)
			}
		case level == "+":
		case strings.ContainsAny(level, "#+"):
			return fmt.Errorf("%w: %q: wildcard must occupy a whole level", ErrInvalidFilter, filter)
		}
	}
	return nil
}

// Match reports whether topic matches filter.
func Match(filter, topic string) bool {
	return matchLevels(strings.Split(filter, "/"), strings.Split(topic, "/"))
}

func matchLevels(filter, topic []string) bool {
	// Wildcards never match topics reserved by the broker.
	if len(topic) > 0 && strings.HasPrefix(topic[0], "$") && len(filter) > 0 &&
		(filter[0] == "+" || filter[0] == "#") {
		return false
	}
	for i, f := range filter {
		if f == "#" {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if f != "+" && f != topic[i] {
			return false
		}
	}
	return len(filter) == len(topic)
}
