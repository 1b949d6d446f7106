package router

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nerrad567/iotcore-client/internal/pubsub"
)

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("DEBUG", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }

func (l *recordingLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}

func message(topic, payload string) pubsub.Delivery {
	return pubsub.Delivery{
		Kind:    pubsub.KindMessage,
		Message: pubsub.Message{Topic: topic, Payload: []byte(payload)},
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/b", "a/b/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a/b/c", false},
		{"a/+/c", "a/b/c", true},
		{"+/+", "a/b", true},
		{"+", "a", true},
		{"+", "", true},
		{"a/#", "a", true},
		{"a/#", "a/b/c", true},
		{"a/#", "b/c", false},
		{"#", "a/b/c", true},
		{"/devices/+/events", "/devices/dev/events", true},
		{"#", "$SYS/broker/load", false},
		{"+/broker/load", "$SYS/broker/load", false},
		{"$SYS/#", "$SYS/broker/load", true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s~%s", tt.filter, tt.topic), func(t *testing.T) {
			if got := Match(tt.filter, tt.topic); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		filter  string
		wantErr bool
	}{
		{"a/b", false},
		{"a/+/c", false},
		{"a/#", false},
		{"#", false},
		{"", true},
		{"a/#/c", true},
		{"a/b#", true},
		{"a+/b", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			err := ValidateFilter(tt.filter)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateFilter(%q) error = %v, wantErr %v", tt.filter, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFilter) {
				t.Errorf("error = %v, want ErrInvalidFilter", err)
			}
		})
	}
}

func TestHandleRejectsNilHandler(t *testing.T) {
	r := New(nil)
	if err := r.Handle("a/b", nil); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("Handle(nil) error = %v, want ErrInvalidFilter", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestOnMessageDispatchesInOrder(t *testing.T) {
	r := New(nil)
	var calls []string
	add := func(filter, name string) {
		t.Helper()
		err := r.Handle(filter, func(topic string, payload []byte) error {
			calls = append(calls, name+":"+topic+":"+string(payload))
			return nil
		})
		if err != nil {
			t.Fatalf("Handle(%q) error = %v", filter, err)
		}
	}
	add("/devices/dev/commands/#", "commands")
	add("/devices/+/commands/reboot", "reboot")
	add("/devices/dev/config", "config")

	n := r.OnMessage(message("/devices/dev/commands/reboot", "now"))

	if n != 2 {
		t.Errorf("OnMessage() = %d, want 2", n)
	}
	want := []string{
		"commands:/devices/dev/commands/reboot:now",
		"reboot:/devices/dev/commands/reboot:now",
	}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestOnMessageIgnoresNotifications(t *testing.T) {
	logger := &recordingLogger{}
	r := New(logger)
	called := false
	if err := r.Handle("#", func(string, []byte) error { called = true; return nil }); err != nil {
		t.Fatal(err)
	}

	if n := r.OnMessage(pubsub.Delivery{Kind: pubsub.KindSubscribed, Message: pubsub.Message{Topic: "a"}}); n != 0 {
		t.Errorf("OnMessage(subscribed) = %d, want 0", n)
	}
	if n := r.OnMessage(pubsub.Delivery{Kind: pubsub.KindSubscribeFailed, Message: pubsub.Message{Topic: "a"}, Err: errors.New("denied")}); n != 0 {
		t.Errorf("OnMessage(subscribe failed) = %d, want 0", n)
	}
	if called {
		t.Error("handler called for a notification")
	}
	if !logger.has("WARN: subscription failed") {
		t.Errorf("entries = %v, want subscription failure warning", logger.entries)
	}
}

func TestOnMessageRecoversPanicsAndErrors(t *testing.T) {
	logger := &recordingLogger{}
	r := New(logger)
	reached := false

	_ = r.Handle("a/#", func(string, []byte) error { panic("boom") })
	_ = r.Handle("a/+", func(string, []byte) error { return errors.New("bad payload") })
	_ = r.Handle("a/b", func(string, []byte) error { reached = true; return nil })

	if n := r.OnMessage(message("a/b", "x")); n != 3 {
		t.Errorf("OnMessage() = %d, want 3", n)
	}
	if !reached {
		t.Error("handler after panicking handler was not called")
	}
	if !logger.has("ERROR: message handler panic recovered") {
		t.Errorf("entries = %v, want panic log", logger.entries)
	}
	if !logger.has("WARN: message handler returned error") {
		t.Errorf("entries = %v, want error log", logger.entries)
	}
}

func TestOnMessageNoRoute(t *testing.T) {
	logger := &recordingLogger{}
	r := New(logger)
	_ = r.Handle("a/b", func(string, []byte) error { return nil })

	if n := r.OnMessage(message("c/d", "")); n != 0 {
		t.Errorf("OnMessage() = %d, want 0", n)
	}
	if !logger.has("DEBUG: no route for message") {
		t.Errorf("entries = %v, want no-route log", logger.entries)
	}
}

func TestPrintHandler(t *testing.T) {
	logger := &recordingLogger{}
	h := PrintHandler(logger)

	if err := h("/devices/dev/config", []byte("{}")); err != nil {
		t.Fatalf("PrintHandler() error = %v", err)
	}
	if !logger.has("INFO: received message") {
		t.Errorf("entries = %v, want received message log", logger.entries)
	}
}
