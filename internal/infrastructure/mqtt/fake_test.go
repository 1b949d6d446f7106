package mqtt

import (
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is a pahomqtt.Token completed by the test.
type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func doneToken(err error) *fakeToken {
	t := newToken()
	t.complete(err)
	return t
}

func (t *fakeToken) complete(err error) {
	t.err = err
	close(t.done)
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient is a pahomqtt.Client that records calls.
type fakeClient struct {
	opts         *pahomqtt.ClientOptions
	connectToken *fakeToken

	mu             sync.Mutex
	open           bool
	disconnects    int
	published      []publishCall
	publishToken   *fakeToken
	handlers       map[string]pahomqtt.MessageHandler
	subscribeToken *fakeToken
}

func newFakeClient(opts *pahomqtt.ClientOptions) *fakeClient {
	return &fakeClient{
		opts:           opts,
		connectToken:   newToken(),
		publishToken:   doneToken(nil),
		subscribeToken: doneToken(nil),
		handlers:       make(map[string]pahomqtt.MessageHandler),
	}
}

func (c *fakeClient) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *fakeClient) IsConnected() bool { return c.IsConnectionOpen() }

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Connect() pahomqtt.Token { return c.connectToken }

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnects++
	c.open = false
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, publishCall{topic, qos, retained, payload.([]byte)})
	return c.publishToken
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return c.subscribeToken
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return doneToken(nil)
}

func (c *fakeClient) Unsubscribe(...string) pahomqtt.Token     { return doneToken(nil) }
func (c *fakeClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(c.opts)
}

func (c *fakeClient) handler(topic string) pahomqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[topic]
}

func (c *fakeClient) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func (c *fakeClient) publishedCalls() []publishCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishCall(nil), c.published...)
}

// fakeMessage is an inbound pahomqtt.Message.
type fakeMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return m.qos }
func (m fakeMessage) Retained() bool    { return m.retained }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// queuePoster collects posted callbacks; the test runs them.
type queuePoster struct {
	ch     chan func()
	closed bool
}

func newQueuePoster() *queuePoster {
	return &queuePoster{ch: make(chan func(), 64)}
}

func (p *queuePoster) Post(fn func()) bool {
	if p.closed {
		return false
	}
	p.ch <- fn
	return true
}

// runNext runs the next posted callback, failing if none arrives.
func (p *queuePoster) runNext(t *testing.T) {
	t.Helper()
	select {
	case fn := <-p.ch:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a posted callback")
	}
}

// assertIdle fails if a callback is posted within a short window.
func (p *queuePoster) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case <-p.ch:
		t.Fatal("unexpected posted callback")
	case <-time.After(50 * time.Millisecond):
	}
}
