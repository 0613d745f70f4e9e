package connection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type publishCall struct {
	topic   string
	payload []byte
	opts    PublishOptions
}

// fakeSession is a scripted Session. Its operations complete synchronously.
type fakeSession struct {
	mu        sync.Mutex
	url       string
	opts      Options
	handlers  Handlers
	original  Handlers
	connected bool
	detached  bool

	subscribes   []map[string]byte
	unsubscribes [][]string
	publishes    []publishCall
	closes       []bool

	subscribeErr   error
	unsubscribeErr error
	publishErr     error

	// holdClose keeps graceful close callbacks until finishClose runs them.
	holdClose bool
	held      []func()
}

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) Subscribe(filters map[string]byte, done func(error)) {
	s.mu.Lock()
	cp := make(map[string]byte, len(filters))
	for k, v := range filters {
		cp[k] = v
	}
	s.subscribes = append(s.subscribes, cp)
	err := s.subscribeErr
	s.mu.Unlock()
	if done != nil {
		done(err)
	}
}

func (s *fakeSession) Unsubscribe(topics []string, done func(error)) {
	s.mu.Lock()
	s.unsubscribes = append(s.unsubscribes, append([]string(nil), topics...))
	err := s.unsubscribeErr
	s.mu.Unlock()
	if done != nil {
		done(err)
	}
}

func (s *fakeSession) Publish(topic string, payload []byte, opts PublishOptions, done func(error)) {
	s.mu.Lock()
	s.publishes = append(s.publishes, publishCall{topic: topic, payload: payload, opts: opts})
	err := s.publishErr
	s.mu.Unlock()
	if done != nil {
		done(err)
	}
}

func (s *fakeSession) Close(force bool, done func()) {
	s.mu.Lock()
	s.closes = append(s.closes, force)
	s.connected = false
	if s.holdClose && done != nil {
		s.held = append(s.held, done)
		done = nil
	}
	s.mu.Unlock()
	if done != nil {
		done()
	}
}

func (s *fakeSession) finishClose() {
	s.mu.Lock()
	held := s.held
	s.held = nil
	s.mu.Unlock()
	for _, done := range held {
		done()
	}
}

func (s *fakeSession) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = true
	s.handlers = Handlers{}
}

// open simulates the broker accepting the connection.
func (s *fakeSession) open() {
	s.mu.Lock()
	s.connected = true
	h := s.handlers.OnOpen
	s.mu.Unlock()
	if h != nil {
		h()
	}
}

// fail simulates a transport error.
func (s *fakeSession) fail(err error) {
	s.mu.Lock()
	h := s.handlers.OnError
	s.mu.Unlock()
	if h != nil {
		h(err)
	}
}

// drop simulates the connection closing underneath the client.
func (s *fakeSession) drop(err error) {
	s.mu.Lock()
	s.connected = false
	h := s.handlers.OnClose
	s.mu.Unlock()
	if h != nil {
		h(err)
	}
}

// deliver simulates an inbound message.
func (s *fakeSession) deliver(msg Message) {
	s.mu.Lock()
	h := s.handlers.OnMessage
	s.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (s *fakeSession) subscribeCalls() []map[string]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]byte(nil), s.subscribes...)
}

func (s *fakeSession) unsubscribeCalls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.unsubscribes...)
}

func (s *fakeSession) publishCalls() []publishCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishCall(nil), s.publishes...)
}

func (s *fakeSession) closeCalls() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.closes...)
}

func (s *fakeSession) isDetached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// fakeDialer hands out fakeSessions and remembers them.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	openErr  error
	opens    int
}

func (d *fakeDialer) Open(brokerURL string, opts Options, h Handlers) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := &fakeSession{url: brokerURL, opts: opts, handlers: h, original: h}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) last(t *testing.T) *fakeSession {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.sessions, "no session opened")
	return d.sessions[len(d.sessions)-1]
}

// manualClock replaces time.AfterFunc; timers fire only when told to.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.delay)
	}
	return out
}

// pending returns the timers that have neither fired nor been stopped.
func (c *manualClock) pending() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*manualTimer
	for _, t := range c.timers {
		t.mu.Lock()
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
		t.mu.Unlock()
	}
	return out
}

// fire runs the single pending timer.
func (c *manualClock) fire(t *testing.T) {
	t.Helper()
	pending := c.pending()
	require.Len(t, pending, 1, "expected exactly one pending timer")
	pending[0].run()
}

func (t *manualTimer) run() {
	t.mu.Lock()
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	fn()
}

// fakeMessage is a Message with fixed metadata.
type fakeMessage struct {
	topic   string
	payload []byte
	qos     byte
}

func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Qos() byte         { return m.qos }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) MessageID() uint16 { return 1 }

// recorder collects events delivered to an observer.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, ev := range r.events {
		if ev.Kind == EventStateChanged {
			out = append(out, ev.State)
		}
	}
	return out
}

type harness struct {
	m        *Manager
	dialer   *fakeDialer
	clock    *manualClock
	mu       sync.Mutex
	received []string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{dialer: &fakeDialer{}, clock: &manualClock{}}
	m, err := New("tcp://broker.test:1883", opts, h.dialer, func(topic string, payload []byte, _ Message) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.received = append(h.received, topic+"="+string(payload))
	})
	require.NoError(t, err)
	m.afterFunc = h.clock.AfterFunc
	h.m = m
	t.Cleanup(m.Close)
	return h
}

// connected returns a harness whose first session is open.
func connectedHarness(t *testing.T, opts Options) (*harness, *fakeSession) {
	t.Helper()
	h := newHarness(t, opts)
	h.m.Connect()
	s := h.dialer.last(t)
	s.open()
	require.Equal(t, StateConnected, h.m.State())
	return h, s
}
