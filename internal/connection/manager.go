package connection

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger is the logging interface used by the Manager.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// timer is the part of *time.Timer the Manager needs.
type timer interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

type observerEntry struct {
	id       uint64
	observer Observer
}

// Manager keeps one logical connection to a broker alive.
//
// It owns the Session, the connection state machine, the reconnect timer and
// the subscription registry. Subscriptions are replayed on every successful
// (re)connect. No method returns an error: failures are recorded and can be
// read back through LastError or observed as events.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Transport callbacks and the reconnect timer run on their own goroutines.
type Manager struct {
	brokerURL string
	opts      Options
	dialer    Dialer
	handler   MessageHandler
	registry  *Registry
	policy    *reconnectPolicy

	afterFunc func(time.Duration, func()) timer
	now       func() time.Time

	mu        sync.Mutex
	logger    Logger
	state     State
	session   Session
	gen       uint64 // identifies the current session; bumped on every open
	attempts  int
	exhausted bool
	lastErr   error
	manual    bool
	closed    bool
	timer     timer
	timerGen  uint64
	observers []observerEntry
	nextObsID uint64
	pending   []Event

	// notifyMu serialises observer delivery.
	notifyMu sync.Mutex
}

// New creates a Manager for brokerURL. It does not connect.
//
// opts is merged over DefaultOptions for every zero-valued duration, protocol
// version and strategy. handler may be nil to discard messages.
func New(brokerURL string, opts Options, dialer Dialer, handler MessageHandler) (*Manager, error) {
	if brokerURL == "" {
		return nil, fmt.Errorf("%w: broker URL is required", ErrInvalidConfig)
	}
	if dialer == nil {
		return nil, fmt.Errorf("%w: dialer is required", ErrInvalidConfig)
	}

	opts = opts.withDefaults()

	return &Manager{
		brokerURL: brokerURL,
		opts:      opts,
		dialer:    dialer,
		handler:   handler,
		registry:  NewRegistry(),
		policy:    newReconnectPolicy(opts),
		afterFunc: realAfterFunc,
		now:       time.Now,
		logger:    nopLogger{},
		state:     StateDisconnected,
	}, nil
}

// SetLogger sets the logger. A nil logger silences the Manager.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger == nil {
		logger = nopLogger{}
	}
	m.logger = logger
}

// BrokerURL returns the broker the Manager connects to.
func (m *Manager) BrokerURL() string {
	return m.brokerURL
}

// Options returns the effective options after defaults were applied.
func (m *Manager) Options() Options {
	return m.opts
}

// Connect opens a new session unless one is already connected.
//
// Any previous session is detached and discarded first. After the reconnect
// attempts have been exhausted, Connect starts a fresh cycle.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed {
		m.setErrorLocked(ErrClosed)
		m.mu.Unlock()
		m.flush()
		return
	}
	if m.session != nil && m.session.IsConnected() {
		m.mu.Unlock()
		return
	}
	if m.exhausted {
		m.attempts = 0
		m.exhausted = false
		m.policy.reset()
	}
	m.connectLocked()
	m.mu.Unlock()
	m.flush()
}

// Disconnect closes the session gracefully and suppresses auto-reconnect
// until the next Connect. A pending reconnect is cancelled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	m.manual = true
	m.stopTimerLocked()

	session := m.session
	if session == nil || !session.IsConnected() {
		if m.state == StateReconnecting {
			m.setStateLocked(StateDisconnected)
		}
		m.mu.Unlock()
		m.flush()
		return
	}

	gen := m.gen
	m.logger.Info("disconnecting from broker", "broker", m.brokerURL)
	m.mu.Unlock()

	session.Close(false, func() { m.handleClosed(gen) })
}

// Close tears the Manager down: it disconnects, cancels any pending
// reconnect, detaches the session's handlers and releases it. The Manager
// cannot be reused; later operations record ErrClosed.
func (m *Manager) Close() {
	defer m.release()
	m.Disconnect()
}

func (m *Manager) release() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	m.stopTimerLocked()
	if m.session != nil {
		m.session.Detach()
		if !m.session.IsConnected() {
			// abort an attempt still in flight
			m.session.Close(true, nil)
		}
		m.session = nil
	}
	m.gen++
	m.closed = true
	if m.state != StateDisconnected {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()
	m.flush()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscriptions returns the registered topic filters, sorted.
func (m *Manager) Subscriptions() []string {
	return m.registry.Topics()
}

// Registry returns the subscription registry. It is read-only by convention;
// mutate it through Subscribe and Unsubscribe.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// LastError returns the most recent failure, or nil after a successful connect.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Attempts returns the number of reconnects scheduled since the last
// successful connection.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Snapshot returns a consistent view of state, subscriptions, last error and attempts.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		State:         m.state,
		Subscriptions: m.registry.Topics(),
		LastError:     m.lastErr,
		Attempts:      m.attempts,
	}
}

// AddObserver registers o for every future event and returns a function
// that removes it.
func (m *Manager) AddObserver(o Observer) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextObsID++
	id := m.nextObsID

	// copy on write: flush iterates a snapshot of the slice
	observers := make([]observerEntry, 0, len(m.observers)+1)
	observers = append(observers, m.observers...)
	m.observers = append(observers, observerEntry{id: id, observer: o})

	return func() { m.removeObserver(id) }
}

func (m *Manager) removeObserver(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	observers := make([]observerEntry, 0, len(m.observers))
	for _, e := range m.observers {
		if e.id != id {
			observers = append(observers, e)
		}
	}
	m.observers = observers
}

// Watch returns a channel receiving every future event. Events are dropped
// when the channel's buffer is full. stop unregisters the channel; it is
// never closed.
func (m *Manager) Watch(buffer int) (events <-chan Event, stop func()) {
	if buffer < 1 {
		buffer = 1
	}
	o := &chanObserver{ch: make(chan Event, buffer)}
	return o.ch, m.AddObserver(o)
}

// connectLocked replaces the session with a freshly opened one.
func (m *Manager) connectLocked() {
	m.manual = false
	m.stopTimerLocked()

	if old := m.session; old != nil {
		old.Detach()
		old.Close(true, nil)
		m.session = nil
	}

	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnecting)
	m.logger.Debug("connecting to broker", "broker", m.brokerURL, "attempt", m.attempts)

	session, err := m.dialer.Open(m.brokerURL, m.opts, m.handlersFor(gen))
	if err != nil {
		m.onErrorLocked(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
		if m.state == StateConnecting {
			// no session exists, so no close will follow
			m.setStateLocked(StateDisconnected)
		}
		return
	}
	m.session = session
}

// handlersFor binds the lifecycle callbacks to one session generation so
// events from a replaced session are ignored.
func (m *Manager) handlersFor(gen uint64) Handlers {
	return Handlers{
		OnOpen:    func() { m.handleOpen(gen) },
		OnMessage: func(msg Message) { m.handleMessage(gen, msg) },
		OnError:   func(err error) { m.handleError(gen, err) },
		OnClose:   func(err error) { m.handleClose(gen, err) },
	}
}

func (m *Manager) current(gen uint64) bool {
	return !m.closed && gen == m.gen
}

func (m *Manager) handleOpen(gen uint64) {
	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return
	}

	session := m.session
	if m.manual {
		// Disconnect was requested while the attempt was in flight.
		m.mu.Unlock()
		if session != nil {
			session.Close(false, func() { m.handleClosed(gen) })
		}
		return
	}

	m.stopTimerLocked()
	m.attempts = 0
	m.exhausted = false
	m.policy.reset()
	m.lastErr = nil
	m.setStateLocked(StateConnected)

	filters := m.registry.Filters()
	m.logger.Info("connected to broker", "broker", m.brokerURL, "subscriptions", len(filters))
	m.mu.Unlock()
	m.flush()

	if session == nil || len(filters) == 0 {
		return
	}
	session.Subscribe(filters, func(err error) {
		if err != nil {
			m.recordErrorFor(gen, fmt.Errorf("%w: replay: %w", ErrSubscribeFailed, err))
		}
	})
}

func (m *Manager) handleMessage(gen uint64, msg Message) {
	m.mu.Lock()
	ok := m.current(gen)
	logger := m.logger
	m.mu.Unlock()
	if !ok || m.handler == nil || msg == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("message handler panic recovered",
				"topic", msg.Topic(),
				"panic", r,
			)
		}
	}()
	m.handler(msg.Topic(), msg.Payload(), msg)
}

func (m *Manager) handleError(gen uint64, err error) {
	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return
	}
	if err == nil {
		err = errors.New("unknown transport error")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	m.onErrorLocked(err)
	m.mu.Unlock()
	m.flush()
}

// onErrorLocked records a transport error and decides whether to reconnect.
// Without a reconnect the state is left alone; the session's close moves it
// to Disconnected.
func (m *Manager) onErrorLocked(err error) {
	m.setErrorLocked(err)
	m.logger.Warn("broker connection error", "broker", m.brokerURL, "error", err)

	if m.opts.AutoReconnect() && !m.manual && !m.exhausted {
		m.scheduleReconnectLocked()
	}
}

func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return
	}

	if m.exhausted {
		// the cycle already gave up; keep the exhaustion error
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.flush()
		return
	}
	if m.timer != nil {
		// an error on this session already scheduled the retry
		m.mu.Unlock()
		return
	}

	if cause != nil {
		if !errors.Is(cause, ErrConnectionLost) {
			cause = fmt.Errorf("%w: %w", ErrConnectionLost, cause)
		}
		m.setErrorLocked(cause)
		m.logger.Warn("broker connection lost", "broker", m.brokerURL, "error", cause)
	}
	m.setStateLocked(StateDisconnected)

	if m.opts.AutoReconnect() && !m.manual {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()
	m.flush()
}

// handleClosed completes a graceful close requested by Disconnect.
func (m *Manager) handleClosed(gen uint64) {
	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return
	}
	if m.state != StateDisconnected {
		m.setStateLocked(StateDisconnected)
	}
	m.logger.Info("disconnected from broker", "broker", m.brokerURL)
	m.mu.Unlock()
	m.flush()
}

// scheduleReconnectLocked arms the reconnect timer, superseding any pending
// one, or gives up once the attempt cap is reached.
func (m *Manager) scheduleReconnectLocked() {
	m.stopTimerLocked()

	if m.policy.exhausted(m.attempts) {
		err := fmt.Errorf("%w (%d)", ErrReconnectExhausted, m.attempts)
		m.exhausted = true
		m.setErrorLocked(err)
		m.setStateLocked(StateDisconnected)
		m.emitLocked(Event{Kind: EventReconnectExhausted, Err: err, Attempt: m.attempts})
		m.logger.Error("reconnect attempts exhausted", "broker", m.brokerURL, "attempts", m.attempts)
		return
	}

	m.setStateLocked(StateReconnecting)
	delay := m.policy.next()
	m.attempts++

	m.timerGen++
	tg := m.timerGen
	m.timer = m.afterFunc(delay, func() { m.fireReconnect(tg) })

	m.emitLocked(Event{Kind: EventReconnectScheduled, Attempt: m.attempts, Delay: delay})
	m.logger.Info("reconnect scheduled", "broker", m.brokerURL, "attempt", m.attempts, "delay", delay)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

func (m *Manager) fireReconnect(tg uint64) {
	m.mu.Lock()
	if m.closed || tg != m.timerGen || m.timer == nil || m.manual {
		m.mu.Unlock()
		return
	}
	m.timer = nil

	if m.session != nil && m.session.IsConnected() {
		// the transport recovered on its own
		m.attempts = 0
		m.policy.reset()
		m.setStateLocked(StateConnected)
		m.mu.Unlock()
		m.flush()
		return
	}

	m.connectLocked()
	m.mu.Unlock()
	m.flush()
}

// recordError records an operation failure without touching the connection state.
func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.setErrorLocked(err)
	m.mu.Unlock()
	m.flush()
}

// recordErrorFor records err only if it came from the current session.
func (m *Manager) recordErrorFor(gen uint64, err error) {
	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return
	}
	m.setErrorLocked(err)
	m.logger.Warn("broker operation failed", "broker", m.brokerURL, "error", err)
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) setErrorLocked(err error) {
	m.lastErr = err
	m.emitLocked(Event{Kind: EventError, Err: err})
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	prev := m.state
	m.state = s
	m.emitLocked(Event{Kind: EventStateChanged, Previous: prev})
}

// emitLocked queues ev for delivery by flush. State and Time are filled in.
func (m *Manager) emitLocked(ev Event) {
	if len(m.observers) == 0 {
		return
	}
	ev.State = m.state
	ev.Time = m.now()
	m.pending = append(m.pending, ev)
}

// flush delivers queued events. Only one goroutine delivers at a time; a
// caller that finds delivery in progress leaves its events to that goroutine.
func (m *Manager) flush() {
	for {
		if !m.notifyMu.TryLock() {
			return
		}

		m.mu.Lock()
		events := m.pending
		m.pending = nil
		observers := m.observers
		logger := m.logger
		m.mu.Unlock()

		for _, ev := range events {
			for _, e := range observers {
				deliver(logger, e.observer, ev)
			}
		}
		m.notifyMu.Unlock()

		m.mu.Lock()
		more := len(m.pending) > 0
		m.mu.Unlock()
		if !more {
			return
		}
	}
}

func deliver(logger Logger, o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("observer panic recovered", "event", string(ev.Kind), "panic", r)
		}
	}()
	o.OnEvent(ev)
}
