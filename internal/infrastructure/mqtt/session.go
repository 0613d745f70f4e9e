package mqtt

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqttlink/internal/connection"
)

// session is one paho client instance. It implements connection.Session.
//
// Every operation returns immediately; completion is reported on a separate
// goroutine once paho's token resolves or the operation timeout expires.
type session struct {
	client    pahomqtt.Client
	logger    Logger
	broker    string
	opTimeout time.Duration
	quiesce   uint

	// closing is set as soon as Close is called, before paho finishes.
	closing atomic.Bool

	mu       sync.RWMutex
	handlers connection.Handlers
}

// IsConnected reports whether the connection is fully open. A session that
// is still connecting, has been lost or is being closed reports false.
func (s *session) IsConnected() bool {
	return !s.closing.Load() && s.client.IsConnectionOpen()
}

// Subscribe requests every filter in one SUBSCRIBE packet.
func (s *session) Subscribe(filters map[string]byte, done func(error)) {
	token := s.client.SubscribeMultiple(filters, nil)
	go func() {
		err := s.wait(token, ErrSubscribeFailed)
		if err == nil {
			err = s.checkSubscribeResult(token)
		}
		if done != nil {
			done(err)
		}
	}()
}

// checkSubscribeResult turns per-filter SUBACK failures into an error.
func (s *session) checkSubscribeResult(token pahomqtt.Token) error {
	st, ok := token.(*pahomqtt.SubscribeToken)
	if !ok {
		return nil
	}

	var rejected []string
	for topic, code := range st.Result() {
		if code == subscribeFailure {
			rejected = append(rejected, topic)
		}
	}
	if len(rejected) == 0 {
		return nil
	}

	sort.Strings(rejected)
	s.logger.Warn("broker rejected subscriptions", "broker", s.broker, "topics", rejected)
	return fmt.Errorf("%w: broker rejected %v", ErrSubscribeFailed, rejected)
}

// Unsubscribe removes every topic in one UNSUBSCRIBE packet.
func (s *session) Unsubscribe(topics []string, done func(error)) {
	token := s.client.Unsubscribe(topics...)
	go s.complete(token, ErrUnsubscribeFailed, done)
}

// Publish sends payload to topic.
func (s *session) Publish(topic string, payload []byte, opts connection.PublishOptions, done func(error)) {
	token := s.client.Publish(topic, opts.QoS, opts.Retained, payload)
	go s.complete(token, ErrPublishFailed, done)
}

// Close disconnects. A graceful close gives in-flight work the quiesce
// period; a forced close drops it.
func (s *session) Close(force bool, done func()) {
	quiesce := s.quiesce
	if force {
		quiesce = 0
	}
	s.closing.Store(true)
	go func() {
		s.client.Disconnect(quiesce)
		if done != nil {
			done()
		}
	}()
}

// Detach drops the handlers; paho callbacks arriving later are ignored.
func (s *session) Detach() {
	s.mu.Lock()
	s.handlers = connection.Handlers{}
	s.mu.Unlock()
}

func (s *session) getHandlers() connection.Handlers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers
}

// watchConnect waits for the CONNECT token. Success is reported by paho's
// on-connect handler, so only failures are handled here: a failed attempt
// reports the error and then closes with a nil cause.
func (s *session) watchConnect(token pahomqtt.Token, timeout time.Duration) {
	if !token.WaitTimeout(timeout) {
		s.emitError(fmt.Errorf("%w: %w after %v", ErrConnectionFailed, ErrTimeout, timeout))
		s.client.Disconnect(0)
		s.emitAttemptClosed()
		return
	}
	if err := token.Error(); err != nil {
		s.emitError(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
		s.emitAttemptClosed()
	}
}

func (s *session) emitOpen() {
	if h := s.getHandlers().OnOpen; h != nil {
		h()
	}
}

func (s *session) emitError(err error) {
	s.logger.Warn("MQTT session error", "broker", s.broker, "error", err)
	if h := s.getHandlers().OnError; h != nil {
		h(err)
	}
}

func (s *session) emitClose(err error) {
	s.logger.Warn("MQTT connection lost", "broker", s.broker, "error", err)
	if h := s.getHandlers().OnClose; h != nil {
		h(err)
	}
}

func (s *session) emitAttemptClosed() {
	if h := s.getHandlers().OnClose; h != nil {
		h(nil)
	}
}

func (s *session) emitMessage(msg pahomqtt.Message) {
	if h := s.getHandlers().OnMessage; h != nil {
		h(msg)
	}
}

// complete waits for token and reports the outcome to done.
func (s *session) complete(token pahomqtt.Token, sentinel error, done func(error)) {
	err := s.wait(token, sentinel)
	if done != nil {
		done(err)
	}
}

func (s *session) wait(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(s.opTimeout) {
		return fmt.Errorf("%w: %w after %v", sentinel, ErrTimeout, s.opTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
