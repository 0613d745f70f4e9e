package connection

// Message is the raw packet metadata delivered alongside a message.
// It is the read-only subset of a paho message, so paho messages satisfy it.
type Message interface {
	Topic() string
	Payload() []byte
	Qos() byte
	Retained() bool
	Duplicate() bool
	MessageID() uint16
}

// MessageHandler receives every message delivered on the live session.
//
// Handlers are invoked on the transport's goroutine and should not block.
type MessageHandler func(topic string, payload []byte, msg Message)

// Handlers are the four lifecycle callbacks registered on every session.
//
// OnClose receives the cause of the close, or nil for a graceful close. A
// failed connection attempt reports OnError and then OnClose(nil).
type Handlers struct {
	OnOpen    func()
	OnMessage func(msg Message)
	OnError   func(err error)
	OnClose   func(err error)
}

// Session is one live transport-level client instance.
//
// Operations are asynchronous: they return immediately and report their
// outcome through the done callback, which may be nil. Implementations must
// not invoke done or any Handlers on the calling goroutine.
type Session interface {
	// IsConnected reports whether the session is currently open.
	IsConnected() bool

	// Subscribe requests subscriptions for every filter at its QoS.
	Subscribe(filters map[string]byte, done func(err error))

	// Unsubscribe removes subscriptions for the given topics.
	Unsubscribe(topics []string, done func(err error))

	// Publish sends payload to topic.
	Publish(topic string, payload []byte, opts PublishOptions, done func(err error))

	// Close ends the session. A non-forced close lets in-flight work drain.
	Close(force bool, done func())

	// Detach removes the registered Handlers. Transport events after Detach
	// are dropped.
	Detach()
}

// Dialer opens sessions against a broker. It is the underlying protocol client.
type Dialer interface {
	// Open starts connecting to brokerURL and returns immediately. The session
	// reports progress through h; Open must not invoke h before returning.
	Open(brokerURL string, opts Options, h Handlers) (Session, error)
}

// DialerFunc adapts an ordinary function to the Dialer interface.
type DialerFunc func(brokerURL string, opts Options, h Handlers) (Session, error)

// Open implements Dialer.
func (f DialerFunc) Open(brokerURL string, opts Options, h Handlers) (Session, error) {
	return f(brokerURL, opts, h)
}
