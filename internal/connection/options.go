package connection

import (
	"crypto/tls"
	"time"
)

// Default option values, matching what the protocol client uses when a
// caller leaves the corresponding option unset.
const (
	// DefaultKeepAlive is the keepalive interval negotiated with the broker.
	DefaultKeepAlive = 30 * time.Second

	// DefaultProtocolVersion selects MQTT 3.1.1.
	DefaultProtocolVersion uint = 4

	// DefaultReconnectPeriod is the base reconnect delay.
	DefaultReconnectPeriod = 5 * time.Second

	// DefaultMaxReconnectDelay caps the exponential reconnect delay.
	DefaultMaxReconnectDelay = 30 * time.Second

	// DefaultConnectTimeout bounds a single connection attempt.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultMaxReconnectAttempts is the number of scheduled reconnects before giving up.
	DefaultMaxReconnectAttempts = 5

	// UnlimitedReconnectAttempts disables the exponential strategy's attempt cap.
	UnlimitedReconnectAttempts = -1

	// maxQoS is the highest QoS level defined by the protocol.
	maxQoS = 2
)

// Strategy selects how reconnect delays are computed.
type Strategy string

const (
	// StrategyExponential doubles the delay on every attempt up to
	// Options.MaxReconnectDelay and gives up after Options.MaxReconnectAttempts.
	StrategyExponential Strategy = "exponential"

	// StrategyFixed retries every Options.ReconnectPeriod with no attempt cap.
	StrategyFixed Strategy = "fixed"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyExponential || s == StrategyFixed
}

// Options configures a Manager and the session it opens.
//
// The zero value of every field selects its default, so a caller may set
// only what differs: Options{ReconnectPeriod: time.Second} still reconnects
// automatically, gives up after DefaultMaxReconnectAttempts and asks for a
// clean session.
type Options struct {
	// ClientID identifies the client to the broker. Empty lets the dialer choose.
	ClientID string

	// KeepAlive is the keepalive interval.
	KeepAlive time.Duration

	// ProtocolVersion is the MQTT protocol level (3 = 3.1, 4 = 3.1.1).
	ProtocolVersion uint

	// ReconnectPeriod is the base delay between reconnect attempts.
	ReconnectPeriod time.Duration

	// MaxReconnectDelay caps the exponential delay.
	MaxReconnectDelay time.Duration

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration

	// DisableAutoReconnect turns off reconnect scheduling after errors and
	// unexpected closes.
	DisableAutoReconnect bool

	// MaxReconnectAttempts is the exponential strategy's attempt cap.
	// 0 selects DefaultMaxReconnectAttempts; any negative value means unlimited.
	MaxReconnectAttempts int

	// ReconnectStrategy selects exponential backoff or a fixed interval.
	ReconnectStrategy Strategy

	// Jitter randomises exponential delays by ±Jitter×delay. 0 keeps delays exact.
	Jitter float64

	// DefaultQoS is used by Subscribe for topics given without options.
	DefaultQoS byte

	// Transport carries options passed through untouched to the dialer.
	Transport TransportOptions
}

// TransportOptions are passed through to the underlying protocol client.
type TransportOptions struct {
	Username string
	Password string

	// PersistentSession asks the broker to keep session state across
	// connections. The default is a clean session.
	PersistentSession bool

	OrderMatters bool
	WriteTimeout time.Duration
	TLSConfig    *tls.Config
	Will         *Will
}

// Will is the last-will message the broker publishes on an unexpected disconnect.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// SubscribeOptions are per-topic subscription options.
type SubscribeOptions struct {
	QoS byte
}

// PublishOptions are per-message publish options.
type PublishOptions struct {
	QoS      byte
	Retained bool
}

// DefaultOptions returns the options used when a caller sets nothing.
func DefaultOptions() Options {
	return Options{
		KeepAlive:            DefaultKeepAlive,
		ProtocolVersion:      DefaultProtocolVersion,
		ReconnectPeriod:      DefaultReconnectPeriod,
		MaxReconnectDelay:    DefaultMaxReconnectDelay,
		ConnectTimeout:       DefaultConnectTimeout,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ReconnectStrategy:    StrategyExponential,
	}
}

// AutoReconnect reports whether reconnects are scheduled automatically.
func (o Options) AutoReconnect() bool {
	return !o.DisableAutoReconnect
}

// CleanSession reports whether the broker is asked to discard session state.
func (o TransportOptions) CleanSession() bool {
	return !o.PersistentSession
}

// withDefaults merges o over DefaultOptions for every zero-valued field.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.KeepAlive <= 0 {
		o.KeepAlive = d.KeepAlive
	}
	if o.ProtocolVersion == 0 {
		o.ProtocolVersion = d.ProtocolVersion
	}
	if o.ReconnectPeriod <= 0 {
		o.ReconnectPeriod = d.ReconnectPeriod
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = d.MaxReconnectDelay
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	switch {
	case o.MaxReconnectAttempts == 0:
		o.MaxReconnectAttempts = d.MaxReconnectAttempts
	case o.MaxReconnectAttempts < 0:
		o.MaxReconnectAttempts = UnlimitedReconnectAttempts
	}
	if !o.ReconnectStrategy.Valid() {
		o.ReconnectStrategy = d.ReconnectStrategy
	}
	if o.ReconnectStrategy == StrategyExponential && o.ReconnectPeriod > o.MaxReconnectDelay {
		// min(base×2^n, cap) is the cap from the first attempt on
		o.ReconnectPeriod = o.MaxReconnectDelay
	}
	if o.Jitter < 0 || o.Jitter >= 1 {
		o.Jitter = 0
	}
	if o.DefaultQoS > maxQoS {
		o.DefaultQoS = maxQoS
	}
	return o
}
