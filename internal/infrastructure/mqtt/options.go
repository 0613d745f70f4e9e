package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/mqttlink/internal/connection"
	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
)

// Session constants.
const (
	// defaultOperationTimeout is the maximum time to wait for a subscribe,
	// unsubscribe or publish acknowledgment.
	defaultOperationTimeout = 10 * time.Second

	// connectTimeoutSlack is added to the connect timeout before the session
	// gives up waiting on paho's connect token.
	connectTimeoutSlack = 2 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on a graceful close.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// clientIDPrefix prefixes generated client IDs.
	clientIDPrefix = "mqttlink_"

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// subscribeFailure is the SUBACK return code for a rejected filter.
	subscribeFailure = 0x80
)

// supportedSchemes are the broker URL schemes paho can dial.
var supportedSchemes = map[string]bool{
	"tcp": true, "mqtt": true,
	"ssl": true, "tls": true, "tcps": true, "mqtts": true,
	"ws": true, "wss": true,
	"unix": true,
}

// secureSchemes get a default TLS configuration when none is supplied.
var secureSchemes = map[string]bool{
	"ssl": true, "tls": true, "tcps": true, "mqtts": true, "wss": true,
}

// NewClientID returns a random client ID of the form mqttlink_xxxxxxxx.
func NewClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return clientIDPrefix + id[:8]
}

// OptionsFromConfig maps the mqtt section of the configuration onto
// connection options. An empty client ID is replaced by a generated one so
// every session opened by the same Manager presents the same identity.
func OptionsFromConfig(cfg config.MQTTConfig) connection.Options {
	opts := connection.DefaultOptions()

	opts.ClientID = cfg.Broker.ClientID
	if opts.ClientID == "" {
		opts.ClientID = NewClientID()
	}
	opts.KeepAlive = cfg.GetKeepAlive()
	opts.ProtocolVersion = uint(cfg.ProtocolVersion)
	opts.ConnectTimeout = cfg.GetConnectTimeout()
	opts.ReconnectPeriod = cfg.GetReconnectPeriod()
	opts.MaxReconnectDelay = cfg.GetMaxReconnectDelay()
	opts.DisableAutoReconnect = !cfg.Reconnect.Auto
	opts.MaxReconnectAttempts = cfg.Reconnect.MaxAttempts
	if opts.MaxReconnectAttempts == 0 {
		opts.MaxReconnectAttempts = connection.UnlimitedReconnectAttempts
	}
	opts.ReconnectStrategy = connection.Strategy(cfg.Reconnect.Strategy)
	opts.Jitter = cfg.Reconnect.Jitter
	opts.DefaultQoS = byte(cfg.QoS)

	opts.Transport = connection.TransportOptions{
		Username:          cfg.Auth.Username,
		Password:          cfg.Auth.Password,
		PersistentSession: !cfg.CleanSession,
		OrderMatters:      cfg.OrderMatters,
		WriteTimeout:      time.Duration(cfg.WriteTimeoutMs) * time.Millisecond,
	}
	if cfg.Will.Topic != "" {
		opts.Transport.Will = &connection.Will{
			Topic:    cfg.Will.Topic,
			Payload:  []byte(cfg.Will.Payload),
			QoS:      byte(cfg.Will.QoS),
			Retained: cfg.Will.Retained,
		}
	}

	return opts
}

// parseBrokerURL checks that brokerURL names a host with a scheme paho supports.
func parseBrokerURL(brokerURL string) (*url.URL, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBrokerURL, err)
	}
	if !supportedSchemes[strings.ToLower(u.Scheme)] {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBrokerURL, u.Scheme)
	}
	if u.Host == "" && !strings.EqualFold(u.Scheme, "unix") {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidBrokerURL, brokerURL)
	}
	return u, nil
}

// buildClientOptions creates paho options for one session.
//
// paho's own reconnect and connect-retry loops are disabled: the
// connection.Manager owns reconnect scheduling, so a lost session stays lost.
func buildClientOptions(u *url.URL, o connection.Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(u.String())

	clientID := o.ClientID
	if clientID == "" {
		clientID = NewClientID()
	}
	opts.SetClientID(clientID)

	if o.Transport.Username != "" {
		opts.SetUsername(o.Transport.Username)
		opts.SetPassword(o.Transport.Password)
	}

	opts.SetCleanSession(o.Transport.CleanSession())
	opts.SetOrderMatters(o.Transport.OrderMatters)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetProtocolVersion(o.ProtocolVersion)
	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(o.KeepAlive)
	if o.Transport.WriteTimeout > 0 {
		opts.SetWriteTimeout(o.Transport.WriteTimeout)
	}

	switch {
	case o.Transport.TLSConfig != nil:
		opts.SetTLSConfig(o.Transport.TLSConfig)
	case secureSchemes[strings.ToLower(u.Scheme)]:
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	if w := o.Transport.Will; w != nil && w.Topic != "" {
		opts.SetBinaryWill(w.Topic, w.Payload, w.QoS, w.Retained)
	}

	return opts
}
