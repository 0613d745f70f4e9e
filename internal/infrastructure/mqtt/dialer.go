package mqtt

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqttlink/internal/connection"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Dialer opens paho-backed sessions. It implements connection.Dialer.
//
// Thread Safety:
//   - A Dialer holds no per-session state and may be shared.
type Dialer struct {
	logger    Logger
	opTimeout time.Duration

	// newClient is replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
}

// NewDialer creates a Dialer. logger may be nil.
func NewDialer(logger Logger) *Dialer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Dialer{
		logger:    logger,
		opTimeout: defaultOperationTimeout,
		newClient: pahomqtt.NewClient,
	}
}

// SetOperationTimeout bounds how long sessions wait for subscribe,
// unsubscribe and publish acknowledgments. Non-positive values are ignored.
func (d *Dialer) SetOperationTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.opTimeout = timeout
	}
}

// Open creates a paho client for brokerURL and starts connecting in the
// background. Progress is reported through h: OnOpen once the broker accepts
// the connection, OnError then OnClose(nil) if the attempt fails, OnClose
// with the cause if an open connection is lost. Open never calls h itself.
func (d *Dialer) Open(brokerURL string, opts connection.Options, h connection.Handlers) (connection.Session, error) {
	u, err := parseBrokerURL(brokerURL)
	if err != nil {
		return nil, err
	}

	s := &session{
		logger:    d.logger,
		handlers:  h,
		broker:    u.Redacted(),
		opTimeout: d.opTimeout,
		quiesce:   defaultDisconnectQuiesce,
	}

	clientOpts := buildClientOptions(u, opts)
	clientOpts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.emitOpen()
	})
	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.emitClose(err)
	})
	clientOpts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		s.emitMessage(msg)
	})

	s.client = d.newClient(clientOpts)
	d.logger.Debug("opening MQTT session", "broker", s.broker, "client_id", clientOpts.ClientID)

	token := s.client.Connect()
	go s.watchConnect(token, opts.ConnectTimeout+connectTimeoutSlack)

	return s, nil
}
