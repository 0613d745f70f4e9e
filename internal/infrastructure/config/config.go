package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "MQTTLINK_"

// Config is the root configuration structure for mqttlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT       MQTTConfig       `yaml:"mqtt" envPrefix:"MQTT_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOG_"`
	Journal    JournalConfig    `yaml:"journal" envPrefix:"JOURNAL_"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb" envPrefix:"INFLUXDB_"`
	StatusFeed StatusFeedConfig `yaml:"statusfeed" envPrefix:"STATUSFEED_"`
	Trace      TraceConfig      `yaml:"trace" envPrefix:"TRACE_"`
	Discovery  DiscoveryConfig  `yaml:"discovery" envPrefix:"DISCOVERY_"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker           MQTTBrokerConfig    `yaml:"broker" envPrefix:"BROKER_"`
	Auth             MQTTAuthConfig      `yaml:"auth"`
	KeepAliveSeconds int                 `yaml:"keepalive_seconds" env:"KEEPALIVE_SECONDS"`
	ProtocolVersion  int                 `yaml:"protocol_version" env:"PROTOCOL_VERSION"`
	ConnectTimeoutMs int                 `yaml:"connect_timeout_ms" env:"CONNECT_TIMEOUT_MS"`
	WriteTimeoutMs   int                 `yaml:"write_timeout_ms" env:"WRITE_TIMEOUT_MS"`
	QoS              int                 `yaml:"qos" env:"QOS"`
	CleanSession     bool                `yaml:"clean_session" env:"CLEAN_SESSION"`
	OrderMatters     bool                `yaml:"order_matters" env:"ORDER_MATTERS"`
	Reconnect        MQTTReconnectConfig `yaml:"reconnect" envPrefix:"RECONNECT_"`
	Will             MQTTWillConfig      `yaml:"will" envPrefix:"WILL_"`

	// Subscriptions are registered at startup and kept across reconnects.
	Subscriptions []string `yaml:"subscriptions" env:"SUBSCRIPTIONS" envSeparator:","`
}

// MQTTBrokerConfig contains MQTT broker connection details.
//
// URL wins when set; otherwise the URL is built from Host, Port and TLS.
type MQTTBrokerConfig struct {
	URL      string `yaml:"url" env:"URL"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	TLS      bool   `yaml:"tls" env:"TLS"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	Auto        bool    `yaml:"auto" env:"AUTO"`
	Strategy    string  `yaml:"strategy" env:"STRATEGY"`
	PeriodMs    int     `yaml:"reconnect_period_ms" env:"PERIOD_MS"`
	MaxDelayMs  int     `yaml:"max_delay_ms" env:"MAX_DELAY_MS"`
	MaxAttempts int     `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Jitter      float64 `yaml:"jitter" env:"JITTER"`
}

// MQTTWillConfig is the last-will message. An empty topic disables it.
type MQTTWillConfig struct {
	Topic    string `yaml:"topic" env:"TOPIC"`
	Payload  string `yaml:"payload" env:"PAYLOAD"`
	QoS      int    `yaml:"qos" env:"QOS"`
	Retained bool   `yaml:"retained" env:"RETAINED"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// JournalConfig contains the SQLite connection event journal settings.
type JournalConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	Path          string `yaml:"path" env:"PATH"`
	WALMode       bool   `yaml:"wal_mode" env:"WAL_MODE"`
	BusyTimeout   int    `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
	RetentionDays int    `yaml:"retention_days" env:"RETENTION_DAYS"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL"`
	Token         string `yaml:"token" env:"TOKEN"`
	Org           string `yaml:"org" env:"ORG"`
	Bucket        string `yaml:"bucket" env:"BUCKET"`
	BatchSize     int    `yaml:"batch_size" env:"BATCH_SIZE"`
	FlushInterval int    `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
}

// StatusFeedConfig contains the HTTP/WebSocket status feed settings.
type StatusFeedConfig struct {
	Enabled   bool                 `yaml:"enabled" env:"ENABLED"`
	Host      string               `yaml:"host" env:"HOST"`
	Port      int                  `yaml:"port" env:"PORT"`
	Timeouts  APITimeoutConfig     `yaml:"timeouts" envPrefix:"TIMEOUT_"`
	WebSocket WebSocketConfig      `yaml:"websocket" envPrefix:"WS_"`
	CORS      StatusFeedCORSConfig `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read" env:"READ"`
	Write int `yaml:"write" env:"WRITE"`
	Idle  int `yaml:"idle" env:"IDLE"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path" env:"PATH"`
	MaxMessageSize int    `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	PingInterval   int    `yaml:"ping_interval" env:"PING_INTERVAL"`
	PongTimeout    int    `yaml:"pong_timeout" env:"PONG_TIMEOUT"`
}

// StatusFeedCORSConfig lists origins allowed to open the WebSocket.
// Empty allows same-origin requests only.
type StatusFeedCORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// TraceConfig contains CBOR trace file settings.
type TraceConfig struct {
	Enabled        bool   `yaml:"enabled" env:"ENABLED"`
	Path           string `yaml:"path" env:"PATH"`
	RecordMessages bool   `yaml:"record_messages" env:"RECORD_MESSAGES"`
}

// DiscoveryConfig contains mDNS broker discovery settings.
type DiscoveryConfig struct {
	Enabled        bool   `yaml:"enabled" env:"ENABLED"`
	Service        string `yaml:"service" env:"SERVICE"`
	Domain         string `yaml:"domain" env:"DOMAIN"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
	Interface      string `yaml:"interface" env:"INTERFACE"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults); skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTTLINK_SECTION_KEY
// For example: MQTTLINK_MQTT_BROKER_HOST, MQTTLINK_JOURNAL_PATH
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			KeepAliveSeconds: 30,
			ProtocolVersion:  4,
			ConnectTimeoutMs: 30000,
			QoS:              0,
			CleanSession:     true,
			Reconnect: MQTTReconnectConfig{
				Auto:        true,
				Strategy:    "exponential",
				PeriodMs:    5000,
				MaxDelayMs:  30000,
				MaxAttempts: 5,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          "./data/mqttlink.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		StatusFeed: StatusFeedConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Trace: TraceConfig{
			Path:           "./data/mqttlink.trace",
			RecordMessages: true,
		},
		Discovery: DiscoveryConfig{
			Service:        "_mqtt._tcp",
			Domain:         "local.",
			TimeoutSeconds: 3,
		},
	}
}

// applyEnvOverrides applies MQTTLINK_* environment variables on top of cfg.
// Variables that are not set leave the current value untouched.
func applyEnvOverrides(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
}

// Validate checks the configuration for errors, reporting all of them at once.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.URL == "" {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host or mqtt.broker.url is required")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.ProtocolVersion != 3 && c.MQTT.ProtocolVersion != 4 {
		errs = append(errs, "mqtt.protocol_version must be 3 or 4")
	}
	if c.MQTT.KeepAliveSeconds < 0 {
		errs = append(errs, "mqtt.keepalive_seconds must not be negative")
	}
	if c.MQTT.ConnectTimeoutMs < 0 {
		errs = append(errs, "mqtt.connect_timeout_ms must not be negative")
	}
	switch c.MQTT.Reconnect.Strategy {
	case "exponential", "fixed":
	default:
		errs = append(errs, "mqtt.reconnect.strategy must be \"exponential\" or \"fixed\"")
	}
	if c.MQTT.Reconnect.PeriodMs < 0 || c.MQTT.Reconnect.MaxDelayMs < 0 {
		errs = append(errs, "mqtt.reconnect delays must not be negative")
	}
	if c.MQTT.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "mqtt.reconnect.max_attempts must not be negative (0 means unlimited)")
	}
	if c.MQTT.Reconnect.Jitter < 0 || c.MQTT.Reconnect.Jitter >= 1 {
		errs = append(errs, "mqtt.reconnect.jitter must be in [0, 1)")
	}
	if c.MQTT.Will.Topic != "" && (c.MQTT.Will.QoS < 0 || c.MQTT.Will.QoS > 2) {
		errs = append(errs, "mqtt.will.qos must be 0, 1, or 2")
	}

	// Logging validation
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "":
	default:
		errs = append(errs, "logging.format must be \"json\" or \"text\"")
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// Status feed validation
	if c.StatusFeed.Enabled && (c.StatusFeed.Port < 1 || c.StatusFeed.Port > 65535) {
		errs = append(errs, "statusfeed.port must be between 1 and 65535")
	}

	// Trace validation
	if c.Trace.Enabled && c.Trace.Path == "" {
		errs = append(errs, "trace.path is required when tracing is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerURL returns the broker URL, building it from host and port when
// no explicit URL is configured.
func (c MQTTConfig) BrokerURL() string {
	if c.Broker.URL != "" {
		return c.Broker.URL
	}
	scheme := "tcp"
	if c.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker.Host, c.Broker.Port)
}

// GetKeepAlive returns the keepalive interval as a Duration.
func (c MQTTConfig) GetKeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// GetConnectTimeout returns the connect timeout as a Duration.
func (c MQTTConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// GetReconnectPeriod returns the base reconnect delay as a Duration.
func (c MQTTConfig) GetReconnectPeriod() time.Duration {
	return time.Duration(c.Reconnect.PeriodMs) * time.Millisecond
}

// GetMaxReconnectDelay returns the reconnect delay cap as a Duration.
func (c MQTTConfig) GetMaxReconnectDelay() time.Duration {
	return time.Duration(c.Reconnect.MaxDelayMs) * time.Millisecond
}

// Address returns the status feed listen address.
func (c StatusFeedConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetReadTimeout returns the status feed read timeout as a Duration.
func (c StatusFeedConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the status feed write timeout as a Duration.
func (c StatusFeedConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the status feed idle timeout as a Duration.
func (c StatusFeedConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}

// GetTimeout returns the discovery browse timeout as a Duration.
func (c DiscoveryConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
