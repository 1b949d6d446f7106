package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when the configuration fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the root configuration structure for the device agent.
// All configuration is loaded from YAML and can be overridden by environment
// variables and command line flags.
type Config struct {
	Identity   IdentityConfig   `yaml:"identity"`
	Broker     BrokerConfig     `yaml:"broker"`
	Key        KeyConfig        `yaml:"key"`
	Credential CredentialConfig `yaml:"credential"`
	Publish    PublishConfig    `yaml:"publish"`
	Subscribe  SubscribeConfig  `yaml:"subscribe"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Journal    JournalConfig    `yaml:"journal"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Status     StatusConfig     `yaml:"status"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// IdentityConfig identifies the device to the cloud project.
type IdentityConfig struct {
	ProjectID string `yaml:"project_id"`

	// DevicePath is the full device path, used as the MQTT client ID:
	// projects/{project}/locations/{region}/registries/{registry}/devices/{device}
	DevicePath string `yaml:"device_path"`
}

// BrokerConfig contains MQTT broker connection details.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	CAFile   string `yaml:"ca_file"`
	Username string `yaml:"username"`

	// ConnectTimeout and KeepAlive are in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`
	KeepAlive      int `yaml:"keepalive"`
}

// KeyConfig locates the device private key.
type KeyConfig struct {
	Path      string `yaml:"path"`
	MaxSize   int    `yaml:"max_size"`
	Algorithm string `yaml:"algorithm"`
	Encoding  string `yaml:"encoding"`
}

// CredentialConfig controls JWT issuance. Durations are in seconds.
type CredentialConfig struct {
	TTL           int `yaml:"ttl"`
	RefreshMargin int `yaml:"refresh_margin"`
	MaxTokenSize  int `yaml:"max_token_size"`
}

// PublishConfig describes the telemetry the agent publishes.
type PublishConfig struct {
	Topic   string `yaml:"topic"`
	Message string `yaml:"message"`
	QoS     int    `yaml:"qos"`

	// Interval in seconds between recurring publishes. 0 publishes once per
	// connection.
	Interval int `yaml:"interval"`

	// MaxCount stops the agent gracefully after that many acknowledged
	// publishes. 0 means unlimited.
	MaxCount int `yaml:"max_count"`
}

// SubscribeConfig describes the topic the agent listens on.
// An empty Topic falls back to the publish topic.
type SubscribeConfig struct {
	Topic string `yaml:"topic"`
	QoS   int    `yaml:"qos"`
}

// ReconnectConfig bounds reconnects. MaxAttempts 0 means unlimited.
type ReconnectConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// JournalConfig contains the SQLite connection journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// StatusConfig contains the local status HTTP server settings.
type StatusConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Host     string              `yaml:"host"`
	Port     int                 `yaml:"port"`
	Timeouts StatusTimeoutConfig `yaml:"timeouts"`
}

// StatusTimeoutConfig contains HTTP timeout settings in seconds.
type StatusTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Overrides are command line values applied after environment variables.
// Empty fields leave the loaded value untouched.
type Overrides struct {
	Host         string
	ProjectID    string
	DevicePath   string
	PublishTopic string
	Message      string
	KeyPath      string
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: IOTC_SECTION_KEY
// For example: IOTC_PROJECT_ID, IOTC_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for none
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, Overrides{})
}

// LoadWithOverrides is Load with command line overrides applied last.
func LoadWithOverrides(path string, o Overrides) (*Config, error) {
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

	applyEnvOverrides(cfg)
	cfg.apply(o)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:           "mqtt.googleapis.com",
			Port:           8883,
			TLS:            true,
			Username:       "unused",
			ConnectTimeout: 10,
			KeepAlive:      20,
		},
		Key: KeyConfig{
			Path:      "ec_private.pem",
			MaxSize:   256,
			Algorithm: "ES256",
			Encoding:  "PEM",
		},
		Credential: CredentialConfig{
			TTL:           3600,
			RefreshMargin: 60,
			MaxTokenSize:  625,
		},
		Publish: PublishConfig{
			Message: "Message",
			QoS:     1,
		},
		Subscribe: SubscribeConfig{
			QoS: 2,
		},
		Journal: JournalConfig{
			Path:        "./data/iotc-agent.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Status: StatusConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: StatusTimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Identity
	if v := os.Getenv("IOTC_PROJECT_ID"); v != "" {
		cfg.Identity.ProjectID = v
	}
	if v := os.Getenv("IOTC_DEVICE_PATH"); v != "" {
		cfg.Identity.DevicePath = v
	}

	// Broker
	if v := os.Getenv("IOTC_MQTT_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("IOTC_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = port
		}
	}

	// Key and publish
	if v := os.Getenv("IOTC_PRIVATE_KEY"); v != "" {
		cfg.Key.Path = v
	}
	if v := os.Getenv("IOTC_PUBLISH_TOPIC"); v != "" {
		cfg.Publish.Topic = v
	}

	// InfluxDB
	if v := os.Getenv("IOTC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

func (c *Config) apply(o Overrides) {
	if o.Host != "" {
		c.Broker.Host = o.Host
	}
	if o.ProjectID != "" {
		c.Identity.ProjectID = o.ProjectID
	}
	if o.DevicePath != "" {
		c.Identity.DevicePath = o.DevicePath
	}
	if o.PublishTopic != "" {
		c.Publish.Topic = o.PublishTopic
	}
	if o.Message != "" {
		c.Publish.Message = o.Message
	}
	if o.KeyPath != "" {
		c.Key.Path = o.KeyPath
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: wrapping ErrInvalid and listing every problem, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Identity validation
	if c.Identity.ProjectID == "" {
		errs = append(errs, "identity.project_id is required (-p or IOTC_PROJECT_ID)")
	}
	if c.Identity.DevicePath == "" {
		errs = append(errs, "identity.device_path is required (-d or IOTC_DEVICE_PATH)")
	}
	if c.Publish.Topic == "" {
		errs = append(errs, "publish.topic is required (-t or IOTC_PUBLISH_TOPIC)")
	}

	// Broker validation
	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if c.Broker.ConnectTimeout < 1 {
		errs = append(errs, "broker.connect_timeout must be at least 1 second")
	}
	if c.Broker.KeepAlive < 0 {
		errs = append(errs, "broker.keepalive cannot be negative")
	}

	// Key validation
	if c.Key.Path == "" {
		errs = append(errs, "key.path is required")
	}
	if c.Key.MaxSize < 1 {
		errs = append(errs, "key.max_size must be positive")
	}
	switch c.Key.Algorithm {
	case "ES256", "RS256":
	default:
		errs = append(errs, "key.algorithm must be ES256 or RS256")
	}
	if c.Key.Encoding != "PEM" {
		errs = append(errs, "key.encoding must be PEM")
	}

	// Credential validation
	if c.Credential.TTL < 1 {
		errs = append(errs, "credential.ttl must be at least 1 second")
	}
	if c.Credential.RefreshMargin < 0 || c.Credential.RefreshMargin >= c.Credential.TTL {
		errs = append(errs, "credential.refresh_margin must be between 0 and credential.ttl")
	}
	if c.Credential.MaxTokenSize < 1 {
		errs = append(errs, "credential.max_token_size must be positive")
	}

	// Publish and subscribe validation
	if c.Publish.QoS < 0 || c.Publish.QoS > 2 {
		errs = append(errs, "publish.qos must be 0, 1, or 2")
	}
	if c.Publish.Interval < 0 {
		errs = append(errs, "publish.interval cannot be negative")
	}
	if c.Publish.MaxCount < 0 {
		errs = append(errs, "publish.max_count cannot be negative")
	}
	if c.Subscribe.QoS < 0 || c.Subscribe.QoS > 2 {
		errs = append(errs, "subscribe.qos must be 0, 1, or 2")
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "reconnect.max_attempts cannot be negative")
	}

	// Optional subsystems
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}
	if c.Status.Enabled && (c.Status.Port < 1 || c.Status.Port > 65535) {
		errs = append(errs, "status.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}

	return nil
}

// SubscribeTopic returns the subscription topic, defaulting to the publish topic.
func (c *Config) SubscribeTopic() string {
	if c.Subscribe.Topic != "" {
		return c.Subscribe.Topic
	}
	return c.Publish.Topic
}

// GetConnectTimeout returns the broker connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Broker.ConnectTimeout) * time.Second
}

// GetKeepAlive returns the broker keepalive interval as a Duration.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.Broker.KeepAlive) * time.Second
}

// GetCredentialTTL returns the credential lifetime as a Duration.
func (c *Config) GetCredentialTTL() time.Duration {
	return time.Duration(c.Credential.TTL) * time.Second
}

// GetRefreshMargin returns the credential refresh margin as a Duration.
func (c *Config) GetRefreshMargin() time.Duration {
	return time.Duration(c.Credential.RefreshMargin) * time.Second
}

// GetPublishInterval returns the recurring publish interval as a Duration.
func (c *Config) GetPublishInterval() time.Duration {
	return time.Duration(c.Publish.Interval) * time.Second
}

// GetReadTimeout returns the status server read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Status.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the status server write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Status.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the status server idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Status.Timeouts.Idle) * time.Second
}
