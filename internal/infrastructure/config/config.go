package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Overflow policies for the outbound message queue.
const (
	// OverflowDropOldest discards the oldest queued message to make room.
	OverflowDropOldest = "drop_oldest"

	// OverflowDropNewest discards the incoming message when the queue is full.
	OverflowDropNewest = "drop_newest"
)

// Config is the root configuration structure for the Gray Logic gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Topics   TopicsConfig   `yaml:"topics"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite settings for the message journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays prunes journal entries older than this. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	Session   MQTTSessionConfig   `yaml:"session"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Queue     MQTTQueueConfig     `yaml:"queue"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTSessionConfig contains per-connection session settings.
type MQTTSessionConfig struct {
	// KeepAlive is the keep-alive period in seconds.
	KeepAlive int `yaml:"keep_alive"`

	// CleanSession discards broker-side session state on connect.
	CleanSession bool `yaml:"clean_session"`

	// ConnectTimeout is the per-attempt connect timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// PublishTimeout bounds how long a single publish waits for acknowledgement, in seconds.
	PublishTimeout int `yaml:"publish_timeout"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	Enabled bool `yaml:"enabled"`

	// Delay is the fixed wait between reconnect attempts, in seconds.
	Delay int `yaml:"delay"`

	// MaxAttempts limits reconnect attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`

	// MaxRetryAttempts limits how often a QoS 1/2 message is re-sent after
	// a failed delivery before it is dropped.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`
}

// MQTTQueueConfig contains outbound queue settings.
type MQTTQueueConfig struct {
	MaxPending     int    `yaml:"max_pending"`
	OverflowPolicy string `yaml:"overflow_policy"`
}

// TopicsConfig contains the topic prefixes used to build gateway topics.
type TopicsConfig struct {
	Devices     string `yaml:"devices"`
	System      string `yaml:"system"`
	Energy      string `yaml:"energy"`
	Automation  string `yaml:"automation"`
	Maintenance string `yaml:"maintenance"`
	Security    string `yaml:"security"`
	Weather     string `yaml:"weather"`
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

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_MQTT_HOST, GRAYLOGIC_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-gateway",
			},
			Session: MQTTSessionConfig{
				KeepAlive:      60,
				CleanSession:   true,
				ConnectTimeout: 10,
				PublishTimeout: 5,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				Enabled:          true,
				Delay:            5,
				MaxAttempts:      0,
				MaxRetryAttempts: 3,
			},
			Queue: MQTTQueueConfig{
				MaxPending:     1000,
				OverflowPolicy: OverflowDropOldest,
			},
		},
		Topics: DefaultTopics(),
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/gateway.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Address: ":9102",
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// DefaultTopics returns the default topic prefixes.
func DefaultTopics() TopicsConfig {
	return TopicsConfig{
		Devices:     "devices",
		System:      "system",
		Energy:      "energy",
		Automation:  "automation",
		Maintenance: "maintenance",
		Security:    "security",
		Weather:     "weather",
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Queue.MaxPending < 1 {
		errs = append(errs, "mqtt.queue.max_pending must be at least 1")
	}
	switch c.MQTT.Queue.OverflowPolicy {
	case OverflowDropOldest, OverflowDropNewest:
	default:
		errs = append(errs, fmt.Sprintf("mqtt.queue.overflow_policy must be %q or %q", OverflowDropOldest, OverflowDropNewest))
	}
	if c.MQTT.Reconnect.Delay < 0 || c.MQTT.Reconnect.MaxAttempts < 0 || c.MQTT.Reconnect.MaxRetryAttempts < 0 {
		errs = append(errs, "mqtt.reconnect values must not be negative")
	}

	// Topic prefixes must be usable as leading topic segments
	for name, prefix := range map[string]string{
		"devices":     c.Topics.Devices,
		"system":      c.Topics.System,
		"energy":      c.Topics.Energy,
		"automation":  c.Topics.Automation,
		"maintenance": c.Topics.Maintenance,
		"security":    c.Topics.Security,
		"weather":     c.Topics.Weather,
	} {
		if prefix == "" {
			errs = append(errs, fmt.Sprintf("topics.%s is required", name))
		} else if strings.ContainsAny(prefix, "+#\x00") {
			errs = append(errs, fmt.Sprintf("topics.%s must not contain wildcards", name))
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		// Map iteration above is unordered; keep messages stable.
		sort.Strings(errs)
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// KeepAlive returns the keep-alive period as a Duration.
func (c MQTTConfig) KeepAlive() time.Duration {
	return time.Duration(c.Session.KeepAlive) * time.Second
}

// ConnectTimeout returns the per-attempt connect timeout as a Duration.
func (c MQTTConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.Session.ConnectTimeout) * time.Second
}

// PublishTimeout returns the publish acknowledgement timeout as a Duration.
func (c MQTTConfig) PublishTimeout() time.Duration {
	return time.Duration(c.Session.PublishTimeout) * time.Second
}

// ReconnectDelay returns the fixed reconnect delay as a Duration.
func (c MQTTConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.Reconnect.Delay) * time.Second
}

// Retention returns the journal retention window, or 0 to keep everything.
func (c DatabaseConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// BrokerAddress returns host:port for logging.
func (c MQTTConfig) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.Broker.Host, c.Broker.Port)
}
