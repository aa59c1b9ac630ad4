package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read outside the YAML file.
const (
	EnvConfigPath = "GRAYLOGIC_SHIMS_CONFIG"
	DefaultPath   = "configs/shims.yaml"
	envPrefix     = "GRAYLOGIC_SHIMS_"
)

// Config is the root configuration structure for the shims service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Shims     ShimsConfig     `yaml:"shims"`
	Connector ConnectorConfig `yaml:"connector"`
	Triggers  []TriggerConfig `yaml:"triggers"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     AuthConfig       `yaml:"auth"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig contains API authentication settings. An empty secret
// disables authentication.
type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// WebSocketConfig contains WebSocket hub settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// Components overrides Level per component, e.g. {connector: debug}.
	Components map[string]string `yaml:"components"`
}

// ShimsConfig contains shim engine settings.
type ShimsConfig struct {
	// PollInterval is the worker's sleep between queue drains, in milliseconds.
	PollInterval int `yaml:"poll_interval"`

	// DevicesFile seeds devices on startup. Optional.
	DevicesFile string `yaml:"devices_file"`

	DecoderDirs  []string `yaml:"decoder_dirs"`
	TemplateDirs []string `yaml:"template_dirs"`

	// HistoryRetention is how many days of state history to keep. 0 keeps everything.
	HistoryRetention int `yaml:"history_retention_days"`
}

// ConnectorConfig lists the MQTT subscriptions, grouped by message type.
type ConnectorConfig struct {
	MessageTypes []MessageTypeConfig `yaml:"message_types"`
}

// MessageTypeConfig binds topic filters to a message type.
type MessageTypeConfig struct {
	MessageType string   `yaml:"message_type"`
	Topics      []string `yaml:"topics"`
	QueueSize   int      `yaml:"queue_size"`
}

// TriggerConfig seeds a trigger at startup.
type TriggerConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	DeviceID    string `yaml:"device_id"`
	DeviceState string `yaml:"device_state"`
	Enabled     *bool  `yaml:"enabled"`
}

// Path returns the configuration file path from GRAYLOGIC_SHIMS_CONFIG,
// falling back to DefaultPath.
func Path() string {
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return DefaultPath
}

// LoadDotEnv loads variables from a .env file when one exists. Variables
// already set in the environment are not overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// A missing file is not an error: defaults and environment still apply.
// Environment variables follow the pattern GRAYLOGIC_SHIMS_SECTION_KEY,
// for example GRAYLOGIC_SHIMS_MQTT_HOST.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/shims.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-shims",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Auth: AuthConfig{AccessTokenTTL: 60},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Shims: ShimsConfig{
			PollInterval: 100,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("DATABASE_PATH", &cfg.Database.Path)
	str("MQTT_HOST", &cfg.MQTT.Broker.Host)
	num("MQTT_PORT", &cfg.MQTT.Broker.Port)
	str("MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.Auth.Password)
	str("API_HOST", &cfg.API.Host)
	num("API_PORT", &cfg.API.Port)
	str("INFLUXDB_TOKEN", &cfg.InfluxDB.Token)
	str("JWT_SECRET", &cfg.API.Auth.JWTSecret)
	str("LOG_LEVEL", &cfg.Logging.Level)
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if s := c.API.Auth.JWTSecret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "api.auth.jwt_secret must be at least 32 characters")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}
	for name, level := range c.Logging.Components {
		switch strings.ToLower(level) {
		case "debug", "info", "warn", "warning", "error":
		default:
			errs = append(errs, fmt.Sprintf("logging.components.%s: unknown level %q", name, level))
		}
	}
	if c.Shims.PollInterval <= 0 {
		errs = append(errs, "shims.poll_interval must be positive")
	}

	seen := make(map[string]bool)
	for i, mt := range c.Connector.MessageTypes {
		if mt.MessageType == "" {
			errs = append(errs, fmt.Sprintf("connector.message_types[%d].message_type is required", i))
			continue
		}
		if seen[mt.MessageType] {
			errs = append(errs, fmt.Sprintf("connector.message_types: duplicate %q", mt.MessageType))
		}
		seen[mt.MessageType] = true
		if len(mt.Topics) == 0 {
			errs = append(errs, fmt.Sprintf("connector.message_types[%d].topics is empty", i))
		}
		if mt.QueueSize < 0 {
			errs = append(errs, fmt.Sprintf("connector.message_types[%d].queue_size must not be negative", i))
		}
	}

	for i, t := range c.Triggers {
		if t.DeviceID == "" {
			errs = append(errs, fmt.Sprintf("triggers[%d].device_id is required", i))
		}
		switch t.Kind {
		case "deviceUpdated":
		case "stateUpdated":
			if t.DeviceState == "" {
				errs = append(errs, fmt.Sprintf("triggers[%d].device_state is required for stateUpdated", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("triggers[%d].kind %q is not deviceUpdated or stateUpdated", i, t.Kind))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AuthEnabled reports whether API requests must carry a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.API.Auth.JWTSecret != ""
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetPollInterval returns the worker poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Shims.PollInterval) * time.Millisecond
}

// GetAccessTokenTTL returns the API token lifetime as a Duration.
func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.API.Auth.AccessTokenTTL) * time.Minute
}
