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

// Config is the root configuration structure for the homeapp node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	OTA         OTAConfig         `yaml:"ota"`
	Temperature TemperatureConfig `yaml:"temperature"`
	Events      EventsConfig      `yaml:"events"`
	Indicator   IndicatorConfig   `yaml:"indicator"`
	Clock       ClockConfig       `yaml:"clock"`
}

// DeviceConfig identifies this node on the message bus.
type DeviceConfig struct {
	// Name is the device name used as the second topic level.
	Name string `yaml:"name"`

	// TopicPrefix is the first topic level (e.g., "home").
	TopicPrefix string `yaml:"topic_prefix"`

	// HardwareID is the MAC-style hardware identifier ("24:6f:28:aa:bb:cc").
	// If empty, the first non-loopback network interface is used.
	HardwareID string `yaml:"hardware_id"`

	// Interface restricts hardware id detection to a named interface.
	Interface string `yaml:"interface"`
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
	CAFile   string `yaml:"ca_file"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// OTAConfig contains firmware update settings.
type OTAConfig struct {
	// BaseURL is joined with the requested image name to form the download URL.
	BaseURL string `yaml:"base_url"`

	// CAFile is the PEM bundle used to validate the update server certificate.
	// If empty, the system roots are used.
	CAFile string `yaml:"ca_file"`

	// RecvTimeout bounds every network read of an update session.
	RecvTimeout time.Duration `yaml:"recv_timeout"`

	// SlotDir holds the A/B image slots and the otadata file.
	SlotDir string `yaml:"slot_dir"`

	// RebootDelay is the pause between the final status event and the restart.
	RebootDelay time.Duration `yaml:"reboot_delay"`

	// RebootCommand is executed to restart the device.
	RebootCommand []string `yaml:"reboot_command"`

	// RollbackGrace is how long a freshly booted image must run before it is
	// marked valid.
	RollbackGrace time.Duration `yaml:"rollback_grace"`
}

// TemperatureConfig contains one-wire temperature polling settings.
type TemperatureConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Bus            string        `yaml:"bus"` // one-wire bus name, empty for the first registered bus
	MaxSensors     int           `yaml:"max_sensors"`
	ResolutionBits int           `yaml:"resolution_bits"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// EventsConfig contains event queue and reporting settings.
type EventsConfig struct {
	QueueSize          int           `yaml:"queue_size"`
	StatisticsInterval time.Duration `yaml:"statistics_interval"`
}

// IndicatorConfig contains the activity LED settings.
type IndicatorConfig struct {
	// Pin is the GPIO name (e.g., "GPIO17"). Empty disables the indicator.
	Pin string `yaml:"pin"`
}

// ClockConfig contains wall clock settings.
type ClockConfig struct {
	// MinEpoch is the unix time below which the clock is considered unsynced.
	MinEpoch int64 `yaml:"min_epoch"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. .env file in the working directory, if present
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: HOMEAPP_SECTION_KEY
// For example: HOMEAPP_DEVICE_NAME, HOMEAPP_OTA_BASE_URL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// A missing .env is the normal case on deployed devices.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:        "homeapp",
			TopicPrefix: "home",
		},
		Database: DatabaseConfig{
			Path:        "./data/homeapp.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
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
		OTA: OTAConfig{
			RecvTimeout:   5 * time.Second,
			SlotDir:       "./data/slots",
			RebootDelay:   time.Second,
			RebootCommand: []string{"systemctl", "reboot"},
			RollbackGrace: 60 * time.Second,
		},
		Temperature: TemperatureConfig{
			Enabled:        true,
			MaxSensors:     4,
			ResolutionBits: 12,
			PollInterval:   10 * time.Second,
		},
		Events: EventsConfig{
			QueueSize:          32,
			StatisticsInterval: 15 * time.Minute,
		},
		Clock: ClockConfig{
			MinEpoch: 1672531200, // 2023-01-01T00:00:00Z
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HOMEAPP_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("HOMEAPP_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}
	if v := os.Getenv("HOMEAPP_DEVICE_HARDWARE_ID"); v != "" {
		cfg.Device.HardwareID = v
	}

	// Database
	if v := os.Getenv("HOMEAPP_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HOMEAPP_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HOMEAPP_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HOMEAPP_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HOMEAPP_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("HOMEAPP_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// OTA
	if v := os.Getenv("HOMEAPP_OTA_BASE_URL"); v != "" {
		cfg.OTA.BaseURL = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Name == "" {
		errs = append(errs, "device.name is required")
	}
	if c.Device.TopicPrefix == "" {
		errs = append(errs, "device.topic_prefix is required")
	}
	if strings.ContainsAny(c.Device.Name+c.Device.TopicPrefix, "+#") {
		errs = append(errs, "device.name and device.topic_prefix must not contain MQTT wildcards")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.OTA.SlotDir == "" {
		errs = append(errs, "ota.slot_dir is required")
	}
	if c.OTA.RebootDelay <= 0 {
		errs = append(errs, "ota.reboot_delay must be positive")
	}
	if c.OTA.RecvTimeout <= 0 {
		errs = append(errs, "ota.recv_timeout must be positive")
	}

	if c.Temperature.Enabled {
		if c.Temperature.MaxSensors < 1 {
			errs = append(errs, "temperature.max_sensors must be at least 1")
		}
		if c.Temperature.ResolutionBits < 9 || c.Temperature.ResolutionBits > 12 {
			errs = append(errs, "temperature.resolution_bits must be between 9 and 12")
		}
		if c.Temperature.PollInterval <= 0 {
			errs = append(errs, "temperature.poll_interval must be positive")
		}
	}

	if c.Events.QueueSize < 1 {
		errs = append(errs, "events.queue_size must be at least 1")
	}
	if c.Events.StatisticsInterval <= 0 {
		errs = append(errs, "events.statistics_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
