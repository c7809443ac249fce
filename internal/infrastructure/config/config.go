package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "DOORLOCK_CONFIG"

// DefaultPath is used when EnvConfigPath is unset.
const DefaultPath = "configs/config.yaml"

// minJWTSecretLength is the shortest accepted API signing secret.
const minJWTSecretLength = 32

// ErrWiFiCredentials is returned when the credentials file has no SSID line.
var ErrWiFiCredentials = errors.New("config: wifi credentials file must contain an SSID line")

// Config is the root configuration structure for the door controller.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Reader   ReaderConfig   `yaml:"reader"`
	Keypad   KeypadConfig   `yaml:"keypad"`
	Door     DoorConfig     `yaml:"door"`
	Access   AccessConfig   `yaml:"access"`
	Events   EventsConfig   `yaml:"events"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Sync     SyncConfig     `yaml:"sync"`
	WiFi     WiFiConfig     `yaml:"wifi"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig identifies this controller.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ReaderConfig contains the PN532 serial link settings.
type ReaderConfig struct {
	Port         string        `yaml:"port"`
	Baud         int           `yaml:"baud"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// AID is the phone app's application identifier, hex encoded.
	AID string `yaml:"aid"`
}

// KeypadConfig contains the PIN pad serial link settings.
type KeypadConfig struct {
	Port         string        `yaml:"port"`
	Baud         int           `yaml:"baud"`
	PINTimeout   time.Duration `yaml:"pin_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DoorConfig contains lock actuator settings.
type DoorConfig struct {
	// Pin is the periph.io GPIO name (e.g. "GPIO2"). Empty disables the output.
	Pin       string `yaml:"pin"`
	ActiveLow bool   `yaml:"active_low"`

	// Hold is how long the grant/deny indication (and an unlocked door) is
	// held before relocking.
	Hold time.Duration `yaml:"hold"`

	// Dwell is the pause after relocking before the next credential.
	Dwell time.Duration `yaml:"dwell"`

	// TimeoutPause is the pause on the PIN timeout path.
	TimeoutPause time.Duration `yaml:"timeout_pause"`
}

// AccessConfig locates the authorization table.
type AccessConfig struct {
	TablePath string `yaml:"table_path"`
}

// EventsConfig bounds the outbound event queue.
type EventsConfig struct {
	Capacity int `yaml:"capacity"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// TopicPrefix is prepended to mac, command, status and events topics.
	TopicPrefix string `yaml:"topic_prefix"`

	// KeepAlive is the MQTT keepalive interval (seconds).
	KeepAlive int `yaml:"keep_alive"`

	Session MQTTSessionConfig `yaml:"session"`
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

// MQTTSessionConfig tunes the supervised messaging session.
type MQTTSessionConfig struct {
	// RetryDelay is the fixed backoff between session attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Tick is the inner loop period.
	Tick time.Duration `yaml:"tick"`

	// PingEvery is the number of ticks between keepalive checks.
	PingEvery int `yaml:"ping_every"`
}

// SyncConfig describes where authorization tables are fetched from.
type SyncConfig struct {
	URL       string        `yaml:"url"`
	ChunkSize int           `yaml:"chunk_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// WiFiConfig contains station-mode network settings.
type WiFiConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Interface       string        `yaml:"interface"`
	CredentialsFile string        `yaml:"credentials_file"`
	PollInterval    time.Duration `yaml:"poll_interval"`

	Supplicant SupplicantConfig `yaml:"supplicant"`
}

// SupplicantConfig contains settings for managing wpa_supplicant.
type SupplicantConfig struct {
	// Managed indicates whether the controller should run wpa_supplicant
	// itself. If false, association is left to the host OS.
	Managed bool `yaml:"managed"`

	// Binary is the path to the wpa_supplicant executable.
	// Default: "/usr/sbin/wpa_supplicant"
	Binary string `yaml:"binary"`

	// ConfigFile is where the generated supplicant config is written.
	ConfigFile string `yaml:"config_file"`

	// Cli is the path to wpa_cli, used for association status.
	// Default: "/usr/sbin/wpa_cli"
	Cli string `yaml:"cli"`

	RestartDelay       time.Duration `yaml:"restart_delay"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"`
}

// DatabaseConfig contains SQLite journal settings.
type DatabaseConfig struct {
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

// APIConfig contains the local maintenance API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	// JWTSecret verifies bearer tokens issued by the site server (HS256).
	JWTSecret string `yaml:"jwt_secret"`

	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP server timeouts. Write must outlast
// sync.timeout because POST /sync answers after the download.
type APITimeoutConfig struct {
	Read  time.Duration `yaml:"read"`
	Write time.Duration `yaml:"write"`
	Idle  time.Duration `yaml:"idle"`
}

// WebSocketConfig contains live feed settings.
type WebSocketConfig struct {
	MaxMessageSize int64         `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// WiFiCredentials is the network name and secret from the credentials file.
type WiFiCredentials struct {
	SSID string
	Key  string
}

// Path returns the config file path from DOORLOCK_CONFIG, or DefaultPath.
func Path() string {
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DOORLOCK_SECTION_KEY
// For example: DOORLOCK_MQTT_HOST, DOORLOCK_SYNC_URL
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with the values the hardware ships with.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:   "lock",
			Name: "Internal door",
		},
		Reader: ReaderConfig{
			Port:         "/dev/ttyS2",
			Baud:         115200,
			ReadTimeout:  time.Second,
			PollInterval: 250 * time.Millisecond,
			AID:          "A0000001020304",
		},
		Keypad: KeypadConfig{
			Port:         "/dev/ttyS1",
			Baud:         9600,
			PINTimeout:   10 * time.Second,
			PollInterval: 100 * time.Millisecond,
		},
		Door: DoorConfig{
			Pin:          "GPIO2",
			Hold:         2 * time.Second,
			Dwell:        2 * time.Second,
			TimeoutPause: 500 * time.Millisecond,
		},
		Access: AccessConfig{
			TablePath: "./data/hashes",
		},
		Events: EventsConfig{
			Capacity: 256,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "10.11.1.1",
				Port:     1883,
				ClientID: "lock",
			},
			QoS:         0,
			TopicPrefix: "locks/internal",
			KeepAlive:   5,
			Session: MQTTSessionConfig{
				RetryDelay: 6 * time.Second,
				Tick:       250 * time.Millisecond,
				PingEvery:  10,
			},
		},
		Sync: SyncConfig{
			URL:       "http://10.11.1.1:8000/hashes/internal",
			ChunkSize: 512,
			Timeout:   30 * time.Second,
		},
		WiFi: WiFiConfig{
			Enabled:         true,
			Interface:       "wlan0",
			CredentialsFile: "./wifi",
			PollInterval:    500 * time.Millisecond,
			Supplicant: SupplicantConfig{
				Binary:             "/usr/sbin/wpa_supplicant",
				Cli:                "/usr/sbin/wpa_cli",
				ConfigFile:         "./data/wpa_supplicant.conf",
				RestartDelay:       5 * time.Second,
				MaxRestartAttempts: 0,
			},
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/doorlock.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  10 * time.Second,
				Write: 45 * time.Second,
				Idle:  60 * time.Second,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30 * time.Second,
				PongTimeout:    10 * time.Second,
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
// Environment variables follow the pattern: DOORLOCK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Serial devices
	if v := os.Getenv("DOORLOCK_READER_PORT"); v != "" {
		cfg.Reader.Port = v
	}
	if v := os.Getenv("DOORLOCK_KEYPAD_PORT"); v != "" {
		cfg.Keypad.Port = v
	}

	// Door
	if v := os.Getenv("DOORLOCK_DOOR_PIN"); v != "" {
		cfg.Door.Pin = v
	}

	// Access
	if v := os.Getenv("DOORLOCK_ACCESS_TABLE_PATH"); v != "" {
		cfg.Access.TablePath = v
	}

	// MQTT
	if v := os.Getenv("DOORLOCK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DOORLOCK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("DOORLOCK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DOORLOCK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("DOORLOCK_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}

	// Sync
	if v := os.Getenv("DOORLOCK_SYNC_URL"); v != "" {
		cfg.Sync.URL = v
	}

	// Database
	if v := os.Getenv("DOORLOCK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("DOORLOCK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("DOORLOCK_API_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}

	// Logging
	if v := os.Getenv("DOORLOCK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}

	if c.Reader.Port == "" {
		errs = append(errs, "reader.port is required")
	}
	if c.Reader.Baud <= 0 {
		errs = append(errs, "reader.baud must be positive")
	}
	if c.Keypad.Port == "" {
		errs = append(errs, "keypad.port is required")
	}
	if c.Keypad.Baud <= 0 {
		errs = append(errs, "keypad.baud must be positive")
	}
	if c.Keypad.PINTimeout <= 0 {
		errs = append(errs, "keypad.pin_timeout must be positive")
	}

	if c.Access.TablePath == "" {
		errs = append(errs, "access.table_path is required")
	}
	if c.Events.Capacity < 1 {
		errs = append(errs, "events.capacity must be at least 1")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix is required and must not contain wildcards")
	}
	if c.MQTT.Session.RetryDelay <= 0 {
		errs = append(errs, "mqtt.session.retry_delay must be positive")
	}

	if c.Sync.URL == "" {
		errs = append(errs, "sync.url is required")
	}
	if c.Sync.ChunkSize < 1 {
		errs = append(errs, "sync.chunk_size must be at least 1")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if len(c.API.JWTSecret) < minJWTSecretLength {
			errs = append(errs, fmt.Sprintf("api.jwt_secret must be at least %d characters", minJWTSecretLength))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// LoadWiFiCredentials reads the two-line credentials file: network name,
// then secret. A missing second line means an open network.
func LoadWiFiCredentials(path string) (WiFiCredentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return WiFiCredentials{}, fmt.Errorf("opening wifi credentials: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(lines) < 2 {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return WiFiCredentials{}, fmt.Errorf("reading wifi credentials: %w", err)
	}

	if len(lines) == 0 || lines[0] == "" {
		return WiFiCredentials{}, ErrWiFiCredentials
	}
	creds := WiFiCredentials{SSID: lines[0]}
	if len(lines) > 1 {
		creds.Key = lines[1]
	}
	return creds, nil
}
