// Package config loads the daemon configuration.
//
// Settings come from a YAML file, then SMSIN_* environment variables
// override individual fields. Defaults are applied before the environment
// so an override always wins.
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

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// StoreConfig selects the segment store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema"`
}

// InboundConfig holds pipeline settings.
type InboundConfig struct {
	ReceiveDisabled   bool          `yaml:"receive_disabled"`
	ReleaseDelay      time.Duration `yaml:"release_delay"`
	SlowThreshold     time.Duration `yaml:"slow_threshold"`
	StoreTimeout      time.Duration `yaml:"store_timeout"`
	Strict            bool          `yaml:"strict"`
	DefaultSubscriber string        `yaml:"default_subscriber"`
	DataPorts         []int         `yaml:"data_ports"`
	LinkActivity      time.Duration `yaml:"link_activity"`
}

// RecoveryConfig holds recovery sweep settings.
type RecoveryConfig struct {
	PartialExpiry time.Duration `yaml:"partial_expiry"`
}

// MQTTConfig holds MQTT transport settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	UseTLS      bool   `yaml:"use_tls"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	GatewayID   string `yaml:"gateway_id"`
	Publish     bool   `yaml:"publish"`
}

// SerialConfig holds modem link settings.
type SerialConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// SMPPConfig holds SMPP receiver settings.
type SMPPConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	SystemID    string        `yaml:"system_id"`
	Password    string        `yaml:"password"`
	SystemType  string        `yaml:"system_type"`
	EnquireLink time.Duration `yaml:"enquire_link"`
}

// HTTPConfig holds the metrics and WebSocket listener settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	MetricsPath     string        `yaml:"metrics_path"`
	WebSocketPath   string        `yaml:"websocket_path"`
	OriginPatterns  []string      `yaml:"origin_patterns"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config is the complete daemon configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Inbound  InboundConfig  `yaml:"inbound"`
	Recovery RecoveryConfig `yaml:"recovery"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Serial   SerialConfig   `yaml:"serial"`
	SMPP     SMPPConfig     `yaml:"smpp"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// Load reads path, applies defaults and environment overrides, and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.setDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Inbound.DefaultSubscriber == "" {
		c.Inbound.DefaultSubscriber = "mqtt"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9108"
	}
	if c.HTTP.MetricsPath == "" {
		c.HTTP.MetricsPath = "/metrics"
	}
	if c.HTTP.WebSocketPath == "" {
		c.HTTP.WebSocketPath = "/ws"
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
}

func (c *Config) applyEnv() {
	c.Log.Level = envString("SMSIN_LOG_LEVEL", c.Log.Level)

	c.Store.Driver = envString("SMSIN_STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = envString("SMSIN_STORE_DSN", c.Store.DSN)
	c.Store.Schema = envString("SMSIN_STORE_SCHEMA", c.Store.Schema)

	c.Inbound.ReceiveDisabled = envBool("SMSIN_RECEIVE_DISABLED", c.Inbound.ReceiveDisabled)
	c.Inbound.ReleaseDelay = envDuration("SMSIN_RELEASE_DELAY", c.Inbound.ReleaseDelay)
	c.Inbound.SlowThreshold = envDuration("SMSIN_SLOW_THRESHOLD", c.Inbound.SlowThreshold)
	c.Inbound.DefaultSubscriber = envString("SMSIN_DEFAULT_SUBSCRIBER", c.Inbound.DefaultSubscriber)
	c.Inbound.LinkActivity = envDuration("SMSIN_LINK_ACTIVITY", c.Inbound.LinkActivity)
	c.Recovery.PartialExpiry = envDuration("SMSIN_PARTIAL_EXPIRY", c.Recovery.PartialExpiry)

	c.MQTT.Enabled = envBool("SMSIN_MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Broker = envString("SMSIN_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Username = envString("SMSIN_MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = envString("SMSIN_MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.GatewayID = envString("SMSIN_MQTT_GATEWAY_ID", c.MQTT.GatewayID)

	c.Serial.Enabled = envBool("SMSIN_SERIAL_ENABLED", c.Serial.Enabled)
	c.Serial.Port = envString("SMSIN_SERIAL_PORT", c.Serial.Port)
	c.Serial.BaudRate = envInt("SMSIN_SERIAL_BAUD", c.Serial.BaudRate)

	c.SMPP.Enabled = envBool("SMSIN_SMPP_ENABLED", c.SMPP.Enabled)
	c.SMPP.Addr = envString("SMSIN_SMPP_ADDR", c.SMPP.Addr)
	c.SMPP.SystemID = envString("SMSIN_SMPP_SYSTEM_ID", c.SMPP.SystemID)
	c.SMPP.Password = envString("SMSIN_SMPP_PASSWORD", c.SMPP.Password)

	c.HTTP.Addr = envString("SMSIN_HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.OriginPatterns = envCSV("SMSIN_HTTP_ORIGINS", c.HTTP.OriginPatterns)
}

// Validate checks that the enabled components are fully configured.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required"))
		}
		if c.MQTT.GatewayID == "" {
			errs = append(errs, errors.New("mqtt.gateway_id is required"))
		}
	}
	if c.Serial.Enabled && c.Serial.Port == "" {
		errs = append(errs, errors.New("serial.port is required"))
	}
	if c.SMPP.Enabled {
		if c.SMPP.Addr == "" {
			errs = append(errs, errors.New("smpp.addr is required"))
		}
		if c.SMPP.SystemID == "" {
			errs = append(errs, errors.New("smpp.system_id is required"))
		}
	}
	if !c.MQTT.Enabled && !c.Serial.Enabled && !c.SMPP.Enabled {
		errs = append(errs, errors.New("no transport enabled"))
	}
	if c.Inbound.ReleaseDelay < 0 || c.Inbound.SlowThreshold < 0 || c.Recovery.PartialExpiry < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}

	return errors.Join(errs...)
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
