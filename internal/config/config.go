package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall daemon configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Ack     AckConfig     `yaml:"ack"`
	Archive ArchiveConfig `yaml:"archive"`
	// LogLevel overrides SUBTRONIC_LOG_LEVEL when set.
	LogLevel string `yaml:"log_level"`
}

// ServerConfig holds the HTTP API configuration.
type ServerConfig struct {
	Host            string  `yaml:"host"`
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// MQTTConfig holds the broker connection configuration.
type MQTTConfig struct {
	BrokerURL             string        `yaml:"broker_url"`
	ClientID              string        `yaml:"client_id"`
	Username              string        `yaml:"username"`
	Password              string        `yaml:"password"`
	QoS                   byte          `yaml:"qos"`
	PublishTimeoutSeconds int           `yaml:"publish_timeout_seconds"`
	PublishTimeout        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// AckConfig holds the acknowledgment tracking configuration.
type AckConfig struct {
	TimeoutSeconds       int           `yaml:"timeout_seconds"`
	SweepIntervalSeconds int           `yaml:"sweep_interval_seconds"`
	RetentionHours       int           `yaml:"retention_hours"`
	Timeout              time.Duration `yaml:"-"`
	SweepInterval        time.Duration `yaml:"-"`
	Retention            time.Duration `yaml:"-"`
}

// ArchiveConfig holds the delivered-settings archive configuration.
type ArchiveConfig struct {
	// Dir is the directory delivered frames are archived to. Empty
	// disables archival.
	Dir string `yaml:"dir"`
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 3001
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}

	if cfg.MQTT.BrokerURL == "" {
		cfg.MQTT.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "subtronicd"
	}
	if cfg.MQTT.QoS > 2 {
		cfg.MQTT.QoS = 1
	}
	if cfg.MQTT.PublishTimeoutSeconds <= 0 {
		cfg.MQTT.PublishTimeoutSeconds = 10
	}
	cfg.MQTT.PublishTimeout = time.Duration(cfg.MQTT.PublishTimeoutSeconds) * time.Second

	if cfg.Ack.TimeoutSeconds <= 0 {
		cfg.Ack.TimeoutSeconds = 30
	}
	if cfg.Ack.SweepIntervalSeconds <= 0 {
		cfg.Ack.SweepIntervalSeconds = 1
	}
	if cfg.Ack.RetentionHours <= 0 {
		cfg.Ack.RetentionHours = 24
	}
	cfg.Ack.Timeout = time.Duration(cfg.Ack.TimeoutSeconds) * time.Second
	cfg.Ack.SweepInterval = time.Duration(cfg.Ack.SweepIntervalSeconds) * time.Second
	cfg.Ack.Retention = time.Duration(cfg.Ack.RetentionHours) * time.Hour
}

// Addr returns the host:port the HTTP API listens on.
func (cfg *Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
}
