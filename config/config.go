// Package config loads the service configuration from a JSON or YAML file
// with environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/rt-technologie/freightd/core/dispatch"
	"github.com/rt-technologie/freightd/core/sync"
	"github.com/rt-technologie/freightd/core/tracking"
	"github.com/rt-technologie/freightd/infra/metrics"
	"github.com/rt-technologie/freightd/infra/mqtt"
)

type Config struct {
	API      APIConfig       `json:"api"`
	Store    StoreConfig     `json:"store"`
	Dispatch dispatch.Config `json:"dispatch"`
	Tracking TrackingConfig  `json:"tracking"`
	MQTT     MQTTConfig      `json:"mqtt"`
	Metrics  MetricsConfig   `json:"metrics"`
	Redis    RedisConfig     `json:"redis"`
	Agent    AgentConfig     `json:"agent"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Addr string `json:"addr"`
}

func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// StoreConfig selects the mission/offer persistence backend.
type StoreConfig struct {
	// Path is the SQLite database file. Memory switches to the volatile
	// in-process store, for local runs only.
	Path   string `json:"path"`
	Memory bool   `json:"memory"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "freightd.db"
	}
}

// TrackingConfig configures the geofence tracker and the ETA estimator.
type TrackingConfig struct {
	DwellSeconds     int                      `json:"dwell_seconds"`
	Estimator        tracking.EstimatorConfig `json:"estimator"`
	TrafficModelPath string                   `json:"traffic_model_path"`
}

func (c *TrackingConfig) SetDefaults() {
	if c.DwellSeconds <= 0 {
		c.DwellSeconds = 30
	}
	c.Estimator.SetDefaults()
}

// MQTTConfig enables the telematics position feed.
type MQTTConfig struct {
	Enabled bool `json:"enabled"`
	mqtt.Config
}

// MetricsConfig configures the Prometheus endpoint and the optional Influx
// mirror.
type MetricsConfig struct {
	PromAddr      string               `json:"prom_addr"`
	InfluxEnabled bool                 `json:"influx_enabled"`
	Influx        metrics.InfluxConfig `json:"influx"`
}

func (c *MetricsConfig) SetDefaults() {
	if c.PromAddr == "" {
		c.PromAddr = ":9090"
	}
}

// RedisConfig enables the shared vigilance cache. Disabled, the dispatcher
// falls back to its in-process cache.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (c *RedisConfig) Validate() error {
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}
	return nil
}

// AgentConfig configures the driver-side agent and its offline outbox.
type AgentConfig struct {
	Addr      string      `json:"addr"`
	ServerURL string      `json:"server_url"`
	QueuePath string      `json:"queue_path"`
	Queue     sync.Config `json:"queue"`
}

func (c *AgentConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:7070"
	}
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:8080"
	}
	if c.QueuePath == "" {
		c.QueuePath = "outbox.db"
	}
	c.Queue.SetDefaults()
}

// Load reads the configuration at path, applies F_* environment overrides,
// then defaults and validation per section.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("F_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "f_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration usable without any config file.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills every section with its defaults.
func (c *Config) ApplyDefaults() {
	c.API.SetDefaults()
	c.Store.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Tracking.SetDefaults()
	c.MQTT.Config.SetDefaults()
	c.Metrics.SetDefaults()
	c.Agent.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if c.MQTT.Enabled {
		if err := c.MQTT.Config.Validate(); err != nil {
			return err
		}
	}
	if c.Metrics.InfluxEnabled {
		if err := c.Metrics.Influx.Validate(); err != nil {
			return err
		}
	}
	return nil
}
