// Package config loads the YAML container configuration lymphd starts
// from: service identity, registry endpoints, transport binding, and log
// level.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML document lymphd reads at startup.
type Config struct {
	Node     string         `yaml:"node"`
	IP       string         `yaml:"ip"`
	Port     int            `yaml:"port"`
	LogLevel string         `yaml:"log_level"`
	Registry RegistryConfig `yaml:"registry"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// RegistryConfig configures the etcd-backed service registry.
type RegistryConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	TTL         time.Duration `yaml:"ttl"`
}

// MonitorConfig configures the periodic stats publisher.
type MonitorConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Interval time.Duration `yaml:"interval"`
}

func (c *Config) withDefaults() *Config {
	if c.IP == "" {
		c.IP = "127.0.0.1"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Registry.Endpoints) == 0 {
		c.Registry.Endpoints = []string{"127.0.0.1:2379"}
	}
	if c.Registry.DialTimeout == 0 {
		c.Registry.DialTimeout = 5 * time.Second
	}
	if c.Registry.TTL == 0 {
		c.Registry.TTL = 10 * time.Second
	}
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 2 * time.Second
	}
	return c
}

// Load reads and parses the YAML config at path, filling in defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return c.withDefaults(), nil
}
