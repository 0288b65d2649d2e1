// Package config loads the local operator configuration: broker
// address, client identity, and the serial port the data acquisition
// service should open.
package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for one tinymq client instance.
type Config struct {
	ClientID   string `yaml:"client_id"`
	BrokerHost string `yaml:"broker_host"`
	BrokerPort int    `yaml:"broker_port"`

	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`

	StorePath string `yaml:"store_path"`
	Verbose   bool   `yaml:"verbose"`
}

// Load reads a YAML config file, expands environment variables, and
// applies defaults for any unset field. A missing ClientID is filled
// with a freshly generated UUID so the caller never needs to branch on
// first-run versus established identity.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration suitable for a first run against a
// locally running broker, with a freshly generated client id.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Save writes cfg to path as YAML, creating or truncating the file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	if c.BrokerHost == "" {
		c.BrokerHost = "localhost"
	}
	if c.BrokerPort == 0 {
		c.BrokerPort = 9000
	}
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.StorePath == "" {
		c.StorePath = "tinymq.db"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.BrokerPort < 1 || c.BrokerPort > 65535 {
		return fmt.Errorf("broker_port %d out of range (1-65535)", c.BrokerPort)
	}
	if c.BaudRate < 1 {
		return fmt.Errorf("baud_rate must be positive, got %d", c.BaudRate)
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id must not be empty")
	}
	return nil
}
