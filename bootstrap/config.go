// File: bootstrap/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-pipeline/api"
)

// Config holds the settings of a server or client process.
type Config struct {
	Transport       string        `yaml:"transport"`   // "tcp" or "local"
	ListenAddr      string        `yaml:"listen"`      // host:port, multiaddr or local:name
	Workers         int           `yaml:"workers"`     // event loops, 0 means one per CPU
	ReadSize        int           `yaml:"readSize"`    // bytes allocated per socket read
	MaxFrame        int           `yaml:"maxFrame"`    // largest accepted length-prefixed frame
	Compression     string        `yaml:"compression"` // none, lz4 or zstd
	ReadTimeout     time.Duration `yaml:"readTimeout"` // 0 disables the idle check
	RateLimit       int           `yaml:"rateLimit"`   // inbound bytes per second, 0 is unlimited
	PinCPUs         bool          `yaml:"pinCPUs"`
	MetricsAddr     string        `yaml:"metrics"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport:       "tcp",
		ListenAddr:      "127.0.0.1:7000",
		ReadSize:        16 << 10,
		MaxFrame:        1 << 20,
		Compression:     "none",
		ShutdownTimeout: 5 * time.Second,
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Transport {
	case "tcp", "local":
	default:
		return api.Errorf(api.ErrCodeInvalidArgument, "unknown transport %q", c.Transport)
	}
	if c.Workers < 0 {
		return api.Errorf(api.ErrCodeInvalidArgument, "workers must not be negative: %d", c.Workers)
	}
	if c.ReadSize <= 0 {
		return api.Errorf(api.ErrCodeInvalidArgument, "readSize must be positive: %d", c.ReadSize)
	}
	if c.MaxFrame <= 0 {
		return api.Errorf(api.ErrCodeInvalidArgument, "maxFrame must be positive: %d", c.MaxFrame)
	}
	if c.ReadTimeout < 0 || c.RateLimit < 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "readTimeout and rateLimit must not be negative")
	}
	if _, err := ParseAddress(c.ListenAddr); err != nil {
		return err
	}
	return nil
}
