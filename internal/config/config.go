// Package config loads and validates the YAML configuration for the SOCKS5
// proxy listener, the way the teacher proxy's config.go loads its YAML
// proxy-entry list.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the proxy process.
type Config struct {
	// Host is the address the listener binds. Empty defaults to 127.0.0.1.
	Host string `yaml:"host"`
	// Port is the listener's TCP port. Zero defaults to 8789.
	Port int `yaml:"port"`
	// Backlog is the listen(2) backlog. Zero defaults to 256.
	Backlog int `yaml:"backlog"`

	// SessionBufferBytes sizes each direction's relay buffer. Must be
	// >= 2048; zero defaults to 2048.
	SessionBufferBytes int `yaml:"session_buffer_bytes"`

	// KeepAliveSeconds is the TCP keepalive idle time applied to both the
	// client and upstream sockets. Zero defaults to 60.
	KeepAliveSeconds int `yaml:"keepalive_seconds"`

	// DNSTimeoutSeconds bounds the domain-name resolution the request
	// phase performs for ATYP=Domain. Zero defaults to 10.
	DNSTimeoutSeconds int `yaml:"dns_timeout_seconds"`

	// LogLevel is one of "error", "info" (default), "debug".
	LogLevel string `yaml:"log_level"`
}

const (
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 8789
	DefaultBacklog           = 256
	DefaultSessionBufferSize = 2048
	DefaultKeepAliveSeconds  = 60
	DefaultDNSTimeoutSeconds = 10
)

// Load reads and validates the YAML configuration file at path, applying
// defaults for any field left zero.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Backlog == 0 {
		c.Backlog = DefaultBacklog
	}
	if c.SessionBufferBytes == 0 {
		c.SessionBufferBytes = DefaultSessionBufferSize
	}
	if c.KeepAliveSeconds == 0 {
		c.KeepAliveSeconds = DefaultKeepAliveSeconds
	}
	if c.DNSTimeoutSeconds == 0 {
		c.DNSTimeoutSeconds = DefaultDNSTimeoutSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range (1-65535)", c.Port)
	}
	if c.Backlog < 1 {
		return fmt.Errorf("config: backlog must be positive, got %d", c.Backlog)
	}
	if c.SessionBufferBytes < 2048 {
		return fmt.Errorf("config: session_buffer_bytes must be >= 2048, got %d", c.SessionBufferBytes)
	}
	switch c.LogLevel {
	case "error", "info", "debug":
	default:
		return fmt.Errorf("config: log_level %q is not one of error|info|debug", c.LogLevel)
	}
	return nil
}

// KeepAlive returns the configured keepalive idle duration.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// DNSTimeout returns the configured DNS resolution timeout.
func (c *Config) DNSTimeout() time.Duration {
	return time.Duration(c.DNSTimeoutSeconds) * time.Second
}
