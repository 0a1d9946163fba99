// Package config loads the TOML configuration for a socketpool-backed
// service: pool sizing, the target upstream list, and the demonstration
// proxy's listen address and rate limit. Adapted from the teacher's
// lib/core configuration loader; the socketpool package itself takes no
// dependency on configuration loading (spec.md §1/§6 place environment and
// persistence out of scope at the pool layer).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Default configuration values.
const (
	DefaultCapacity       = 64
	DefaultIdleTimeout    = 2 * time.Second
	DefaultBalancer       = "roundrobin"
	DefaultProxyListen    = "127.0.0.1:8080"
	DefaultRateLimitRPS   = 50
	DefaultRateLimitBurst = 100
)

// Config holds all configuration for a socketpoolproxy instance.
type Config struct {
	Pool      PoolConfig      `toml:"pool"`
	Proxy     ProxyConfig     `toml:"proxy"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// PoolConfig describes the pool's targets and sizing.
type PoolConfig struct {
	// Targets is the ordered list of upstream target URLs. A single
	// target needs no Balancer; more than one uses BalancerName to pick.
	Targets []TargetConfig `toml:"targets"`
	// Capacity is the advisory connection-count cap (never enforced).
	Capacity int `toml:"capacity"`
	// IdleTimeout is how long an idle socket may sit before expiry.
	IdleTimeout time.Duration `toml:"idle_timeout"`
	// BalancerName selects a Balancer implementation by name. Currently
	// only "roundrobin" is built in.
	BalancerName string `toml:"balancer"`
	// Global makes the pool a lazy-target (URL-matched) pool instead of a
	// fixed-target one; Targets is ignored when true.
	Global bool `toml:"global"`
}

// TargetConfig is one upstream target plus its balancer weight.
type TargetConfig struct {
	URL    string `toml:"url"`
	Weight int    `toml:"weight,omitempty"`
}

// ProxyConfig describes the demonstration reverse-proxy binary's listener.
type ProxyConfig struct {
	Listen string `toml:"listen"`
}

// RateLimitConfig describes the per-remote-address token bucket the proxy
// applies before a request ever reaches Pool.Acquire.
type RateLimitConfig struct {
	Enabled            bool    `toml:"enabled"`
	RequestsPerSecond  float64 `toml:"requests_per_second"`
	Burst              int     `toml:"burst"`
}

// DefaultConfig returns a Config with sensible defaults and a single
// loopback target, suitable for a quick local run.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			Targets:      []TargetConfig{{URL: "http://127.0.0.1:9000"}},
			Capacity:     DefaultCapacity,
			IdleTimeout:  DefaultIdleTimeout,
			BalancerName: DefaultBalancer,
		},
		Proxy: ProxyConfig{
			Listen: DefaultProxyListen,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: DefaultRateLimitRPS,
			Burst:             DefaultRateLimitBurst,
		},
	}
}

// LoadConfig reads configuration from a TOML file. If the file doesn't
// exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file, creating the parent
// directory if needed.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !c.Pool.Global && len(c.Pool.Targets) == 0 {
		return errors.New("pool.targets is required unless pool.global is set")
	}
	for _, t := range c.Pool.Targets {
		if t.URL == "" {
			return errors.New("pool.targets entries must have a url")
		}
	}
	if c.Pool.Capacity < 0 {
		return errors.New("pool.capacity must not be negative")
	}
	if c.Pool.IdleTimeout < 0 {
		return errors.New("pool.idle_timeout must not be negative")
	}
	if c.Proxy.Listen == "" {
		return errors.New("proxy.listen is required")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return errors.New("rate_limit.requests_per_second must be positive when enabled")
	}
	return nil
}
