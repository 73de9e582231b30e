// Package config defines the engine configuration and provides validation
// helpers. Fields are populated from a TOML file and then optionally
// overridden by ODDSPOOL_* environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Market   MarketConfig   `toml:"market"`
	Admin    AdminConfig    `toml:"admin"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         string        `toml:"port"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	IdleTimeout  time.Duration `toml:"idle_timeout"`
	EnableWS     bool          `toml:"enable_ws"`
}

// DatabaseConfig holds the PostgreSQL connection URL. Empty means the
// in-memory store (development only).
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// RedisConfig holds the cache connection. Empty URL disables the cache.
type RedisConfig struct {
	URL      string        `toml:"url"`
	CacheTTL time.Duration `toml:"cache_ttl"`
}

// MarketConfig holds settlement policy knobs.
type MarketConfig struct {
	// LeverageSet is the permitted leverage multipliers.
	LeverageSet []uint8 `toml:"leverage_set"`
	// OnePosition scopes the position gate: "global" or "per_market".
	OnePosition string `toml:"one_position"`
}

// AdminConfig holds the addresses allowed to create and resolve markets.
type AdminConfig struct {
	Addresses []string `toml:"addresses"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
			EnableWS:     true,
		},
		Redis: RedisConfig{
			CacheTTL: 30 * time.Second,
		},
		Market: MarketConfig{
			LeverageSet: []uint8{2, 5, 10},
			OnePosition: "global",
		},
	}
}

// Validate checks invariants that Load cannot express structurally.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("config: server.port must not be empty")
	}
	if len(c.Market.LeverageSet) == 0 {
		return fmt.Errorf("config: market.leverage_set must not be empty")
	}
	for _, l := range c.Market.LeverageSet {
		if l < 1 {
			return fmt.Errorf("config: leverage %d must be >= 1", l)
		}
	}
	if c.Market.OnePosition != "global" && c.Market.OnePosition != "per_market" {
		return fmt.Errorf("config: market.one_position must be %q or %q, got %q",
			"global", "per_market", c.Market.OnePosition)
	}
	return nil
}
