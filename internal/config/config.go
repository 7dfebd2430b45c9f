// Package config loads the server configuration from a YAML file, an optional .env file and
// a handful of environment overrides.
package config

import "time"

// Config is the full server configuration
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Gate      GateConfig      `yaml:"gate"`
	Bidding   BiddingConfig   `yaml:"bidding"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Session   SessionConfig   `yaml:"session"`
	Client    ClientConfig    `yaml:"client"`
}

type InstanceConfig struct {
	// ID identifies this process in events forwarded to peers
	ID string `yaml:"id"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	WSPath string `yaml:"ws_path"`
	// SeedDemoAuctions fills an empty registry with sample auctions at startup
	SeedDemoAuctions *bool `yaml:"seed_demo_auctions"`
}

type GateConfig struct {
	// Disabled replaces the simulated vote with an always-accept policy
	Disabled          bool    `yaml:"disabled"`
	Acceptors         int     `yaml:"acceptors"`
	AcceptProbability float64 `yaml:"accept_probability"`
}

type BiddingConfig struct {
	EnforceIncrement *bool   `yaml:"enforce_increment"`
	DefaultIncrement float64 `yaml:"default_increment"`
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type OutboxConfig struct {
	Backend      string        `yaml:"backend"`
	DatabaseURL  string        `yaml:"database_url"`
	MinConns     int           `yaml:"min_conns"`
	MaxConns     int           `yaml:"max_conns"`
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// LeaseTimeout is how long a dequeued item may stay unsettled before peers reclaim it
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
}

type BroadcastConfig struct {
	// RedisURL enables cross-instance fan-out when set
	RedisURL     string `yaml:"redis_url"`
	Channel      string `yaml:"channel"`
	DedupeWindow int    `yaml:"dedupe_window"`
}

type SessionConfig struct {
	SendBuffer   int           `yaml:"send_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type ClientConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// IncrementEnforced reports whether bids must clear currentPrice + minBidIncrement
func (c *Config) IncrementEnforced() bool {
	return c.Bidding.EnforceIncrement == nil || *c.Bidding.EnforceIncrement
}

// SeedDemo reports whether demo auctions are created at startup
func (c *Config) SeedDemo() bool {
	return c.Server.SeedDemoAuctions == nil || *c.Server.SeedDemoAuctions
}
