package config

import (
	"time"

	"auction-stream/utils"
)

// Default values for optional configuration fields.
const (
	DefaultPort              = 4000
	DefaultWSPath            = "/ws"
	DefaultLogLevel          = "info"
	DefaultAcceptors         = 3
	DefaultAcceptProbability = 0.8
	DefaultIncrement         = 1.0
	DefaultMinConns          = 2
	DefaultMaxConns          = 10
	DefaultWorkers           = 2
	DefaultMaxAttempts       = 5
	DefaultRetryBackoff      = 100 * time.Millisecond
	DefaultMaxBackoff        = 30 * time.Second
	DefaultPollInterval      = 250 * time.Millisecond
	DefaultLeaseTimeout      = 2 * time.Minute
	DefaultChannel           = "auction:events"
	DefaultDedupeWindow      = 4096
	DefaultSendBuffer        = 256
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultClientBaseDelay   = 1 * time.Second
	DefaultClientMaxAttempts = 5
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = "node-" + utils.GenerateID()[:8]
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}

	if c.Gate.Acceptors == 0 {
		c.Gate.Acceptors = DefaultAcceptors
	}
	if c.Gate.AcceptProbability == 0 {
		c.Gate.AcceptProbability = DefaultAcceptProbability
	}

	if c.Bidding.DefaultIncrement == 0 {
		c.Bidding.DefaultIncrement = DefaultIncrement
	}

	// Outbox defaults
	if c.Outbox.Backend == "" {
		c.Outbox.Backend = BackendMemory
		if c.Outbox.DatabaseURL != "" {
			c.Outbox.Backend = BackendPostgres
		}
	}
	if c.Outbox.MinConns == 0 {
		c.Outbox.MinConns = DefaultMinConns
	}
	if c.Outbox.MaxConns == 0 {
		c.Outbox.MaxConns = DefaultMaxConns
	}
	if c.Outbox.Workers == 0 {
		c.Outbox.Workers = DefaultWorkers
	}
	if c.Outbox.MaxAttempts == 0 {
		c.Outbox.MaxAttempts = DefaultMaxAttempts
	}
	if c.Outbox.RetryBackoff == 0 {
		c.Outbox.RetryBackoff = DefaultRetryBackoff
	}
	if c.Outbox.MaxBackoff == 0 {
		c.Outbox.MaxBackoff = DefaultMaxBackoff
	}
	if c.Outbox.PollInterval == 0 {
		c.Outbox.PollInterval = DefaultPollInterval
	}
	if c.Outbox.LeaseTimeout == 0 {
		c.Outbox.LeaseTimeout = DefaultLeaseTimeout
	}

	if c.Broadcast.Channel == "" {
		c.Broadcast.Channel = DefaultChannel
	}
	if c.Broadcast.DedupeWindow == 0 {
		c.Broadcast.DedupeWindow = DefaultDedupeWindow
	}

	if c.Session.SendBuffer == 0 {
		c.Session.SendBuffer = DefaultSendBuffer
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = DefaultWriteTimeout
	}
	if c.Session.PingInterval == 0 {
		c.Session.PingInterval = DefaultPingInterval
	}

	if c.Client.BaseDelay == 0 {
		c.Client.BaseDelay = DefaultClientBaseDelay
	}
	if c.Client.MaxAttempts == 0 {
		c.Client.MaxAttempts = DefaultClientMaxAttempts
	}
}
