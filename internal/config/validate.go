package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath)
	}

	if c.Gate.Acceptors < 1 {
		return errors.New("gate.acceptors must be >= 1")
	}
	if c.Gate.AcceptProbability <= 0 || c.Gate.AcceptProbability > 1 {
		return fmt.Errorf("gate.accept_probability must be in (0, 1], got %g", c.Gate.AcceptProbability)
	}

	if c.Bidding.DefaultIncrement < 0 {
		return errors.New("bidding.default_increment must be >= 0")
	}

	if err := c.Outbox.validate(); err != nil {
		return err
	}

	if c.Broadcast.DedupeWindow < 1 {
		return errors.New("broadcast.dedupe_window must be >= 1")
	}
	if c.Session.SendBuffer < 1 {
		return errors.New("session.send_buffer must be >= 1")
	}
	if c.Client.MaxAttempts < 1 {
		return errors.New("client.max_attempts must be >= 1")
	}
	return nil
}

func (o *OutboxConfig) validate() error {
	switch o.Backend {
	case BackendMemory:
	case BackendPostgres:
		if o.DatabaseURL == "" {
			return errors.New("outbox.database_url is required for the postgres backend")
		}
		if o.MinConns > o.MaxConns {
			return fmt.Errorf("outbox.min_conns (%d) cannot exceed max_conns (%d)", o.MinConns, o.MaxConns)
		}
	default:
		return fmt.Errorf("outbox.backend must be %q or %q, got %q", BackendMemory, BackendPostgres, o.Backend)
	}
	if o.Workers < 1 {
		return errors.New("outbox.workers must be >= 1")
	}
	if o.MaxAttempts < 1 {
		return errors.New("outbox.max_attempts must be >= 1")
	}
	if o.LeaseTimeout < 0 {
		return fmt.Errorf("outbox.lease_timeout must not be negative, got %s", o.LeaseTimeout)
	}
	if o.RetryBackoff > o.MaxBackoff {
		return fmt.Errorf("outbox.retry_backoff (%s) cannot exceed max_backoff (%s)", o.RetryBackoff, o.MaxBackoff)
	}
	return nil
}
