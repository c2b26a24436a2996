package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	if !strings.HasPrefix(c.Server.URL, "ws://") && !strings.HasPrefix(c.Server.URL, "wss://") {
		return fmt.Errorf("server.url must be a ws:// or wss:// endpoint, got %q", c.Server.URL)
	}

	if c.Server.MaxReconnectTries < 1 {
		return errors.New("server.max_reconnect_tries must be >= 1")
	}
	if c.Server.ReconnectBaseDelay > c.Server.ReconnectMaxDelay {
		return errors.New("server.reconnect_base_delay must not exceed reconnect_max_delay")
	}

	for topic, limit := range c.Subscriptions.Scroll {
		if limit < 1 {
			return fmt.Errorf("subscriptions.scroll.%s must be >= 1, got %d", topic, limit)
		}
	}

	if c.Recorder.BatchSize < 1 {
		return errors.New("recorder.batch_size must be >= 1")
	}
	if c.Recorder.BufferSize < 1 {
		return errors.New("recorder.buffer_size must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

// ValidateRecorder additionally checks the fields only the recorder needs.
func (c *Config) ValidateRecorder() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Recorder.Topics) == 0 {
		return errors.New("recorder.topics must list at least one topic")
	}
	return c.Database.validate("database")
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns must not exceed max_conns", prefix)
	}
	return nil
}
