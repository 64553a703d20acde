package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *GatewayConfig) Validate() error {
	if c.API.AppKey == "" {
		return errors.New("api.app_key is required")
	}
	if c.API.AppSecret == "" {
		return errors.New("api.app_secret is required")
	}
	if c.API.CustType != "P" && c.API.CustType != "B" {
		return fmt.Errorf("api.cust_type must be P or B, got %q", c.API.CustType)
	}
	if c.API.TokenExpiryMargin < 0 {
		return errors.New("api.token_expiry_margin must be >= 0")
	}
	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit must be >= 0")
	}

	if c.Stream.Enabled {
		if err := c.Stream.validate(); err != nil {
			return err
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Writer.BatchSize < 1 {
			return errors.New("writer.batch_size must be >= 1")
		}
	}

	if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}

func (s *StreamConfig) validate() error {
	if !strings.HasPrefix(s.WSURL, "ws://") && !strings.HasPrefix(s.WSURL, "wss://") {
		return fmt.Errorf("stream.ws_url must be a ws:// or wss:// URL, got %q", s.WSURL)
	}
	if s.TrID == "" {
		return errors.New("stream.tr_id is required")
	}
	if s.TrKey == "" {
		return errors.New("stream.tr_key is required")
	}
	if s.ReconnectDelay <= 0 {
		return errors.New("stream.reconnect_delay must be > 0")
	}
	if s.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
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
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
