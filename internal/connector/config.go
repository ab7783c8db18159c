package connector

import (
	"fmt"
	"net/url"
	"time"

	"progresshub/internal/config"
)

// Config controls the connector's connection and reconnect behaviour
type Config struct {
	URL string

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Jitter spreads each delay by up to ±Jitter of its value. 0 disables it.
	Jitter float64
	// MaxAttempts bounds consecutive failed connects. 0 retries forever.
	MaxAttempts int

	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	StopTimeout       time.Duration
	OutboundQueue     int
}

// DefaultConfig returns the client defaults of config.Default
func DefaultConfig() Config {
	return ConfigFrom(config.Default().Client)
}

// ConfigFrom maps the application config
func ConfigFrom(c config.ClientConfig) Config {
	return Config{
		URL:               c.URL,
		InitialBackoff:    c.InitialBackoff,
		MaxBackoff:        c.MaxBackoff,
		BackoffMultiplier: c.BackoffMultiplier,
		Jitter:            c.Jitter,
		MaxAttempts:       c.MaxAttempts,
		HeartbeatInterval: c.HeartbeatInterval,
		DialTimeout:       c.DialTimeout,
		StopTimeout:       c.StopTimeout,
		OutboundQueue:     c.OutboundQueue,
	}
}

func (c Config) withDefaults() Config {
	d := config.Default().Client
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(d.MaxBackoff, c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = 0
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.OutboundQueue <= 0 {
		c.OutboundQueue = d.OutboundQueue
	}
	return c
}

func (c Config) validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", c.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server URL %q: scheme must be ws or wss", c.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server URL %q: missing host", c.URL)
	}
	return nil
}
