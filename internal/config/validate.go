package config

import (
	"fmt"
	"net"
)

func (c *Config) Validate() error {
	if err := c.validateCameras(); err != nil {
		return fmt.Errorf("cameras config: %w", err)
	}

	if err := c.Player.Validate(); err != nil {
		return fmt.Errorf("player config: %w", err)
	}

	if err := c.PTZ.Validate(); err != nil {
		return fmt.Errorf("ptz config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	return nil
}

// validateCameras rejects malformed addresses. An empty IP is not an error,
// the slot simply stays Disabled.
func (c *Config) validateCameras() error {
	for i, cam := range c.Cameras {
		if cam.IP == "" {
			continue
		}
		if net.ParseIP(cam.IP) == nil {
			// Allow hostnames too, but not something with a scheme or port
			if _, _, err := net.SplitHostPort(cam.IP); err == nil {
				return fmt.Errorf("camera %d: ip must not include a port: %s", i, cam.IP)
			}
		}
	}
	return nil
}

func (p *PlayerConfig) Validate() error {
	if p.Backend != "process" {
		return fmt.Errorf("unknown player backend: %s", p.Backend)
	}
	if p.Command == "" {
		return fmt.Errorf("player command is required for the process backend")
	}
	if p.FallbackWidth <= 0 || p.FallbackHeight <= 0 {
		return fmt.Errorf("fallback resolution must be positive: %dx%d", p.FallbackWidth, p.FallbackHeight)
	}
	return nil
}

func (p *PTZConfig) Validate() error {
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("invalid ptz port: %d", p.Port)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	switch l.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", l.Format)
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", m.Port)
	}
	if m.Path == "" {
		return fmt.Errorf("metrics path is required")
	}
	return nil
}

func (a *APIConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.Addr == "" {
		return fmt.Errorf("api addr is required")
	}
	if a.RateLimit <= 0 {
		return fmt.Errorf("api rate_limit must be positive")
	}
	if a.RateBurst <= 0 {
		return fmt.Errorf("api rate_burst must be positive")
	}
	return nil
}

func (r *RegistryConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.RedisAddr == "" {
		return fmt.Errorf("registry redis_addr is required")
	}
	if r.TTL <= 0 {
		return fmt.Errorf("registry ttl must be positive")
	}
	return nil
}
