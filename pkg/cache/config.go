package cache

import (
	"fmt"
	"time"
)

// Config controls credential cache freshness
type Config struct {
	// TTL bounds how long a resolved policy is served without a backend call
	TTL time.Duration
	// NegativeTTL bounds how long a NotFound result is remembered
	NegativeTTL time.Duration
	// ResolveTimeout bounds one backend resolve. It is independent of any
	// caller's context so an abandoned request never cancels a shared fetch.
	ResolveTimeout time.Duration
	// RefreshAhead is the fraction of TTL after which a hit triggers a
	// background refresh. Zero disables refresh-ahead.
	RefreshAhead float64
	// WarmConcurrency bounds parallel resolves during Warm
	WarmConcurrency int
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		TTL:             5 * time.Minute,
		NegativeTTL:     30 * time.Second,
		ResolveTimeout:  3 * time.Second,
		RefreshAhead:    0.8,
		WarmConcurrency: 8,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.TTL)
	}
	if c.NegativeTTL < 0 {
		return fmt.Errorf("cache negative TTL must not be negative, got %s", c.NegativeTTL)
	}
	if c.NegativeTTL > c.TTL {
		return fmt.Errorf("cache negative TTL %s exceeds TTL %s", c.NegativeTTL, c.TTL)
	}
	if c.ResolveTimeout <= 0 {
		return fmt.Errorf("cache resolve timeout must be positive, got %s", c.ResolveTimeout)
	}
	if c.RefreshAhead < 0 || c.RefreshAhead >= 1 {
		return fmt.Errorf("cache refresh-ahead must be in [0, 1), got %v", c.RefreshAhead)
	}
	return nil
}
