// Package config holds the immutable policy tables of the quota subsystem:
// rate-limit scopes, daily quota accounting settings and the header priority
// used to resolve client identities.
package config

import (
	"time"

	"quotaguard/internal/ratelimit/clientip"
	"quotaguard/internal/ratelimit/models"
)

// QuotaConfig controls daily entity quota accounting.
type QuotaConfig struct {
	// Location is the timezone whose midnight resets daily quotas.
	Location *time.Location
	// PlatformDailyLimit caps anonymous views per client across all entities
	// per day. Zero disables the platform-wide cap.
	PlatformDailyLimit int
}

// Config is passed to constructors and never mutated afterwards.
type Config struct {
	Scopes         map[models.ScopeName]models.Scope
	Quota          QuotaConfig
	TrustedHeaders []string
	// ConfigMissingRetryAfter is the retry hint when an unknown scope is checked.
	ConfigMissingRetryAfter time.Duration
}

// DefaultScopes returns the built-in scope table.
func DefaultScopes() map[models.ScopeName]models.Scope {
	scopes := []models.Scope{
		{Name: models.ScopeBurst, Limit: 60, Window: time.Minute, KeyBy: models.KeyByUserOrClient},
		{Name: models.ScopeSustained, Limit: 1000, Window: time.Hour, KeyBy: models.KeyByUserOrClient},
		{Name: models.ScopeSearch, Limit: 30, Window: time.Minute, KeyBy: models.KeyByUserOrClient},
		{Name: models.ScopeChat, Limit: 20, Window: time.Minute, KeyBy: models.KeyByUserOrClient},
		{Name: models.ScopeUpload, Limit: 20, Window: time.Hour, KeyBy: models.KeyByUserOrClient},
		{Name: models.ScopePayment, Limit: 10, Window: time.Minute, KeyBy: models.KeyByUserOrClient},
		{Name: models.ScopeAuth, Limit: 10, Window: time.Minute, KeyBy: models.KeyByClient},
		{Name: models.ScopeWebhook, Limit: 100, Window: time.Minute, KeyBy: models.KeyByClient},
		{Name: models.ScopePaymentWebhook, Limit: 1000, Window: time.Minute, KeyBy: models.KeyByClient},
	}
	out := make(map[models.ScopeName]models.Scope, len(scopes))
	for _, s := range scopes {
		out[s.Name] = s
	}
	return out
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Scopes: DefaultScopes(),
		Quota: QuotaConfig{
			Location: time.UTC,
		},
		TrustedHeaders:          append([]string(nil), clientip.DefaultHeaders...),
		ConfigMissingRetryAfter: time.Minute,
	}
}

// Option adjusts a Config while it is being built.
type Option func(*Config)

// WithScope replaces or adds a scope definition.
func WithScope(scope models.Scope) Option {
	return func(c *Config) {
		c.Scopes[scope.Name] = scope
	}
}

// WithLocation sets the accounting timezone.
func WithLocation(loc *time.Location) Option {
	return func(c *Config) {
		if loc != nil {
			c.Quota.Location = loc
		}
	}
}

// WithPlatformDailyLimit enables the platform-wide anonymous cap.
func WithPlatformDailyLimit(limit int) Option {
	return func(c *Config) {
		if limit >= 0 {
			c.Quota.PlatformDailyLimit = limit
		}
	}
}

// WithTrustedHeaders replaces the header priority. An empty list disables
// header inspection.
func WithTrustedHeaders(headers []string) Option {
	return func(c *Config) {
		if headers != nil {
			c.TrustedHeaders = append([]string{}, headers...)
		}
	}
}

// New builds a config from defaults plus options.
func New(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// GetScope looks up a scope. ok is false for unknown scopes, which callers
// must treat as a deny.
func (c *Config) GetScope(name models.ScopeName) (models.Scope, bool) {
	s, ok := c.Scopes[name]
	if !ok || s.Limit <= 0 || s.Window <= 0 {
		return models.Scope{}, false
	}
	return s, true
}

// Location returns the quota accounting timezone, never nil.
func (c *Config) Location() *time.Location {
	if c.Quota.Location == nil {
		return time.UTC
	}
	return c.Quota.Location
}

// ResolverConfig returns the client identity resolver configuration.
func (c *Config) ResolverConfig() clientip.Config {
	return clientip.Config{Headers: c.TrustedHeaders}
}
