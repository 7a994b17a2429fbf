package config

import "time"

// Config holds tome configuration.
// Loaded from config.yaml with TOME_ environment overrides.
type Config struct {
	Server    ServerCfg               `mapstructure:"server" yaml:"server"`
	Providers map[string]ProviderCfg  `mapstructure:"providers" yaml:"providers"`
	Cache     CacheCfg                `mapstructure:"cache" yaml:"cache"`
	RateLimit RateLimitCfg            `mapstructure:"rate_limit" yaml:"rate_limit"`
	Jobs      JobsCfg                 `mapstructure:"jobs" yaml:"jobs"`
	Progress  ProgressCfg             `mapstructure:"progress" yaml:"progress"`
	Postgres  PostgresCfg             `mapstructure:"postgres" yaml:"postgres"`
}

// ServerCfg configures the HTTP listener.
type ServerCfg struct {
	Addr            string `mapstructure:"addr" yaml:"addr"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds" yaml:"shutdown_seconds"`
}

// ProviderCfg configures one upstream metadata provider.
type ProviderCfg struct {
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"` // Supports ${ENV_VAR} syntax.
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`
	Model          string  `mapstructure:"model" yaml:"model"` // Vision model name.
	TimeoutMs      int     `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second to the upstream.
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
}

// CacheCfg configures the tiered response cache.
type CacheCfg struct {
	EdgeMaxCost        int64 `mapstructure:"edge_max_cost" yaml:"edge_max_cost"`
	ISBNTTLHours       int   `mapstructure:"isbn_ttl_hours" yaml:"isbn_ttl_hours"`
	SearchTTLHours     int   `mapstructure:"search_ttl_hours" yaml:"search_ttl_hours"`
	AdvancedTTLHours   int   `mapstructure:"advanced_ttl_hours" yaml:"advanced_ttl_hours"`
	ParseTTLHours      int   `mapstructure:"parse_ttl_hours" yaml:"parse_ttl_hours"`
	EnrichTTLHours     int   `mapstructure:"enrich_ttl_hours" yaml:"enrich_ttl_hours"`
	EnrichLowTTLHours  int   `mapstructure:"enrich_low_ttl_hours" yaml:"enrich_low_ttl_hours"`
	NegativeTTLMinutes int   `mapstructure:"negative_ttl_minutes" yaml:"negative_ttl_minutes"`
}

// RateLimitCfg configures the per-client fixed-window limiter.
type RateLimitCfg struct {
	WindowSeconds int  `mapstructure:"window_seconds" yaml:"window_seconds"`
	MaxRequests   int  `mapstructure:"max_requests" yaml:"max_requests"`
	Enabled       bool `mapstructure:"enabled" yaml:"enabled"`
}

// JobsCfg configures background pipeline execution.
type JobsCfg struct {
	BatchTimeoutMs   int `mapstructure:"batch_timeout_ms" yaml:"batch_timeout_ms"`
	BatchConcurrency int `mapstructure:"batch_concurrency" yaml:"batch_concurrency"`
	MaxBatchSize     int `mapstructure:"max_batch_size" yaml:"max_batch_size"`
	MaxUploadBytes   int `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// ProgressCfg configures progress streaming and job lifecycle.
type ProgressCfg struct {
	ReadyHandshakeTimeoutMs   int `mapstructure:"ready_handshake_timeout_ms" yaml:"ready_handshake_timeout_ms"`
	CheckpointEveryNUpdates   int `mapstructure:"checkpoint_every_n_updates" yaml:"checkpoint_every_n_updates"`
	CheckpointEverySeconds    int `mapstructure:"checkpoint_every_seconds" yaml:"checkpoint_every_seconds"`
	CleanupAfterTerminalHours int `mapstructure:"cleanup_after_terminal_hours" yaml:"cleanup_after_terminal_hours"`
	TokenLifetimeSeconds      int `mapstructure:"token_lifetime_seconds" yaml:"token_lifetime_seconds"`
	TokenRefreshWindowSeconds int `mapstructure:"token_refresh_window_seconds" yaml:"token_refresh_window_seconds"`
}

// PostgresCfg configures the persistent tier.
type PostgresCfg struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"` // Supports ${ENV_VAR} syntax.
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Addr:            ":8080",
			ShutdownSeconds: 10,
		},
		Providers: map[string]ProviderCfg{
			"googlebooks": {
				APIKey:    "${GOOGLE_BOOKS_API_KEY}",
				BaseURL:   "https://www.googleapis.com/books/v1",
				TimeoutMs: 5000,
				RateLimit: 10,
				Enabled:   true,
			},
			"openlibrary": {
				BaseURL:   "https://openlibrary.org",
				TimeoutMs: 5000,
				RateLimit: 5,
				Enabled:   true,
			},
			"isbndb": {
				APIKey:    "${ISBNDB_API_KEY}",
				BaseURL:   "https://api2.isbndb.com",
				TimeoutMs: 5000,
				RateLimit: 1,
				Enabled:   true,
			},
			"vision": {
				APIKey:    "${OPENAI_API_KEY}",
				Model:     "gpt-4o",
				TimeoutMs: 60000,
				RateLimit: 2,
				Enabled:   true,
			},
		},
		Cache: CacheCfg{
			EdgeMaxCost:        64 << 20,
			ISBNTTLHours:       365 * 24,
			SearchTTLHours:     7 * 24,
			AdvancedTTLHours:   6,
			ParseTTLHours:      24,
			EnrichTTLHours:     24,
			EnrichLowTTLHours:  1,
			NegativeTTLMinutes: 60,
		},
		RateLimit: RateLimitCfg{
			WindowSeconds: 60,
			MaxRequests:   10,
			Enabled:       true,
		},
		Jobs: JobsCfg{
			BatchTimeoutMs:   1800000,
			BatchConcurrency: 5,
			MaxBatchSize:     100,
			MaxUploadBytes:   10 << 20,
		},
		Progress: ProgressCfg{
			ReadyHandshakeTimeoutMs:   10000,
			CheckpointEveryNUpdates:   5,
			CheckpointEverySeconds:    10,
			CleanupAfterTerminalHours: 24,
			TokenLifetimeSeconds:      7200,
			TokenRefreshWindowSeconds: 1800,
		},
		Postgres: PostgresCfg{
			DSN: "${TOME_POSTGRES_DSN}",
		},
	}
}

// Provider returns a provider config by name.
func (c *Config) Provider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// ProviderTimeout returns the configured provider timeout as a duration,
// falling back to five seconds.
func (p ProviderCfg) ProviderTimeout() time.Duration {
	if p.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// BatchTimeout returns the pipeline deadline as a duration.
func (j JobsCfg) BatchTimeout() time.Duration {
	if j.BatchTimeoutMs <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(j.BatchTimeoutMs) * time.Millisecond
}

// TokenLifetime returns the progress token lifetime.
func (p ProgressCfg) TokenLifetime() time.Duration {
	return time.Duration(p.TokenLifetimeSeconds) * time.Second
}

// TokenRefreshWindow returns the trailing window in which refresh is allowed.
func (p ProgressCfg) TokenRefreshWindow() time.Duration {
	return time.Duration(p.TokenRefreshWindowSeconds) * time.Second
}
