package config

import (
	"os"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RateLimit.WindowSeconds != 60 || cfg.RateLimit.MaxRequests != 10 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Jobs.BatchConcurrency != 5 {
		t.Fatalf("unexpected batch concurrency: %d", cfg.Jobs.BatchConcurrency)
	}
	if cfg.Progress.CheckpointEveryNUpdates != 5 || cfg.Progress.CheckpointEverySeconds != 10 {
		t.Fatalf("unexpected checkpoint cadence: %+v", cfg.Progress)
	}
	if cfg.Cache.ISBNTTLHours != 365*24 {
		t.Fatalf("unexpected isbn ttl: %d", cfg.Cache.ISBNTTLHours)
	}

	for _, name := range []string{"googlebooks", "openlibrary", "isbndb", "vision"} {
		p, ok := cfg.Provider(name)
		if !ok {
			t.Fatalf("missing provider config: %s", name)
		}
		if !p.Enabled {
			t.Fatalf("provider %s should default enabled", name)
		}
	}
}

func TestProviderTimeout(t *testing.T) {
	p := ProviderCfg{TimeoutMs: 5000}
	if p.ProviderTimeout().Seconds() != 5 {
		t.Fatalf("unexpected timeout: %v", p.ProviderTimeout())
	}
	p.TimeoutMs = 0
	if p.ProviderTimeout().Seconds() != 5 {
		t.Fatalf("expected 5s fallback, got %v", p.ProviderTimeout())
	}
}

func TestResolveEnvVars(t *testing.T) {
	os.Setenv("TOME_TEST_KEY", "secret-value")
	defer os.Unsetenv("TOME_TEST_KEY")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TOME_TEST_KEY}", "secret-value"},
		{"prefix-${TOME_TEST_KEY}", "prefix-secret-value"},
		{"no-vars", "no-vars"},
		{"", ""},
		{"${NONEXISTENT_VAR_XYZ}", ""},
	}
	for _, tt := range tests {
		if got := ResolveEnvVars(tt.input); got != tt.expected {
			t.Errorf("ResolveEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestEnabledProviders(t *testing.T) {
	cfg := &Config{
		Providers: map[string]ProviderCfg{
			"googlebooks": {Enabled: true},
			"isbndb":      {Enabled: false},
		},
	}
	enabled := cfg.EnabledProviders()
	if len(enabled) != 1 {
		t.Fatalf("expected 1 enabled provider, got %d", len(enabled))
	}
	if _, ok := enabled["googlebooks"]; !ok {
		t.Fatal("googlebooks should be enabled")
	}
}
