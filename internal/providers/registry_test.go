package providers

import (
	"testing"

	"github.com/jackzampolin/tome/internal/book"
	"github.com/jackzampolin/tome/internal/config"
)

func registryConfig() *config.Config {
	return &config.Config{
		Providers: map[string]config.ProviderCfg{
			"googlebooks": {Enabled: true, TimeoutMs: 5000},
			"openlibrary": {Enabled: true, TimeoutMs: 5000},
			"isbndb":      {Enabled: true, APIKey: "k", TimeoutMs: 5000},
			"vision":      {Enabled: true, APIKey: "k", Model: "gpt-4o"},
		},
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	r, err := NewRegistryFromConfig(registryConfig(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []book.Provider{book.ProviderGoogleBooks, book.ProviderOpenLibrary, book.ProviderISBNdb} {
		if !r.Has(name) {
			t.Fatalf("missing client: %s", name)
		}
	}
	if r.Covers() == nil {
		t.Fatal("isbndb should register as cover client")
	}
	if r.Vision() == nil {
		t.Fatal("vision client should be registered")
	}
}

func TestRegistryReloadDropsDisabled(t *testing.T) {
	r, err := NewRegistryFromConfig(registryConfig(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := registryConfig()
	cfg.Providers["isbndb"] = config.ProviderCfg{Enabled: false}
	cfg.Providers["vision"] = config.ProviderCfg{Enabled: false}
	if err := r.Reload(cfg); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if r.Has(book.ProviderISBNdb) {
		t.Fatal("disabled provider should be dropped on reload")
	}
	if r.Covers() != nil || r.Vision() != nil {
		t.Fatal("disabled cover/vision clients should be dropped")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(book.ProviderGoogleBooks); err == nil {
		t.Fatal("expected error for unknown client")
	}
}
