package providers

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackzampolin/tome/internal/book"
	"github.com/jackzampolin/tome/internal/config"
)

// Registry holds the configured upstream clients. It supports config-driven
// instantiation and hot-reload, and provides thread-safe access.
type Registry struct {
	mu      sync.RWMutex
	clients map[book.Provider]Client
	covers  CoverClient
	vision  *VisionClient
	logger  *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[book.Provider]Client),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register adds a metadata client by provider name.
func (r *Registry) Register(client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Name()] = client
	if r.logger != nil {
		r.logger.Info("registered provider client", "name", client.Name())
	}
}

// Get returns a metadata client by provider name.
func (r *Registry) Get(name book.Provider) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("provider client not found: %s", name)
	}
	return client, nil
}

// Has checks whether a metadata client is registered.
func (r *Registry) Has(name book.Provider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[name]
	return ok
}

// List returns all registered provider names.
func (r *Registry) List() []book.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]book.Provider, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// Covers returns the cover-image client, or nil when none is configured.
func (r *Registry) Covers() CoverClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.covers
}

// SetCovers registers the cover-image client.
func (r *Registry) SetCovers(c CoverClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.covers = c
}

// Vision returns the vision client, or nil when none is configured.
func (r *Registry) Vision() *VisionClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vision
}

// SetVision registers the vision client.
func (r *Registry) SetVision(v *VisionClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vision = v
}

// NewRegistryFromConfig creates a registry with clients based on
// configuration. Only enabled providers are registered; secrets stay deferred
// so key rotation needs no rebuild.
func NewRegistryFromConfig(cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}
	if err := r.apply(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds clients after a config change. Clients whose provider was
// disabled are dropped.
func (r *Registry) Reload(cfg *config.Config) error {
	return r.apply(cfg)
}

func (r *Registry) apply(cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[book.Provider]Client)
	r.covers = nil
	r.vision = nil

	for name, pc := range cfg.EnabledProviders() {
		switch name {
		case "googlebooks":
			next[book.ProviderGoogleBooks] = NewGoogleBooksClient(GoogleBooksConfig{
				APIKey:  deferredKey(pc.APIKey),
				BaseURL: pc.BaseURL,
				Timeout: pc.ProviderTimeout(),
				RPS:     pc.RateLimit,
			})
		case "openlibrary":
			next[book.ProviderOpenLibrary] = NewOpenLibraryClient(OpenLibraryConfig{
				BaseURL: pc.BaseURL,
				Timeout: pc.ProviderTimeout(),
				RPS:     pc.RateLimit,
			})
		case "isbndb":
			client := NewISBNdbClient(ISBNdbConfig{
				APIKey:  deferredKey(pc.APIKey),
				BaseURL: pc.BaseURL,
				Timeout: pc.ProviderTimeout(),
				RPS:     pc.RateLimit,
			})
			next[book.ProviderISBNdb] = client
			r.covers = client
		case "vision":
			vision, err := NewVisionClient(VisionConfig{
				APIKey:  deferredKey(pc.APIKey),
				Model:   pc.Model,
				Timeout: pc.ProviderTimeout(),
				RPS:     pc.RateLimit,
				BaseURL: pc.BaseURL,
			})
			if err != nil {
				return fmt.Errorf("building vision client: %w", err)
			}
			r.vision = vision
		default:
			if r.logger != nil {
				r.logger.Warn("unknown provider in config", "name", name)
			}
		}
	}

	r.clients = next
	if r.logger != nil {
		r.logger.Info("provider registry loaded", "clients", len(next), "vision", r.vision != nil)
	}
	return nil
}

// deferredKey resolves ${ENV_VAR} references at call time.
func deferredKey(raw string) Secret {
	return DeferredSecret(func() (string, error) {
		key := config.ResolveEnvVars(raw)
		if key == "" {
			return "", ErrSecretUnavailable
		}
		return key, nil
	})
}
