// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/tome/internal/analytics"
	"github.com/jackzampolin/tome/internal/cache"
	"github.com/jackzampolin/tome/internal/config"
	"github.com/jackzampolin/tome/internal/enrich"
	"github.com/jackzampolin/tome/internal/jobs"
	"github.com/jackzampolin/tome/internal/progress"
	"github.com/jackzampolin/tome/internal/providers"
	"github.com/jackzampolin/tome/internal/ratelimit"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Cache        *cache.Cache
	Orchestrator *enrich.Orchestrator
	Providers    *providers.Registry
	Runner       *jobs.Runner
	Progress     *progress.Registry
	RateLimiter  *ratelimit.Limiter
	Analytics    analytics.Sink
	Config       *config.Manager
	Logger       *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// CacheFrom extracts the enrichment cache from context.
func CacheFrom(ctx context.Context) *cache.Cache {
	if s := ServicesFrom(ctx); s != nil {
		return s.Cache
	}
	return nil
}

// OrchestratorFrom extracts the enrichment orchestrator from context.
func OrchestratorFrom(ctx context.Context) *enrich.Orchestrator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Orchestrator
	}
	return nil
}

// ProvidersFrom extracts the provider registry from context.
func ProvidersFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Providers
	}
	return nil
}

// RunnerFrom extracts the pipeline runner from context.
func RunnerFrom(ctx context.Context) *jobs.Runner {
	if s := ServicesFrom(ctx); s != nil {
		return s.Runner
	}
	return nil
}

// ProgressFrom extracts the progress registry from context.
func ProgressFrom(ctx context.Context) *progress.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Progress
	}
	return nil
}

// RateLimiterFrom extracts the request rate limiter from context.
func RateLimiterFrom(ctx context.Context) *ratelimit.Limiter {
	if s := ServicesFrom(ctx); s != nil {
		return s.RateLimiter
	}
	return nil
}

// AnalyticsFrom extracts the analytics sink from context.
func AnalyticsFrom(ctx context.Context) analytics.Sink {
	if s := ServicesFrom(ctx); s != nil {
		return s.Analytics
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}
