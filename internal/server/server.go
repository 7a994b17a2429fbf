package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jackzampolin/tome/internal/analytics"
	"github.com/jackzampolin/tome/internal/api"
	"github.com/jackzampolin/tome/internal/cache"
	"github.com/jackzampolin/tome/internal/config"
	"github.com/jackzampolin/tome/internal/enrich"
	"github.com/jackzampolin/tome/internal/jobs"
	"github.com/jackzampolin/tome/internal/metrics"
	"github.com/jackzampolin/tome/internal/progress"
	"github.com/jackzampolin/tome/internal/providers"
	"github.com/jackzampolin/tome/internal/ratelimit"
	"github.com/jackzampolin/tome/internal/server/endpoints"
	"github.com/jackzampolin/tome/internal/svcctx"
)

// Server is the main Tome HTTP server. Routes are registered up front;
// the cache substrate, orchestrator, and pipeline runner come up in Start,
// and until then initialized endpoints answer 503.
type Server struct {
	httpServer       *http.Server
	registry         *providers.Registry
	configMgr        *config.Manager
	logger           *slog.Logger
	promReg          *prometheus.Registry
	endpointRegistry *api.Registry

	// built in Start
	pool        *pgxpool.Pool
	cacheStore  *cache.PGStore
	cacheLayer  *cache.Cache
	progressReg *progress.Registry
	runner      *jobs.Runner

	mu       sync.RWMutex
	limiter  *ratelimit.Limiter
	services *svcctx.Services
	running  bool
}

// Config holds server configuration.
type Config struct {
	// Addr is the listen address (default: config server.addr, then :8080)
	Addr string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	appCfg := config.DefaultConfig()
	if cfg.ConfigManager != nil {
		appCfg = cfg.ConfigManager.Get()
	}
	if cfg.Addr == "" {
		cfg.Addr = appCfg.Server.Addr
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	registry, err := providers.NewRegistryFromConfig(appCfg, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("building provider registry: %w", err)
	}

	s := &Server{
		registry:  registry,
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
		promReg:   metrics.NewRegistry(),
	}

	// Hot reload rebuilds provider clients and retunes the limiter.
	if cfg.ConfigManager != nil {
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			if err := s.registry.Reload(c); err != nil {
				cfg.Logger.Error("provider registry reload failed", "error", err)
				return
			}
			s.mu.RLock()
			l := s.limiter
			s.mu.RUnlock()
			if l != nil {
				l.SetLimits(c.RateLimit.MaxRequests, c.RateLimit.WindowSeconds)
			}
			cfg.Logger.Info("configuration reloaded")
		})
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit, s.rateLimit)
	mux.Handle("GET /metrics", metrics.Handler(s.promReg))

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: withRequestID(metrics.Instrument(s.promReg, s.withServices(mux))),
		// Read/Write timeouts stay unset so progress websockets can live
		// for the duration of a job.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Start brings up persistence and the service graph, then serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	appCfg := config.DefaultConfig()
	if s.configMgr != nil {
		appCfg = s.configMgr.Get()
	}

	// Pick the persistence substrate. Without a DSN everything runs
	// in-memory and state does not survive a restart.
	var (
		kvStore   cache.Store     = cache.NewMemoryStore()
		rlStore   ratelimit.Store = ratelimit.NewMemoryStore()
		progStore progress.Store  = progress.NewMemoryStateStore()
	)
	if dsn := config.ResolveEnvVars(appCfg.Postgres.DSN); dsn != "" {
		pgCache, err := cache.NewPGStore(ctx, dsn)
		if err != nil {
			s.setNotRunning()
			return fmt.Errorf("cache store: %w", err)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			pgCache.Close()
			s.setNotRunning()
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		pgRL, err := ratelimit.NewPGStore(ctx, pool)
		if err != nil {
			pgCache.Close()
			pool.Close()
			s.setNotRunning()
			return fmt.Errorf("rate limit store: %w", err)
		}
		pgProg, err := progress.NewPGStateStore(ctx, pool)
		if err != nil {
			pgCache.Close()
			pool.Close()
			s.setNotRunning()
			return fmt.Errorf("progress store: %w", err)
		}
		s.cacheStore = pgCache
		s.pool = pool
		kvStore, rlStore, progStore = pgCache, pgRL, pgProg
		s.logger.Info("using postgres persistence")
	} else {
		s.logger.Warn("no postgres dsn configured, state is in-memory only")
	}

	edge, err := cache.NewRistrettoEdge(appCfg.Cache.EdgeMaxCost)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("edge cache: %w", err)
	}
	s.cacheLayer = cache.New(edge, kvStore, cache.NewTTLs(appCfg.Cache),
		cache.WithMetrics(metrics.NewCacheMetrics(s.promReg)),
		cache.WithLogger(s.logger),
	)

	sink := analytics.NewRecorder(metrics.NewProviderMetrics(s.promReg), s.logger)
	orch := enrich.NewOrchestrator(s.cacheLayer, s.registry, sink, s.logger)

	s.progressReg = progress.NewRegistry(progStore, progress.ConfigFrom(appCfg.Progress), s.logger)

	var limiter *ratelimit.Limiter
	if appCfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(rlStore, appCfg.RateLimit, ratelimit.WithLogger(s.logger))
	}

	// Resolved per job launch so a config reload that swaps the vision
	// client reaches later jobs. A nil *VisionClient must stay a nil
	// interface so pipelines can detect the missing model.
	vision := func() jobs.Vision {
		if v := s.registry.Vision(); v != nil {
			return v
		}
		return nil
	}

	s.runner = jobs.NewRunner(jobs.Deps{
		Orchestrator: orch,
		Vision:       vision,
		Cache:        s.cacheLayer,
		Progress:     s.progressReg,
		Cfg:          appCfg.Jobs,
		Logger:       s.logger,
		Metrics:      metrics.NewJobMetrics(s.promReg),
	})

	s.mu.Lock()
	s.limiter = limiter
	s.services = &svcctx.Services{
		Cache:        s.cacheLayer,
		Orchestrator: orch,
		Providers:    s.registry,
		Runner:       s.runner,
		Progress:     s.progressReg,
		RateLimiter:  limiter,
		Analytics:    sink,
		Config:       s.configMgr,
		Logger:       s.logger,
	}
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown(appCfg)
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown(appCfg)
}

// shutdown drains HTTP, flushes job state, and closes the pool.
func (s *Server) shutdown(appCfg *config.Config) error {
	s.logger.Info("shutting down server")

	timeout := time.Duration(appCfg.Server.ShutdownSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.progressReg != nil {
		s.progressReg.Shutdown()
	}
	if s.cacheStore != nil {
		s.cacheStore.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Runner returns the pipeline runner. Nil before Start.
func (s *Server) Runner() *jobs.Runner {
	return s.runner
}
