package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/depflow/api"
	"github.com/BaSui01/depflow/api/handlers"
	"github.com/BaSui01/depflow/config"
	"github.com/BaSui01/depflow/graph"
	"github.com/BaSui01/depflow/internal/database"
	"github.com/BaSui01/depflow/internal/metrics"
	"github.com/BaSui01/depflow/internal/migration"
	"github.com/BaSui01/depflow/internal/server"
	"github.com/BaSui01/depflow/internal/telemetry"
	"github.com/BaSui01/depflow/internal/tlsutil"
	"github.com/BaSui01/depflow/resilience/circuitbreaker"
	"github.com/BaSui01/depflow/store"
	"github.com/BaSui01/depflow/store/badgerstore"
	"github.com/BaSui01/depflow/store/memory"
	"github.com/BaSui01/depflow/store/redisstore"
	"github.com/BaSui01/depflow/store/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server wires the store, the graph engine and the HTTP listeners.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// autoMigrate applies SQL schema migrations before the store is used.
	autoMigrate bool

	registry  *prometheus.Registry
	collector *metrics.Collector
	telemetry *telemetry.Providers

	store  store.Store
	pool   *database.PoolManager
	engine *graph.Engine

	healthHandler *handlers.HealthHandler
	graphHandler  *handlers.GraphHandler

	httpManager    *server.Manager
	metricsManager *server.Manager

	rateLimiterCancel context.CancelFunc
	errs              chan error
}

// NewServer creates a server; nothing is opened until Start.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:         cfg,
		logger:      logger,
		autoMigrate: true,
		errs:        make(chan error, 2),
	}
}

// Start opens the store, loads the graph and starts both listeners.
func (s *Server) Start(ctx context.Context) error {
	s.initTelemetry()
	s.initMetrics()

	if err := s.initStore(ctx); err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	if err := s.initEngine(ctx); err != nil {
		return fmt.Errorf("failed to init graph engine: %w", err)
	}
	s.initHandlers()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("tasks", s.engine.TaskCount()),
	)
	return nil
}

// Errors reports the first fatal error from either listener.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// =============================================================================
// Initialization
// =============================================================================

func (s *Server) initTelemetry() {
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	s.telemetry = providers
}

func (s *Server) initMetrics() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("depflow", s.registry, s.logger)
}

func (s *Server) initStore(ctx context.Context) error {
	cfg := s.cfg.Store
	switch cfg.Backend {
	case config.BackendMemory:
		s.logger.Warn("using in-memory store, graph state is lost on restart")
		s.store = memory.New()

	case config.BackendBadger:
		st, err := badgerstore.Open(cfg.Badger, s.logger)
		if err != nil {
			return err
		}
		s.store = st

	case config.BackendRedis:
		st, err := redisstore.New(cfg.Redis, s.logger)
		if err != nil {
			return err
		}
		s.store = st

	case config.BackendSQL:
		versioned := !isSQLite(cfg.Database.Driver)
		if s.autoMigrate && versioned {
			if err := s.migrate(ctx); err != nil {
				return err
			}
		}
		pool, err := database.Open(cfg.Database, s.logger)
		if err != nil {
			return err
		}
		s.pool = pool
		st := sqlstore.New(pool, s.logger)
		s.store = st
		if s.autoMigrate && !versioned {
			if err := st.AutoMigrate(ctx); err != nil {
				return fmt.Errorf("create sqlite schema: %w", err)
			}
		}
		s.collector.RegisterDBStats(cfg.Database.Name, pool.Stats)

	default:
		return fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	s.logger.Info("store opened", zap.String("backend", cfg.Backend))
	return nil
}

// isSQLite reports whether driver names the embedded sqlite dialect, whose
// schema is created by gorm rather than golang-migrate.
func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}

// migrate brings the SQL schema to the latest version.
func (s *Server) migrate(ctx context.Context) error {
	m, err := migration.NewMigratorFromConfig(s.cfg, s.logger)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("schema up to date", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func (s *Server) initEngine(ctx context.Context) error {
	cbCfg := s.cfg.CircuitBreaker
	breaker := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:          "graph-store",
		Threshold:     cbCfg.FailureThreshold,
		ResetTimeout:  cbCfg.RecoveryTimeout,
		Timeout:       cbCfg.CallTimeout,
		IsFailure:     graph.IsStoreFailure,
		OnStateChange: s.collector.ObserveBreakerTransition,
	}, s.logger)

	queryCache, err := graph.NewQueryCache(s.cfg.Cache)
	if err != nil {
		return err
	}

	engine, err := graph.New(s.store,
		graph.WithBreaker(breaker),
		graph.WithCache(queryCache),
		graph.WithLogger(s.logger),
		graph.WithObserver(s.collector),
		graph.WithTracer(s.telemetry.Tracer("github.com/BaSui01/depflow/graph")),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := engine.Load(ctx); err != nil {
		return err
	}
	s.engine = engine
	s.collector.RegisterCacheStats(engine.CacheStats)
	if _, err := telemetry.RegisterGraphGauges(s.telemetry.Meter("github.com/BaSui01/depflow/graph"), engine.Stats); err != nil {
		s.logger.Warn("failed to register graph gauges", zap.Error(err))
	}

	st := engine.Stats(ctx)
	s.logger.Info("graph loaded",
		zap.Int("tasks", st.Tasks),
		zap.Int("edges", st.Edges),
		zap.Bool("cyclic", st.Cyclic),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewBreakerHealthCheck(s.engine.BreakerStats, s.cfg.CircuitBreaker.RecoveryTimeout))

	switch st := s.store.(type) {
	case *redisstore.Store:
		s.healthHandler.RegisterCheck(handlers.NewCheck("redis", st.Ping))
	case *sqlstore.Store:
		s.healthHandler.RegisterCheck(handlers.NewCheck("database", s.pool.Ping))
	}

	s.graphHandler = handlers.NewGraphHandler(s.engine, s.cfg.CircuitBreaker.RecoveryTimeout, s.logger)
}

// =============================================================================
// HTTP servers
// =============================================================================

// newRouter mounts health, version and graph routes.
func (s *Server) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(api.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		StartedAt: time.Now().UTC(),
	}))
	s.graphHandler.Register(mux)
	return mux
}

func (s *Server) startHTTPServer() error {
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	handler := Chain(s.newRouter(),
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(s.telemetry.Tracer("github.com/BaSui01/depflow/http")),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		Principal(),
	)

	tlsConfig, err := tlsutil.ServerConfig(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	if err != nil {
		return err
	}

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLSConfig:       tlsConfig,
	}

	s.httpManager = server.NewManager("api", handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	go s.forwardErrors(s.httpManager)
	return nil
}

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	go s.forwardErrors(s.metricsManager)
	return nil
}

func (s *Server) forwardErrors(m *server.Manager) {
	for err := range m.Errors() {
		select {
		case s.errs <- err:
		default:
		}
	}
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown stops the listeners, then closes the store and flushes telemetry.
// It is safe after a partial Start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown...")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	var errs []error
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if s.store != nil {
		// sqlstore.Close closes the pool.
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	s.logger.Info("Graceful shutdown completed")
	return errors.Join(errs...)
}
