package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/akiojin/llm-router/api/handlers"
	"github.com/akiojin/llm-router/config"
	"github.com/akiojin/llm-router/internal/auth"
	"github.com/akiojin/llm-router/internal/cache"
	"github.com/akiojin/llm-router/internal/catalog"
	"github.com/akiojin/llm-router/internal/database"
	"github.com/akiojin/llm-router/internal/health"
	"github.com/akiojin/llm-router/internal/history"
	"github.com/akiojin/llm-router/internal/loadmanager"
	"github.com/akiojin/llm-router/internal/logsink"
	"github.com/akiojin/llm-router/internal/metrics"
	"github.com/akiojin/llm-router/internal/migration"
	"github.com/akiojin/llm-router/internal/pool"
	"github.com/akiojin/llm-router/internal/protocol"
	"github.com/akiojin/llm-router/internal/proxy"
	"github.com/akiojin/llm-router/internal/registry"
	"github.com/akiojin/llm-router/internal/server"
	"github.com/akiojin/llm-router/internal/tasks"
	"github.com/akiojin/llm-router/internal/telemetry"
)

// fleetGaugeInterval paces the registry/task gauge refresh for the cloud
// metrics endpoint.
const fleetGaugeInterval = 15 * time.Second

// taskCleanupInterval paces pruning of terminal download tasks.
const taskCleanupInterval = time.Hour

// Server owns every component of the router process and their lifecycle.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *registry.Registry
	load      *loadmanager.Manager
	monitor   *health.Monitor
	taskMgr   *tasks.Manager
	history   *history.Store
	cleaner   *history.Cleaner
	catalog   *catalog.Store
	pool      *database.PoolManager
	cache     *cache.Manager
	telemetry *telemetry.Providers
	collector *metrics.Collector
	logProxy  *logsink.NodeLogProxy

	authMiddleware *auth.Middleware

	httpManager *server.Manager

	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// NewServer assembles the router's component graph. Anything that can fail
// here — data dir, database open, migrations, Redis when enabled — is a
// fatal startup error by the exit-code contract.
func NewServer(cfg *config.Config, logDir string, logger *zap.Logger) (*Server, error) {
	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, logger: logger}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())

	// Node registry and the components hanging off it.
	s.registry, err = registry.New(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load node registry: %w", err)
	}
	s.load = loadmanager.New(s.registry)
	s.monitor = health.New(
		s.registry,
		time.Duration(cfg.Health.CheckIntervalSecs)*time.Second,
		time.Duration(cfg.Health.NodeTimeoutSecs)*time.Second,
		logger,
	)

	s.catalog, err = catalog.New(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load model catalog: %w", err)
	}

	s.history, err = history.New(history.Config{
		JournalPath: dataDir + "/request_history.jsonl",
		Retention:   time.Duration(cfg.Log.RetentionDays) * 24 * time.Hour,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open request history: %w", err)
	}
	s.cleaner = history.NewCleaner(s.history, 0, logger)

	s.taskMgr = tasks.New()

	// Relational store: open, migrate, bootstrap the admin user.
	dsn, err := cfg.DatabaseDSN()
	if err != nil {
		return nil, err
	}
	cfg.Database.DSN = dsn

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	migrator, err := migration.NewMigratorFromDatabaseConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to build migrator: %w", err)
	}
	if err := migrator.Up(s.bgCtx); err != nil {
		_ = migrator.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	_ = migrator.Close()

	s.pool, err = database.NewPoolManager(db, database.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure database pool: %w", err)
	}

	repo := auth.NewRepo(s.pool.DB())
	if err := auth.Bootstrap(s.bgCtx, repo, cfg.Auth, logger); err != nil {
		return nil, fmt.Errorf("failed to bootstrap admin user: %w", err)
	}

	secret, err := auth.ResolveJWTSecret(cfg.Auth, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JWT secret: %w", err)
	}
	issuer := auth.NewTokenIssuer(secret)
	s.authMiddleware = auth.NewMiddleware(repo, issuer, cfg.Auth.Disabled)

	if cfg.Redis.Enabled {
		redisCfg := cache.DefaultConfig()
		redisCfg.Addr = cfg.Redis.Addr
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		s.cache, err = cache.NewManager(redisCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect snapshot cache: %w", err)
		}
	}

	s.telemetry, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	s.collector = metrics.NewCollector("llm_router", logger)
	s.logProxy = logsink.NewNodeLogProxy(
		&http.Client{Timeout: 30 * time.Second},
		pool.DefaultGoroutinePoolConfig(),
	)

	mux := s.buildRoutes(repo, issuer, logDir)

	handler := Chain(mux,
		Recovery(logger),
		RequestID(),
		RequestLogger(logger),
		SecurityHeaders(),
		CORS(cfg.Server.CORSAllowedOrigins),
		RateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, logger),
		MetricsMiddleware(s.collector),
		s.authMiddleware.Resolve,
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:     cfg.Server.ReadTimeout,
		// The write timeout must outlast a full streaming inference
		// response, not a typical API call.
		WriteTimeout:    cfg.Server.UpstreamTimeout + time.Minute,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return s, nil
}

// buildRoutes registers every endpoint of the external interface contract.
func (s *Server) buildRoutes(repo *auth.Repo, issuer *auth.TokenIssuer, logDir string) *http.ServeMux {
	cfg := s.cfg
	logger := s.logger

	upstreamClient := &http.Client{}
	dispatchClient := &http.Client{Timeout: cfg.Server.UpstreamTimeout}

	nodesHandler := handlers.NewNodesHandler(s.registry, s.load, logger)
	if !cfg.Auth.SkipHealthProbe {
		probeClient := &http.Client{Timeout: cfg.Server.ProbeTimeout}
		nodesHandler = nodesHandler.WithRuntimeProbe(handlers.NewRuntimeProber(probeClient, logger))
	}

	dispatcher := tasks.NewDispatcher(dispatchClient, s.taskMgr, logger)

	proxyHandler := proxy.NewHandler(s.registry, s.load, s.history, upstreamClient, cfg.Server.UpstreamTimeout, logger)
	tasksHandler := handlers.NewTasksHandler(s.taskMgr, logger)
	modelsHandler := handlers.NewModelsHandler(s.catalog, s.registry, s.taskMgr, dispatcher, logger)
	authHandler := handlers.NewAuthHandler(repo, issuer, logger)
	usersHandler := handlers.NewUsersHandler(repo, logger)
	apiKeysHandler := handlers.NewAPIKeysHandler(repo, logger)
	dashboardHandler := handlers.NewDashboardHandler(s.registry, s.load, s.history, s.logProxy, logDir, logger)
	if s.cache != nil {
		dashboardHandler = dashboardHandler.WithSnapshotCache(s.cache, 5*time.Second)
	}
	healthHandler := handlers.NewHealthHandler(logger)
	healthHandler.RegisterCheck(handlers.HealthCheckFunc("database", func(ctx context.Context) error {
		return s.pool.Ping(ctx)
	}))

	mux := http.NewServeMux()

	// Process liveness (no auth).
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", healthHandler.HandleReady)
	mux.HandleFunc("GET /version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// Node membership and heartbeats.
	mux.HandleFunc("POST /api/nodes", nodesHandler.HandleRegister)
	mux.Handle("GET /api/nodes", auth.RequireAdmin(http.HandlerFunc(nodesHandler.HandleList)))
	mux.Handle("POST /api/nodes/{id}/rotate-token", auth.RequireAdmin(http.HandlerFunc(nodesHandler.HandleRotateToken)))
	mux.Handle("POST /api/health", auth.RequireAgentToken(http.HandlerFunc(nodesHandler.HandleHeartbeat)))

	// Inference proxy.
	mux.Handle("POST /api/chat", auth.RequireInference(http.HandlerFunc(proxyHandler.HandleChat)))
	mux.Handle("POST /api/generate", auth.RequireInference(http.HandlerFunc(proxyHandler.HandleGenerate)))
	mux.Handle("POST /v1/chat/completions", auth.RequireInference(http.HandlerFunc(proxyHandler.HandleChatCompletions)))
	mux.Handle("POST /v1/completions", auth.RequireInference(http.HandlerFunc(proxyHandler.HandleCompletions)))
	mux.Handle("POST /v1/embeddings", auth.RequireInference(http.HandlerFunc(proxyHandler.HandleEmbeddings)))
	mux.Handle("GET /v1/models", auth.RequireInference(http.HandlerFunc(modelsHandler.HandleListOpenAI)))

	// Admin session.
	mux.HandleFunc("POST /api/auth/login", authHandler.HandleLogin)
	mux.Handle("POST /api/auth/logout", auth.RequireAdmin(http.HandlerFunc(authHandler.HandleLogout)))
	mux.Handle("GET /api/auth/me", auth.RequireAdmin(http.HandlerFunc(authHandler.HandleMe)))

	// User / API key management.
	mux.Handle("GET /api/users", auth.RequireAdmin(http.HandlerFunc(usersHandler.HandleList)))
	mux.Handle("POST /api/users", auth.RequireAdmin(http.HandlerFunc(usersHandler.HandleCreate)))
	mux.Handle("PUT /api/users/{id}", auth.RequireAdmin(http.HandlerFunc(usersHandler.HandleUpdatePassword)))
	mux.Handle("DELETE /api/users/{id}", auth.RequireAdmin(http.HandlerFunc(usersHandler.HandleDelete)))
	mux.Handle("GET /api/api-keys", auth.RequireAdmin(http.HandlerFunc(apiKeysHandler.HandleList)))
	mux.Handle("POST /api/api-keys", auth.RequireAdmin(http.HandlerFunc(apiKeysHandler.HandleCreate)))
	mux.Handle("DELETE /api/api-keys/{id}", auth.RequireAdmin(http.HandlerFunc(apiKeysHandler.HandleRevoke)))

	// Model catalog and distribution.
	mux.Handle("GET /api/models", auth.RequireAdmin(http.HandlerFunc(modelsHandler.HandleList)))
	mux.Handle("POST /api/models", auth.RequireAdmin(http.HandlerFunc(modelsHandler.HandleCreate)))
	mux.Handle("DELETE /api/models/{name}", auth.RequireAdmin(http.HandlerFunc(modelsHandler.HandleDelete)))
	mux.Handle("POST /api/models/distribute", auth.RequireAdmin(http.HandlerFunc(modelsHandler.HandleDistribute)))
	mux.Handle("POST /api/agents/{id}/models/pull", auth.RequireAdmin(http.HandlerFunc(modelsHandler.HandlePullToAgent)))

	// Download tasks.
	mux.Handle("GET /api/tasks", auth.RequireAdmin(http.HandlerFunc(tasksHandler.HandleList)))
	mux.Handle("GET /api/tasks/{id}", auth.RequireAdmin(http.HandlerFunc(tasksHandler.HandleGet)))
	mux.Handle("POST /api/tasks/{id}/progress", auth.RequireAgentToken(http.HandlerFunc(tasksHandler.HandleProgress)))
	mux.Handle("POST /api/tasks/{id}/fail", auth.RequireAgentToken(http.HandlerFunc(tasksHandler.HandleFail)))

	// Dashboard.
	mux.Handle("GET /api/dashboard/nodes", auth.RequireAdmin(http.HandlerFunc(dashboardHandler.HandleNodes)))
	mux.Handle("GET /api/dashboard/stats", auth.RequireAdmin(http.HandlerFunc(dashboardHandler.HandleStats)))
	mux.Handle("GET /api/dashboard/overview", auth.RequireAdmin(http.HandlerFunc(dashboardHandler.HandleOverview)))
	mux.Handle("GET /api/dashboard/request-history", auth.RequireAdmin(http.HandlerFunc(dashboardHandler.HandleRequestHistory)))
	mux.Handle("GET /api/dashboard/logs/coordinator", auth.RequireAdmin(http.HandlerFunc(dashboardHandler.HandleCoordinatorLogs)))
	mux.Handle("GET /api/dashboard/logs/nodes/{id}", auth.RequireAdmin(http.HandlerFunc(dashboardHandler.HandleNodeLogs)))

	// Prometheus cloud metrics (no auth by contract).
	mux.Handle("GET /metrics/cloud", promhttp.Handler())

	return mux
}

// Start launches the HTTP listener and the background loops.
func (s *Server) Start() error {
	cert, key := s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile
	if cert != "" && key != "" {
		if err := s.httpManager.StartTLS(cert, key); err != nil {
			return err
		}
	} else {
		if err := s.httpManager.Start(); err != nil {
			return err
		}
	}

	s.monitor.Start(s.bgCtx)
	s.cleaner.Start(s.bgCtx)
	go s.fleetGaugeLoop()
	go s.taskCleanupLoop()

	s.logger.Info("llm-router started",
		zap.String("addr", s.httpManager.Addr()),
		zap.Bool("auth_disabled", s.cfg.Auth.Disabled),
		zap.Bool("tls", cert != "" && key != ""),
	)
	return nil
}

// fleetGaugeLoop refreshes the Prometheus fleet gauges from the registry
// and task manager.
func (s *Server) fleetGaugeLoop() {
	ticker := time.NewTicker(fleetGaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.bgCtx.Done():
			return
		case <-ticker.C:
			nodes := s.registry.List()
			online := 0
			for _, n := range nodes {
				if n.Status == protocol.NodeOnline {
					online++
				}
			}
			s.collector.SetFleetSize(len(nodes), online, len(nodes)-online)

			counts := make(map[string]int)
			for _, t := range s.taskMgr.List() {
				counts[string(t.Status)]++
			}
			s.collector.SetTaskCounts(counts)
		}
	}
}

// taskCleanupLoop prunes terminal download tasks so the task map stays
// bounded over the life of the process.
func (s *Server) taskCleanupLoop() {
	ticker := time.NewTicker(taskCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.bgCtx.Done():
			return
		case <-ticker.C:
			if n := s.taskMgr.CleanupFinishedTasks(); n > 0 {
				s.logger.Debug("pruned finished download tasks", zap.Int("count", n))
			}
		}
	}
}

// WaitForShutdown blocks until a termination signal or a fatal server
// error, then shuts everything down.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown stops background loops and releases every component, newest
// dependency first.
func (s *Server) Shutdown() {
	s.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpManager.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown error", zap.Error(err))
	}

	s.monitor.Stop()
	s.cleaner.Stop()
	s.bgCancel()

	s.logProxy.Close()

	if err := s.history.Close(); err != nil {
		s.logger.Error("history close error", zap.Error(err))
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("cache close error", zap.Error(err))
		}
	}

	if err := s.pool.Close(); err != nil {
		s.logger.Error("database close error", zap.Error(err))
	}

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("shutdown complete")
}
