// Package server wires configuration, the pool, and the API surface
// into a runnable HTTP server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/sorryhyun/yaar/internal/api/http"
	"github.com/sorryhyun/yaar/internal/api/middleware"
	"github.com/sorryhyun/yaar/internal/api/ws"
	"github.com/sorryhyun/yaar/internal/domain/pool"
	"github.com/sorryhyun/yaar/internal/domain/reload"
	"github.com/sorryhyun/yaar/internal/domain/restore"
	"github.com/sorryhyun/yaar/internal/domain/sessionlog"
	"github.com/sorryhyun/yaar/internal/domain/tape"
	"github.com/sorryhyun/yaar/internal/infrastructure/config"
	"github.com/sorryhyun/yaar/internal/infrastructure/logging"
	"github.com/sorryhyun/yaar/internal/infrastructure/monitoring"
	"github.com/sorryhyun/yaar/internal/infrastructure/resilience"
	"github.com/sorryhyun/yaar/internal/infrastructure/tracing"
	"github.com/sorryhyun/yaar/internal/providers/agent"
)

// shutdownTimeout bounds graceful shutdown, including the pool drain
const shutdownTimeout = 30 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	pool    *pool.Pool
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a server around the given session factory. The
// factory is injected so deployments choose their agent runtime.
func NewServer(cfg *config.Config, factory pool.SessionFactory) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing yaar orchestrator",
		zap.String("port", cfg.Server.Port),
		zap.String("session_log", cfg.Session.LogPath),
	)

	metrics := monitoring.NewMetrics()

	store, err := sessionlog.NewFileStore(cfg.Session.LogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}

	conversation := tape.New()
	if cfg.Session.Restore {
		pipeline := restore.NewPipeline(logger.Named("restore").Logger)
		restored, skipped, err := pipeline.Run(store, restore.Full{}, conversation)
		if err != nil {
			logger.Warn("Session restore failed, starting fresh", zap.Error(err))
		} else if restored > 0 {
			logger.Info("Restored previous session",
				zap.Int("turns", restored),
				zap.Int("skipped_lines", skipped),
			)
		}
	}

	cache := reload.NewCachePolicy(reload.NewMemoryStore())

	// Guard session creation so a dead agent runtime fails fast instead
	// of stacking up turns
	breaker := resilience.New("agent-runtime", resilience.Settings{
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	factory = agent.GuardedFactory(factory, breaker)

	agentPool := pool.New(factory, conversation, pool.Config{
		MainQueueCapacity:     cfg.Pool.MainQueueCapacity,
		AgentLimit:            cfg.Pool.AgentLimit,
		WindowInitialMaxTurns: cfg.Pool.WindowInitialMaxTurns,
	}, logger.Named("pool").Logger).
		WithMetrics(metrics).
		WithStore(store)

	wsHandler := ws.NewHandler(agentPool, logger.Named("ws").Logger).WithMetrics(metrics)
	agentPool.WithSink(wsHandler)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	tracer := tracing.New("orchestrator", logger.Named("tracing").Logger)

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(agentPool, cache, logger.Named("http").Logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Main channel
	router.POST("/messages", handlers.SubmitMessage)
	router.POST("/steer", handlers.SteerMain)

	// Window channel
	router.GET("/windows", handlers.Windows)
	router.POST("/windows/connect", handlers.ConnectWindow)
	router.POST("/windows/:id/messages", handlers.SubmitWindowMessage)
	router.POST("/windows/:id/steer", handlers.SteerWindow)
	router.DELETE("/windows/:id", handlers.CloseWindow)

	// Workspace lifecycle and introspection
	router.POST("/reset", handlers.Reset)
	router.GET("/stats", handlers.Stats)
	router.GET("/tape", handlers.Tape)
	router.GET("/reload/matches", handlers.ReloadMatches)

	// WebSocket event stream
	router.GET("/stream", wsHandler.HandleConnection)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		pool:    agentPool,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Pool returns the agent pool, mainly for tests and embedding callers
func (s *Server) Pool() *pool.Pool {
	return s.pool
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close gracefully shuts down: stop accepting requests, then drain the
// pool so every agent session is interrupted and disposed
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP shutdown failed", zap.Error(err))
		}
	}

	if err := s.pool.Reset(ctx); err != nil {
		s.logger.Error("Pool drain failed during shutdown", zap.Error(err))
		return fmt.Errorf("failed to drain pool: %w", err)
	}

	s.logger.Sync()
	return nil
}
