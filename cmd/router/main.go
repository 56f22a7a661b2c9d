package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/DimaJoyti/dex-router/internal/adapters"
	"github.com/DimaJoyti/dex-router/internal/breaker"
	"github.com/DimaJoyti/dex-router/internal/coalesce"
	"github.com/DimaJoyti/dex-router/internal/config"
	"github.com/DimaJoyti/dex-router/internal/httpapi"
	"github.com/DimaJoyti/dex-router/internal/metrics"
	"github.com/DimaJoyti/dex-router/internal/routing"
	"github.com/DimaJoyti/dex-router/internal/store"
	"github.com/DimaJoyti/dex-router/internal/swap"
	"github.com/DimaJoyti/dex-router/pkg/cache"
	"github.com/DimaJoyti/dex-router/pkg/logger"
)

// Server wires every layer of the router into a single running process.
type Server struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlx.DB
	cacheImpl  cache.Cache
	metrics    *metrics.Sink
	httpServer *http.Server
}

func main() {
	fmt.Println("Starting DEX Router...")

	path := os.Getenv("ROUTER_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxAge:     cfg.Logging.MaxAge,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Sync()

	server := &Server{config: cfg, logger: log}

	if err := server.initialize(); err != nil {
		log.Fatal("failed to initialize server", zap.Error(err))
	}

	if err := server.start(); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}

	server.waitForShutdown()

	if err := server.shutdown(); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}

	log.Info("DEX Router stopped")
}

func (s *Server) initialize() error {
	s.logger.Info("initializing DEX Router")

	if err := s.initDatabase(); err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if err := s.initCache(); err != nil {
		return fmt.Errorf("init cache: %w", err)
	}

	s.metrics = metrics.New()

	quoteStore := store.NewPostgresQuoteStore(s.db, s.logger)
	swapStore := store.NewPostgresSwapStore(s.db, s.logger)

	breakers := breaker.NewRegistry(s.logger, s.metrics)
	breakerCfg := breaker.Config{
		FailureThreshold: s.config.Breaker.FailureThreshold,
		SuccessThreshold: s.config.Breaker.SuccessThreshold,
		RecoveryTimeout:  s.config.Breaker.RecoveryTimeout,
	}

	reg := adapters.NewRegistry(s.buildAdapters()...)
	co := coalesce.New(s.cacheImpl, s.metrics, s.logger)

	weights := routing.Weights{
		Output:      s.config.Route.Weights.Output,
		Fees:        s.config.Route.Weights.Fees,
		GasEstimate: s.config.Route.Weights.GasEstimate,
		Latency:     s.config.Route.Weights.Latency,
		Reliability: s.config.Route.Weights.Reliability,
	}
	envelopes := routing.Envelopes{
		OutputAmount:  s.config.Route.Envelopes.OutputAmount,
		FeeSaturation: s.config.Route.Envelopes.FeeSaturation,
		GasEstimate:   s.config.Route.Envelopes.GasEstimate,
		LatencyMs:     s.config.Route.Envelopes.LatencyMs,
	}

	engine := routing.New(reg, breakers, co, s.cacheImpl, quoteStore, s.metrics, s.logger, routing.Config{
		Weights:       weights,
		Envelopes:     envelopes,
		BreakerConfig: breakerCfg,
	})
	executor := swap.New(reg, breakers, quoteStore, swapStore, s.metrics, s.logger)

	handler := httpapi.NewHandler(engine, executor, quoteStore, s.logger)

	if s.config.Server.Host == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpapi.CorrelationIDMiddleware(), httpapi.LoggerMiddleware(s.logger), gin.Recovery(), httpapi.ErrorMiddleware())

	router.GET("/health", s.healthCheck)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := router.Group("/api/v1")
	handler.RegisterRoutes(v1)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.logger.Info("DEX Router initialized", zap.Int("port", s.config.Server.Port))
	return nil
}

func (s *Server) buildAdapters() []adapters.Adapter {
	jupiter := adapters.NewJupiterAdapter(adapters.JupiterConfig{
		BaseURL:        s.config.Adapters.Jupiter.BaseURL,
		Timeout:        s.config.Adapters.Jupiter.Timeout,
		RequestsPerSec: s.config.Adapters.Jupiter.RequestsPerSec,
	}, s.logger)

	okx := adapters.NewSignedAdapter("okx", adapters.SignedConfig{
		BaseURL:        s.config.Adapters.OKX.BaseURL,
		APIKey:         s.config.Adapters.OKX.APIKey,
		SecretKey:      s.config.Adapters.OKX.SecretKey,
		Passphrase:     s.config.Adapters.OKX.Passphrase,
		Timeout:        s.config.Adapters.OKX.Timeout,
		RequestsPerSec: s.config.Adapters.OKX.RequestsPerSec,
	}, s.logger)

	return []adapters.Adapter{jupiter, okx}
}

func (s *Server) initDatabase() error {
	s.logger.Info("connecting to postgres")

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.config.Database.Host, s.config.Database.Port, s.config.Database.Username,
		s.config.Database.Password, s.config.Database.Database, s.config.Database.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(s.config.Database.MaxOpenConns)
	db.SetMaxIdleConns(s.config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.Database.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	s.db = db
	return nil
}

func (s *Server) initCache() error {
	s.logger.Info("connecting to redis")

	redisCache, err := cache.NewRedisCache(cache.RedisConfig{
		Host:     s.config.Redis.Host,
		Port:     s.config.Redis.Port,
		Password: s.config.Redis.Password,
		DB:       s.config.Redis.DB,
		Prefix:   s.config.Redis.Prefix,
	})
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	s.cacheImpl = redisCache
	return nil
}

func (s *Server) start() error {
	s.logger.Info("starting HTTP server", zap.Int("port", s.config.Server.Port))

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	return nil
}

func (s *Server) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down DEX Router")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownWait)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("error shutting down HTTP server", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("error closing database connection", zap.Error(err))
		}
	}
	if s.cacheImpl != nil {
		if err := s.cacheImpl.Close(); err != nil {
			s.logger.Error("error closing cache connection", zap.Error(err))
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

func (s *Server) healthCheck(c *gin.Context) {
	status := gin.H{"status": "healthy", "timestamp": time.Now().UTC()}

	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			status["status"] = "unhealthy"
			status["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
	}

	if s.cacheImpl != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.cacheImpl.Health(ctx); err != nil {
			status["status"] = "unhealthy"
			status["cache"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
	}

	c.JSON(http.StatusOK, status)
}
