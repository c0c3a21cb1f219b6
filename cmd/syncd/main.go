package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"civicsync/internal/config"
	cronrunner "civicsync/internal/cron"
	"civicsync/internal/db"
	"civicsync/internal/endpoint"
	"civicsync/internal/handler"
	"civicsync/internal/logger"
	gormrepository "civicsync/internal/repository/gorm"
	"civicsync/internal/service"
)

func main() {
	cfgPath := os.Getenv("CS_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("CS_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := gormrepository.New(dbConn.Gorm)
	registry := service.NewSessionRegistry()

	queueSvc := &service.QueueService{Repo: store, Logger: logger}
	cacheSvc := &service.CacheService{
		Repo:              store,
		Logger:            logger,
		MaxBytesPerDevice: cfg.Cache.MaxBytesPerDevice,
		DefaultTTL:        cfg.Cache.DefaultTTL,
		EvictionScanLimit: cfg.Cache.EvictionScanLimit,
	}
	conflictSvc := &service.ConflictService{Repo: store, QueueRepo: store, Logger: logger}

	endpointHTTP := &http.Client{Timeout: cfg.Endpoint.Timeout}
	syncEndpoint := endpoint.NewClient(endpointHTTP, cfg.Endpoint.BaseURL)

	orchestrator := &service.Orchestrator{
		Repo:        store,
		Queue:       queueSvc,
		Conflicts:   conflictSvc,
		Endpoint:    syncEndpoint,
		Registry:    registry,
		Logger:      logger,
		BatchSize:   cfg.Sync.BatchSize,
		ItemTimeout: cfg.Sync.ItemTimeout,
	}
	if err := orchestrator.RecoverInterrupted(ctx); err != nil {
		logger.Warn("startup recovery failed", zap.Error(err))
	}

	statsSvc := &service.StatsService{
		Repo:              store,
		Registry:          registry,
		MaxBytesPerDevice: cfg.Cache.MaxBytesPerDevice,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	queueHandler := &handler.QueueHandler{Queue: queueSvc, Repo: store}
	queueHandler.Register(engine)
	cacheHandler := &handler.CacheHandler{Cache: cacheSvc}
	cacheHandler.Register(engine)
	conflictHandler := &handler.ConflictHandler{Conflicts: conflictSvc}
	conflictHandler.Register(engine)
	syncHandler := &handler.SyncHandler{Orchestrator: orchestrator, Stats: statsSvc}
	syncHandler.Register(engine)

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)
		cleanup := &service.CleanupService{
			Repo:             store,
			Logger:           logger,
			QueueRetention:   cfg.Retention.CompletedQueue,
			SessionRetention: cfg.Retention.Sessions,
		}
		if _, err := cronRunner.Add(cfg.Cron.Cleanup, cleanup.Run); err != nil {
			logger.Warn("cron register cleanup failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
