package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rpattn/dealreport/internal/auth"
	"github.com/rpattn/dealreport/internal/config"
	"github.com/rpattn/dealreport/internal/db"
	"github.com/rpattn/dealreport/internal/engine"
	"github.com/rpattn/dealreport/internal/export"
	"github.com/rpattn/dealreport/internal/logging"
	"github.com/rpattn/dealreport/internal/middleware"
	"github.com/rpattn/dealreport/internal/reports"
	"github.com/rpattn/dealreport/internal/repository"

	"github.com/bsm/redislock"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.GetLogger().WithError(err).Fatal("failed to load configuration")
	}
	logger, err := logging.Configure(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		logging.GetLogger().WithError(err).Fatal("failed to configure logging")
	}
	if cfg.ConfigFile != "" {
		logger.WithField("file", cfg.ConfigFile).Info("loaded configuration file")
	}

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database, logger.WithField("module", "db"))
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database.MigrationURL(), logger.WithField("module", "migrate")); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}

	// Create repositories
	calculationRepo := repository.NewCalculationRepository(conn.Pool)
	reportRepo := repository.NewReportRepository(conn.Pool, logger.WithField("module", "repository"))
	executionRepo := repository.NewExecutionLogRepository(conn.Pool)
	warehouseRepo := repository.NewWarehouseRepository(conn.Pool)

	reportEngine := engine.New(conn.Pool,
		engine.WithLogger(logger.WithField("module", "engine")),
		engine.WithStatementTimeout(cfg.Engine.StatementTimeout),
	)

	opts := []reports.Option{reports.WithLogger(logger.WithField("module", "reports"))}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).WithField("addr", cfg.Redis.Addr).Fatal("failed to connect to redis")
		}
		opts = append(opts,
			reports.WithPreviewCache(reports.NewRedisPreviewCache(rdb, cfg.Redis.PreviewTTL)),
			reports.WithLocker(reports.NewRedisLocker(redislock.New(rdb), cfg.Redis.LockTTL)),
		)
		logger.WithField("addr", cfg.Redis.Addr).Info("redis preview cache and execution lock enabled")
	}
	service := reports.NewService(calculationRepo, reportRepo, executionRepo, warehouseRepo, reportEngine, opts...)

	mux := http.NewServeMux()
	reports.NewHTTPHandler(service).Register(mux)
	mux.Handle("POST /api/reports/{id}/export", export.NewHTTPHandler(service, export.NewService()))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.Pool.Ping(r.Context()); err != nil {
			reports.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		reports.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", middleware.RequestIDHeader, "X-Row-Count"},
	})

	handler := corsHandler.Handler(
		middleware.LoggingMiddleware(logger.WithField("module", "http"))(
			auth.CallerMiddleware(
				middleware.DataLoaderMiddleware(calculationRepo)(mux),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("addr", cfg.Server.Addr).Info("starting reporting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"error": err}).Error("server forced to shutdown")
		return
	}

	logger.Info("server exited")
}
