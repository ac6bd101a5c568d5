package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	engcfg "lodestar/internal/config"
	"lodestar/internal/engine"
	"lodestar/pkg/config"
	"lodestar/pkg/logging"
	"lodestar/pkg/monitoring"
	"lodestar/pkg/version"
)

func main() {
	// Initialize logger
	logger := logging.NewLoggerWithService("lodestar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.WithField("version", version.Version).Info("Starting Lodestar coordinator")

	cfg, err := engcfg.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("lodestar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("lodestar", version.Version, version.GetShortCommit())

	eng := engine.New(cfg, logger)
	eng.SetMetrics(metricsCollector)

	if err := eng.Start(); err != nil {
		logger.WithError(err).Fatal("Engine startup failed")
	}

	healthChecker.AddCheck("balance_score", monitoring.ScoreHealthCheck(cfg.BalanceThreshold, eng.LastBalanceScore))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"REALMS": config.GetEnv("REALMS", "primary=memory://"),
	}))

	// Admin surface: health, metrics and manual triggers, separate from
	// the managed rest/websocket flows.
	if config.GetEnv("GIN_MODE", "release") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.GET("/health", healthChecker.Handler())
	router.GET("/metrics", metricsCollector.Handler())
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Status())
	})
	router.POST("/diagnostics", func(c *gin.Context) {
		report, err := eng.RunDiagnostic()
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	})
	router.POST("/balance", func(c *gin.Context) {
		if err := eng.Balance(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusAccepted)
	})

	adminPort := config.GetEnv("ADMIN_PORT", "9090")
	srv := &http.Server{
		Addr:         ":" + adminPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithField("port", adminPort).Info("Starting admin server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start admin server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Admin server forced to shutdown")
	}

	eng.Stop()
	logger.Info("Shutdown complete")
}
