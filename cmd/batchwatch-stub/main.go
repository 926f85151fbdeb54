// Package main provides a stub processing server for batchwatch development.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/raphaelgruber/batchwatch/internal/config"
	"github.com/raphaelgruber/batchwatch/internal/stubserver"
)

func main() {
	// Parse flags
	maxFiles := flag.Int("max-files", 0, "reject submissions with more files (0 = unlimited)")
	failEvery := flag.Int("fail-every", 0, "answer every Nth progress query with 503 (0 = never)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Initialize logging
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel, true)
	defer closeLog()
	slog.SetDefault(logger)

	if cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	stubCfg := stubserver.DefaultConfig()
	stubCfg.BatchSize = cfg.StubBatchSize
	stubCfg.StepDelay = cfg.StubStepDelay
	stubCfg.MaxFiles = *maxFiles
	stubCfg.FailEveryNthPoll = *failEvery

	srv := stubserver.New(stubCfg, logger)
	defer srv.Close()

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         ":" + cfg.StubPort,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Minute, // Large multipart bodies
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("stub server listening",
			"url", fmt.Sprintf("http://localhost:%s/api", cfg.StubPort),
			"batch_size", stubCfg.BatchSize,
			"step_delay", stubCfg.StepDelay)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		return
	}

	slog.Info("server stopped")
}
