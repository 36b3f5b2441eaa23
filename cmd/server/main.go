// Command server starts the chatrelay WebSocket relay.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/real-rm/chatrelay"
	"github.com/real-rm/chatrelay/internal/config"
	"github.com/real-rm/chatrelay/internal/constants"
	"github.com/real-rm/chatrelay/internal/migrate"
	"github.com/real-rm/chatrelay/internal/store"
)

// loadConfiguration loads .env (if present) and the environment config
func loadConfiguration() (*config.Config, error) {
	// A missing .env file is fine; explicit environment wins either way
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initializeLogger initializes the production logger
func initializeLogger() (*zap.SugaredLogger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// NewHTTPServer creates an HTTP server with production-safe timeout defaults.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}
}

// runWithSignalChannel is a testable version of run that accepts a signal channel
func runWithSignalChannel(sigChan chan os.Signal) error {
	ctx := context.Background()

	// Load configuration
	cfg, err := loadConfiguration()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Initialize logger
	logger, err := initializeLogger()
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Apply schema migrations
	// No else needed: optional operation (migrations can be disabled)
	if cfg.Database.RunMigrations {
		if err := migrate.Up(ctx, cfg.Database.DSN); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("Schema migrations applied")
	}

	// Connect the message store
	st, err := store.Connect(ctx, cfg.Database.DSN, cfg.Database.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer st.Close()

	// Build the engine and register the relay
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	service, err := chatrelay.Register(engine, cfg, logger, st)
	if err != nil {
		return fmt.Errorf("register relay: %w", err)
	}

	server := NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), engine)

	errChan := make(chan error, 1)
	go func() {
		logger.Infow("Server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or server failure
	select {
	case sig := <-sigChan:
		logger.Infow("Shutting down gracefully", "signal", sig.String())
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	// No else needed: error handling (logged, shutdown continues)
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("Relay shutdown incomplete", "error", err)
	}
	return server.Shutdown(shutdownCtx)
}

// runMain is the testable main function
func runMain() error {
	sigChan := setupSignalHandler()
	return runWithSignalChannel(sigChan)
}

func main() {
	if err := runMain(); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
