package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/alburaq/catalogsync/internal/blobstore"
	"github.com/alburaq/catalogsync/internal/catalog"
	"github.com/alburaq/catalogsync/internal/catalogapi"
	"github.com/alburaq/catalogsync/internal/config"
	"github.com/alburaq/catalogsync/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "config file (.toml, .yaml)")
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash of a password for CATALOG_SERVER_ADMIN_PASSWORD_HASH and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := catalogapi.HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("failed to hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	boot, _, err := logging.New(logging.Options{})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	cfg, err := config.Load(config.LoadOptions{File: *configFile, Logger: boot})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, logFile, err := logging.New(logging.Options{Mode: cfg.Log.Mode, Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
		_ = logFile.Close()
	}()
	zap.ReplaceGlobals(logger)

	server, store, err := buildServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize catalog server", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, cfg.Server, server, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func buildServer(cfg config.Config, logger *zap.Logger) (*catalogapi.Server, blobstore.Store, error) {
	store, err := blobstore.BuildFromDSN(cfg.Server.StoreDSN, blobstore.Options{GitHubToken: cfg.Server.GitHubToken})
	if err != nil {
		return nil, nil, fmt.Errorf("open document store: %w", err)
	}
	validator, err := catalog.NewValidator()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	if cfg.Server.JWTSecret == "" {
		logger.Warn("no jwt secret configured, catalog writes are unauthenticated")
	}
	server := catalogapi.NewServer(store, validator, catalogapi.Config{
		JWTSecret:         cfg.Server.JWTSecret,
		AdminUser:         cfg.Server.AdminUser,
		AdminPasswordHash: cfg.Server.AdminPasswordHash,
		TokenTTL:          cfg.Server.TokenTTL,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		Logger:            logger,
	})
	return server, store, nil
}

// serve runs the HTTP server until ctx is done, then drains it within the
// configured shutdown timeout.
func serve(ctx context.Context, cfg config.ServerConfig, server *catalogapi.Server, logger *zap.Logger) error {
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("catalog server listening", zap.String("addr", cfg.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down catalog server")
	_ = server.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("catalog server stopped")
	return nil
}
