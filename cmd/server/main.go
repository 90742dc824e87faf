package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sumire/userlink/internal/config"
	"github.com/sumire/userlink/internal/handler"
	"github.com/sumire/userlink/internal/provider"
	"github.com/sumire/userlink/internal/repository"
	"github.com/sumire/userlink/internal/repository/migrations"
	"github.com/sumire/userlink/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := context.Background()
	dialect := repository.Dialect(cfg.DatabaseDriver)

	db, err := repository.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	slog.Info("database connected", "driver", cfg.DatabaseDriver)

	if cfg.AutoMigrate {
		if err := migrations.Up(ctx, db.DB, string(dialect)); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		slog.Info("database migrated")
	}

	userRepo := repository.NewUserRepository(db)
	identitySvc := service.NewIdentityService(userRepo, logger)

	var providers []provider.Provider
	if cfg.GoogleClientID != "" {
		providers = append(providers, provider.NewGoogle(provider.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.CallbackURL("google"),
		}))
	}
	if cfg.GitHubClientID != "" {
		providers = append(providers, provider.NewGitHub(provider.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.CallbackURL("github"),
		}))
	}
	registry := provider.NewRegistry(providers...)
	slog.Info("oauth providers configured", "providers", registry.Names())

	e := handler.NewEcho(logger, []string{cfg.FrontendURL})
	handler.RegisterRoutes(e,
		handler.NewUserHandler(identitySvc),
		handler.NewAuthHandler(registry, identitySvc),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
