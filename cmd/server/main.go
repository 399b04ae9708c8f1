package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/emofelix-web/internal/callsetup"
	"github.com/MegaGrindStone/emofelix-web/internal/handlers"
	"github.com/MegaGrindStone/emofelix-web/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("error getting user config dir: %w", err)
	}
	cfgPath := filepath.Join(cfgDir, "emofelix")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	cfg, err := loadConfig(filepath.Join(cfgPath, "config.yaml"), defaultConfig(cfgPath))
	if err != nil {
		return err
	}

	logger := slog.New(cfg.Log.handler(os.Stderr))
	slog.SetDefault(logger)

	// No client timeout: the same client serves long-lived chat streams, which are bounded by
	// stream.timeout instead.
	httpClient := &http.Client{}

	completer, err := cfg.AI.completer(httpClient, logger)
	if err != nil {
		return err
	}

	boltDB, err := services.NewBoltDB(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer boltDB.Close()

	handoffBackend, closeHandoff := cfg.Handoff.backend()
	defer closeHandoff()

	backend := services.NewBackend(cfg.API.BaseURL, cfg.API.StreamPath, httpClient, logger)

	m := handlers.NewMain(
		func(token string) handlers.Backend { return backend.WithToken(token) },
		callsetup.NewPreparer(completer, logger),
		handoffBackend,
		boltDB,
		handlers.StreamConfig{
			MaxResponseBytes: cfg.Stream.MaxResponseBytes,
			Timeout:          cfg.Stream.Timeout,
			EndSentinel:      cfg.Stream.EndSentinel,
		},
		logger,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           m.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("provider", cfg.AI.Provider),
			slog.String("handoff", cfg.Handoff.Backend))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				return fmt.Errorf("forcing server close: %w", err)
			}
		}
	}

	return nil
}
