package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/seojinpark/crosspost/internal/authflow"
	"github.com/seojinpark/crosspost/internal/bluesky"
	"github.com/seojinpark/crosspost/internal/config"
	"github.com/seojinpark/crosspost/internal/domain"
	"github.com/seojinpark/crosspost/internal/httpserver"
	"github.com/seojinpark/crosspost/internal/imaging"
	"github.com/seojinpark/crosspost/internal/misskey"
	"github.com/seojinpark/crosspost/internal/session"
	"github.com/seojinpark/crosspost/internal/twitter"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := session.NewSQLiteStore(cfg.DatabasePath, cfg.CookieSecret)
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}
	defer store.Close()
	logger.Info("opened session store", "path", cfg.DatabasePath)

	adapters := []domain.Adapter{
		twitter.NewClient(twitter.Config{
			ClientID:     cfg.TwitterClientID,
			ClientSecret: cfg.TwitterClientSecret,
			RedirectURI:  cfg.RedirectURI("twitter"),
		}),
		bluesky.NewClient(bluesky.Config{
			ClientID:    cfg.ClientMetadataURL(),
			RedirectURI: cfg.RedirectURI("bluesky"),
			PDS:         cfg.BlueskyPDS,
		}),
		misskey.NewClient(misskey.Config{
			ClientID:    cfg.PublicURL,
			RedirectURI: cfg.RedirectURI("misskey"),
		}),
	}

	queue := domain.NewPublishQueue()
	orchestrator := domain.NewOrchestrator(adapters, store, imaging.NewPipeline(), queue, logger)
	flow := authflow.NewFlow(adapters, authflow.NewMemoryStore(), store, logger)

	// Set up graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	server := httpserver.NewServer(cfg, orchestrator, flow, store, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "public_url", cfg.PublicURL)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	// Let in-flight publish jobs reach a terminal state before exiting.
	orchestrator.Wait()

	return nil
}
