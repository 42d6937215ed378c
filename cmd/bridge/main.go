package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"studiobridge/internal/app"
	"studiobridge/internal/bridge"
	"studiobridge/internal/browser"
	"studiobridge/internal/config"
	"studiobridge/internal/logging"
	"studiobridge/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the StudioBridge config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logging is not up yet; stderr is the last resort.
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.Server.LogFile, cfg.Server.LogLevel)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("name", cfg.Server.Name),
		zap.String("version", cfg.Server.Version))

	kv := store.Open(cfg.Storage.Path, cfg.Storage.FallbackPath, logger.Named("store"))
	defer func() { _ = kv.Close() }()

	st := store.New(kv, cfg.Storage.Key, logger.Named("store"))
	if _, err := st.Load(); err != nil {
		logger.Fatal("failed to load state", zap.Error(err))
	}

	conn := browser.New(cfg.Browser, cfg.Host, logger.Named("browser"))
	if err := conn.Start(ctx); err != nil {
		logger.Fatal("failed to connect to browser", zap.Error(err))
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.AttachHostPage(ctx); err != nil {
		logger.Fatal("failed to attach to host page", zap.Error(err))
	}

	core := app.New(cfg, conn, st, logger.Named("app"))
	srv, err := bridge.NewServer(cfg.Bridge, cfg.Host.Origin, core, logger.Named("bridge"))
	if err != nil {
		logger.Fatal("failed to build bridge server", zap.Error(err))
	}
	core.SetBridge(srv)

	// Config hot reload covers log level and selector tweaks; structural
	// settings (listen address, browser endpoint) still need a restart.
	if err := config.Watch(ctx, *configPath, logger, core.ApplyConfig); err != nil {
		logger.Warn("config watch unavailable", zap.Error(err))
	}

	go core.Run(ctx)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("bridge server exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
