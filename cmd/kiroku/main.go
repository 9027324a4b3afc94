// Package main is the Kiroku server entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiroku/internal/builder"
	"github.com/hyperjump/kiroku/internal/config"
	"github.com/hyperjump/kiroku/internal/preprocess"
	"github.com/hyperjump/kiroku/internal/queue"
	"github.com/hyperjump/kiroku/internal/resource"
	"github.com/hyperjump/kiroku/internal/search"
	"github.com/hyperjump/kiroku/internal/server"
	"github.com/hyperjump/kiroku/internal/service"
	"github.com/hyperjump/kiroku/internal/storage"
	"github.com/hyperjump/kiroku/internal/syncer"
	"github.com/hyperjump/kiroku/internal/watcher"
	"github.com/hyperjump/kiroku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kiroku/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "config file path")
	debug := flag.Bool("debug", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kiroku version %s\n", version)
		return
	}

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("kiroku failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	layout := storage.NewLayout(cfg.Storage.DataDir)
	if err := layout.EnsureDirs(); err != nil {
		return err
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()
	index := storage.NewIndex(store)

	suggest, err := search.NewIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return err
	}
	defer suggest.Close()

	guard := resource.NewGuard()
	pre, err := preprocess.NewProcessor(layout.ScratchDir(), guard, cfg.Processing)
	if err != nil {
		return err
	}

	var remote syncer.Remote = syncer.Disabled{}
	if cfg.Sync.Endpoint != "" {
		remote = syncer.NewHTTPRemote(cfg.Sync.Endpoint)
	}
	uploader := syncer.NewUploader(store, remote, cfg.Sync.QueueSize, cfg.Sync.MaxRetries, logger)
	puller := syncer.NewPuller(store, remote, logger)
	sync := syncer.New(store, uploader, puller,
		time.Duration(cfg.Sync.PullIntervalSeconds)*time.Second, logger)

	ops := queue.New(cfg.Sync.QueueSize, logger)
	defer ops.Close()

	svc := service.New(store, index, layout, ops, pre, builder.New(), guard,
		remote, uploader, suggest, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go sync.Run(ctx)

	integrity := watcher.New(
		[]string{layout.DocumentsDir(), layout.ThumbnailsDir(), layout.PageImagesDir()},
		func(string) { store.Invalidate() },
		logger,
	)
	if err := integrity.Start(ctx); err != nil {
		logger.Warn("integrity watcher unavailable", zap.Error(err))
	} else {
		defer integrity.Stop()
	}

	// Opportunistic scratch cleanup on startup and once an hour.
	pruneScratch(pre, cfg, logger)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruneScratch(pre, cfg, logger)
			}
		}
	}()

	srv := server.NewServer(svc, sync, store, layout, cfg, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("server shutdown failed", zap.Error(err))
		}
	}
	return nil
}

func pruneScratch(pre *preprocess.Processor, cfg *config.Config, logger *zap.Logger) {
	maxAge := time.Duration(cfg.Processing.ScratchMaxAgeHours) * time.Hour
	if err := pre.PruneScratch(cfg.Processing.ScratchKeep, maxAge); err != nil {
		logger.Warn("scratch prune failed", zap.Error(err))
	}
}
