package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coursedrive/coursedrive/engine"
	"github.com/coursedrive/coursedrive/internal/config"
	"github.com/coursedrive/coursedrive/internal/ingest"
	"github.com/coursedrive/coursedrive/internal/logging"
	"github.com/coursedrive/coursedrive/internal/remote"
	"github.com/coursedrive/coursedrive/internal/stats"
	"github.com/coursedrive/coursedrive/internal/upload"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("coursedrive starting",
		slog.String("version", Version),
		slog.String("course", cfg.CourseID),
		slog.Int("upload_concurrency", cfg.UploadConcurrency),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statsPath := cfg.StatsDBPath
	if statsPath == "" {
		statsPath, err = stats.DefaultPath()
		if err != nil {
			return err
		}
	}

	savings, err := stats.Open(statsPath)
	if err != nil {
		return fmt.Errorf("opening stats db: %w", err)
	}
	defer savings.Close()

	eng := engine.New(engine.Config{
		CourseID:    cfg.CourseID,
		Service:     remote.NewClient(cfg.APIBaseURL, nil),
		Savings:     savings,
		Logger:      logger,
		Concurrency: cfg.UploadConcurrency,
		Policy: upload.Policy{
			MaxFileSize:  cfg.MaxFileSizeBytes(),
			AllowedTypes: cfg.AllowedTypes,
		},
	})

	eng.Start(ctx)
	defer eng.Stop()

	if err := eng.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrating state: %w", err)
	}

	logger.Info("state hydrated",
		slog.Int("files", len(eng.Files())),
		slog.Int("folders", len(eng.Folders())),
	)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.DropDir != "" {
		watcher := ingest.NewWatcher(cfg.DropDir, cfg.CourseID, "", eng.Queue(), logging.ForComponent(logger, "ingest"))
		g.Go(func() error {
			return watcher.Watch(gctx)
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("coursedrive stopped")

	return nil
}
