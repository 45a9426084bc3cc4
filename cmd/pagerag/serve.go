package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperjump/pagerag/internal/server"
	"github.com/hyperjump/pagerag/internal/tasks"
	"github.com/hyperjump/pagerag/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, task workers and inbox watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *globalOptions) error {
	cfg, logger, err := setup(opts, true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, needs{embedder: true, generator: true, keywords: true})
	if err != nil {
		logger.Error("Failed to initialize components", zap.Error(err))
		return err
	}
	defer components.Close()

	// Workers get a context that outlives the signal so queued tasks drain on shutdown.
	queue := tasks.NewQueue(components.Storage, components.Indexer, cfg.Tasks.QueueSize,
		tasks.WithWorkers(cfg.Tasks.Workers),
		tasks.WithLogger(logger),
	)
	queue.Start(context.Background())
	defer queue.Stop()

	if len(cfg.Watch.Directories) > 0 {
		inbox := watcher.NewInbox(cfg.Watch.Directories, cfg.Watch.Scope, queue,
			watcher.WithLogger(logger),
			watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
			watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMS)*time.Millisecond),
		)
		if err := inbox.Start(ctx); err != nil {
			logger.Error("Failed to start inbox watcher", zap.Error(err))
			return err
		}
		defer inbox.Stop()
		logger.Info("watching inbox", zap.Strings("directories", inbox.Directories()), zap.String("scope", cfg.Watch.Scope))
	}

	srvOpts := []server.Option{server.WithTaskQueue(queue), server.WithMetrics(components.Metrics)}
	if components.Keywords != nil {
		srvOpts = append(srvOpts, server.WithKeywordIndex(components.Keywords))
	}
	srv := server.NewServer(components.Engine, components.Indexer, components.Storage, components.Registry, cfg, logger, srvOpts...)
	if err := srv.Start(ctx); err != nil {
		logger.Error("Server failed", zap.Error(err))
		return err
	}
	logger.Info("Shutting down...")
	return nil
}
