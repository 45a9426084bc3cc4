package main

import (
	"context"

	"github.com/hyperjump/pagerag/internal/config"
	"github.com/hyperjump/pagerag/internal/embedding"
	"github.com/hyperjump/pagerag/internal/extract"
	"github.com/hyperjump/pagerag/internal/generate"
	"github.com/hyperjump/pagerag/internal/indexer"
	"github.com/hyperjump/pagerag/internal/keyword"
	"github.com/hyperjump/pagerag/internal/metrics"
	"github.com/hyperjump/pagerag/internal/search"
	"github.com/hyperjump/pagerag/internal/server"
	"github.com/hyperjump/pagerag/internal/storage"
	"github.com/hyperjump/pagerag/internal/vector"
	"go.uber.org/zap"
)

// needs selects which components a command builds.
type needs struct {
	embedder  bool
	generator bool
	keywords  bool
}

// Components holds initialized application components.
type Components struct {
	Storage  storage.Storage
	Registry *vector.Registry
	Keywords keyword.Index
	Embedder embedding.Embedder
	Indexer  *indexer.Indexer
	Engine   *search.Engine
	Metrics  *metrics.Metrics
}

// Close releases resources held by the components.
func (c *Components) Close() {
	if c.Registry != nil {
		_ = c.Registry.Persist()
	}
	if c.Keywords != nil {
		_ = c.Keywords.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, n needs) (*Components, error) {
	c := &Components{Metrics: metrics.New()}
	store, err := storage.NewSQLStorage(cfg.Storage.DatabaseDriver, cfg.Storage.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	c.Storage = store

	c.Registry, err = vector.NewRegistry(cfg.Storage.IndexDir, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	if n.keywords {
		// The keyword index is optional; another process may hold its lock.
		if b, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath); err != nil {
			logger.Warn("keyword index unavailable", zap.String("path", cfg.Storage.KeywordIndexPath), zap.Error(err))
		} else {
			c.Keywords = b
		}
	}

	if n.embedder {
		c.Embedder, err = embedding.New(ctx, cfg.Embedding, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
	}

	extractor := extract.NewExtractor(
		extract.WithDPI(float64(cfg.Extract.DPI)),
		extract.WithLogger(logger),
	)
	idxOpts := []indexer.IndexerOption{
		indexer.WithLogger(logger),
		indexer.WithMaxImagePixels(cfg.Extract.MaxImagePixels),
		indexer.WithMetrics(c.Metrics),
	}
	if c.Keywords != nil {
		idxOpts = append(idxOpts, indexer.WithKeywordIndex(c.Keywords))
	}
	c.Indexer = indexer.NewIndexer(extractor, c.Embedder, c.Registry, c.Storage, cfg.Storage.PreviewDir, idxOpts...)

	if n.embedder {
		var gen generate.Generator
		if n.generator {
			gen, err = generate.New(ctx, cfg.Generation, logger)
			if err != nil {
				c.Close()
				return nil, err
			}
		}
		retriever := search.NewRetriever(c.Registry, c.Embedder,
			search.WithDocumentChecker(c.Storage),
			search.WithLimits(cfg.Search.MaxK, cfg.Search.MaxQueryLength),
			search.WithRetrieverLogger(logger),
		)
		c.Engine = search.NewEngine(retriever, gen, search.EngineConfig{
			DefaultK:        cfg.Search.DefaultK,
			MaxBatchQueries: cfg.Search.MaxBatchQueries,
			WinnerPolicy:    cfg.Search.WinnerPolicy,
		}, search.WithPreviewURL(server.PreviewURL), search.WithLogger(logger), search.WithMetrics(c.Metrics))
	}
	return c, nil
}
