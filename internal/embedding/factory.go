package embedding

import (
	"context"
	"time"

	"github.com/hyperjump/pagerag/internal/config"
	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/hyperjump/pagerag/pkg/utils"
	"go.uber.org/zap"
)

// New builds the embedder named by cfg.Provider, adding normalization and the
// query cache when configured. API keys must already be resolved.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	logger = utils.OrNop(logger)
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case "cohere", "":
		inner, err = NewCohereEmbedder(CohereConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	case "gemini":
		inner, err = NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions)
	case "openai":
		inner, err = NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case "mock":
		inner = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue, "unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("embedding provider ready",
		zap.String("provider", inner.Name()),
		zap.String("model", cfg.Model),
		zap.Bool("normalize", cfg.Normalize),
	)
	if cfg.Normalize {
		inner = &normalizingEmbedder{Embedder: inner}
	}
	if cfg.CacheSize > 0 {
		inner = NewCachedEmbedder(inner, cfg.CacheSize)
	}
	return inner, nil
}

// normalizingEmbedder scales every vector to unit L2 norm.
type normalizingEmbedder struct {
	Embedder
}

func (n *normalizingEmbedder) Embed(ctx context.Context, content Content, role models.Role) ([]float32, error) {
	v, err := n.Embedder.Embed(ctx, content, role)
	if err != nil {
		return nil, err
	}
	utils.NormalizeL2(v)
	return v, nil
}
