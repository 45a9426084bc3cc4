package generate

import (
	"context"

	"github.com/hyperjump/pagerag/internal/config"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/hyperjump/pagerag/pkg/utils"
	"go.uber.org/zap"
)

// New builds the generator named by cfg.Provider. API keys must already be resolved.
func New(ctx context.Context, cfg config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	logger = utils.OrNop(logger)
	var (
		g   Generator
		err error
	)
	switch cfg.Provider {
	case "gemini", "":
		g, err = NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, cfg.MaxTokens)
	case "openai":
		g, err = NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens)
	case "anthropic":
		g, err = NewAnthropicGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens)
	case "mock":
		g = &MockGenerator{}
	case "none":
		g = disabledGenerator{}
	default:
		return nil, ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue, "unknown generation provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("generation provider ready", zap.String("provider", g.Name()), zap.String("model", cfg.Model))
	return g, nil
}
