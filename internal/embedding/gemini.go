package embedding

import (
	"context"

	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"google.golang.org/genai"
)

const geminiDefaultModel = "gemini-embedding-001"

// GeminiEmbedder embeds text with the Gemini API. Images are not supported.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiEmbedder creates a Gemini API client.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, ragerr.New(ragerr.CodeEmbeddingRequestInvalid, "gemini: missing API key")
	}
	if model == "" {
		model = geminiDefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeEmbeddingRequestInvalid, "gemini: create client")
	}
	return &GeminiEmbedder{client: client, model: model, dimensions: dimensions}, nil
}

func (g *GeminiEmbedder) Name() string    { return "gemini" }
func (g *GeminiEmbedder) Dimensions() int { return g.dimensions }
func (g *GeminiEmbedder) Close() error    { return nil }

func geminiTaskType(role models.Role) string {
	if role == models.RoleQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

func (g *GeminiEmbedder) Embed(ctx context.Context, content Content, role models.Role) ([]float32, error) {
	if content.Modality != models.ModalityText {
		return nil, ragerr.Errorf(ragerr.CodeEmbeddingUnsupported, "gemini: %s embeddings are not supported", content.Modality)
	}
	cfg := &genai.EmbedContentConfig{TaskType: geminiTaskType(role)}
	if g.dimensions > 0 {
		d := int32(g.dimensions)
		cfg.OutputDimensionality = &d
	}
	resp, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(content.Text), cfg)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeEmbeddingUpstreamFailure, "gemini: embed failed",
			ragerr.FieldProvider("gemini"))
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, ragerr.New(ragerr.CodeEmbeddingUpstreamFailure, "gemini: no embedding returned")
	}
	return resp.Embeddings[0].Values, nil
}
