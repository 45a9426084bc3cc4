package generate

import (
	"context"
	"strings"

	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"google.golang.org/genai"
)

// GeminiGenerator answers with the Gemini API.
type GeminiGenerator struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGeminiGenerator creates a Gemini API client.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, maxTokens int) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, ragerr.New(ragerr.CodeGenerateRequestInvalid, "gemini: missing API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeGenerateRequestInvalid, "gemini: create client")
	}
	return &GeminiGenerator{client: client, model: model, maxTokens: maxTokens}, nil
}

func (g *GeminiGenerator) Name() string { return "gemini" }

func (g *GeminiGenerator) Answer(ctx context.Context, query string, ev Evidence) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	parts := []*genai.Part{{Text: BuildPrompt(query, ev)}}
	if ev.Modality == models.ModalityImage {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: ev.mimeType(), Data: ev.Image}})
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}
	var cfg *genai.GenerateContentConfig
	if g.maxTokens > 0 {
		cfg = &genai.GenerateContentConfig{MaxOutputTokens: int32(g.maxTokens)}
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", ragerr.Wrap(err, ragerr.CodeGenerateUpstreamFailure, "gemini: generate failed",
			ragerr.FieldProvider("gemini"))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", emptyReply("gemini")
	}
	return text, nil
}
