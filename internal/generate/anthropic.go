package generate

import (
	"context"
	"encoding/base64"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

// AnthropicGenerator answers with the Anthropic Messages API.
type AnthropicGenerator struct {
	client    anthropicsdk.Client
	model     string
	maxTokens int
}

// NewAnthropicGenerator creates a Messages API client.
func NewAnthropicGenerator(apiKey, baseURL, model string, maxTokens int) (*AnthropicGenerator, error) {
	if apiKey == "" {
		return nil, ragerr.New(ragerr.CodeGenerateRequestInvalid, "anthropic: missing API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicGenerator{client: anthropicsdk.NewClient(opts...), model: model, maxTokens: maxTokens}, nil
}

func (a *AnthropicGenerator) Name() string { return "anthropic" }

func (a *AnthropicGenerator) Answer(ctx context.Context, query string, ev Evidence) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	var blocks []anthropicsdk.ContentBlockParamUnion
	if ev.Modality == models.ModalityImage {
		blocks = append(blocks, anthropicsdk.NewImageBlockBase64(ev.mimeType(), base64.StdEncoding.EncodeToString(ev.Image)))
	}
	blocks = append(blocks, anthropicsdk.NewTextBlock(BuildPrompt(query, ev)))

	msg, err := a.client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(a.model),
		MaxTokens: int64(a.maxTokens),
		Messages:  []anthropicsdk.MessageParam{anthropicsdk.NewUserMessage(blocks...)},
	})
	if err != nil {
		return "", ragerr.Wrap(err, ragerr.CodeGenerateUpstreamFailure, "anthropic: message failed",
			ragerr.FieldProvider("anthropic"))
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", emptyReply("anthropic")
	}
	return text, nil
}
