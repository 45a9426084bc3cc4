package generate

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIGenerator answers with an OpenAI-compatible chat completions API.
type OpenAIGenerator struct {
	client    openaisdk.Client
	model     string
	maxTokens int
}

// NewOpenAIGenerator creates a chat completions client.
func NewOpenAIGenerator(apiKey, baseURL, model string, maxTokens int) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, ragerr.New(ragerr.CodeGenerateRequestInvalid, "openai: missing API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIGenerator{client: openaisdk.NewClient(opts...), model: model, maxTokens: maxTokens}, nil
}

func (o *OpenAIGenerator) Name() string { return "openai" }

func (o *OpenAIGenerator) Answer(ctx context.Context, query string, ev Evidence) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	parts := []openaisdk.ChatCompletionContentPartUnionParam{
		openaisdk.TextContentPart(BuildPrompt(query, ev)),
	}
	if ev.Modality == models.ModalityImage {
		uri := "data:" + ev.mimeType() + ";base64," + base64.StdEncoding.EncodeToString(ev.Image)
		parts = append(parts, openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{URL: uri}))
	}
	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{openaisdk.UserMessage(parts)},
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(o.maxTokens))
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", ragerr.Wrap(err, ragerr.CodeGenerateUpstreamFailure, "openai: completion failed",
			ragerr.FieldProvider("openai"))
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", emptyReply("openai")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", emptyReply("openai")
	}
	return text, nil
}
