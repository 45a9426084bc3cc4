package embedding

import (
	"context"

	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openaiDefaultModel = "text-embedding-3-small"

// OpenAIEmbedder embeds text with the OpenAI embeddings API (or any compatible
// server via BaseURL). Images are not supported. Role is ignored.
type OpenAIEmbedder struct {
	client     openaisdk.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an OpenAI embeddings client.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, ragerr.New(ragerr.CodeEmbeddingRequestInvalid, "openai: missing API key")
	}
	if model == "" {
		model = openaiDefaultModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{
		client:     openaisdk.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}, nil
}

func (o *OpenAIEmbedder) Name() string    { return "openai" }
func (o *OpenAIEmbedder) Dimensions() int { return o.dimensions }
func (o *OpenAIEmbedder) Close() error    { return nil }

func (o *OpenAIEmbedder) Embed(ctx context.Context, content Content, _ models.Role) ([]float32, error) {
	if content.Modality != models.ModalityText {
		return nil, ragerr.Errorf(ragerr.CodeEmbeddingUnsupported, "openai: %s embeddings are not supported", content.Modality)
	}
	params := openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfString: openaisdk.String(content.Text)},
		Model: openaisdk.EmbeddingModel(o.model),
	}
	if o.dimensions > 0 {
		params.Dimensions = openaisdk.Int(int64(o.dimensions))
	}
	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeEmbeddingUpstreamFailure, "openai: embed failed",
			ragerr.FieldProvider("openai"))
	}
	if resp == nil || len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ragerr.New(ragerr.CodeEmbeddingUpstreamFailure, "openai: no embedding returned")
	}
	return toFloat32(resp.Data[0].Embedding), nil
}

func toFloat32(src []float64) []float32 {
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = float32(v)
	}
	return out
}
