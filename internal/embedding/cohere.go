package embedding

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/core"
	"github.com/cohere-ai/cohere-go/v2/option"
	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

const cohereDefaultModel = "embed-v4.0"

// CohereConfig configures the Cohere v2 embed client.
type CohereConfig struct {
	// BaseURL overrides the API host; empty uses the SDK default.
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// CohereEmbedder calls the Cohere v2 embed endpoint. It embeds text and images
// into the same space, with asymmetric input types for queries and documents.
type CohereEmbedder struct {
	client     *cohereclient.Client
	model      string
	dimensions int

	mu       sync.Mutex
	observed int
}

// NewCohereEmbedder validates cfg and returns a client.
func NewCohereEmbedder(cfg CohereConfig) (*CohereEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, ragerr.New(ragerr.CodeEmbeddingRequestInvalid, "cohere: missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = cohereDefaultModel
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	opts := []option.RequestOption{
		option.WithToken(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: t}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &CohereEmbedder{
		client:     cohereclient.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (c *CohereEmbedder) Name() string { return "cohere" }

func (c *CohereEmbedder) Dimensions() int {
	if c.dimensions > 0 {
		return c.dimensions
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed
}

func (c *CohereEmbedder) Close() error { return nil }

func cohereInputType(role models.Role) cohere.EmbedInputType {
	if role == models.RoleQuery {
		return cohere.EmbedInputTypeSearchQuery
	}
	return cohere.EmbedInputTypeSearchDocument
}

// Embed sends one item to Cohere. Images travel as base64 data URIs.
func (c *CohereEmbedder) Embed(ctx context.Context, content Content, role models.Role) ([]float32, error) {
	req := &cohere.V2EmbedRequest{
		Model:          c.model,
		InputType:      cohereInputType(role),
		EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
	}
	switch content.Modality {
	case models.ModalityText:
		req.Texts = []string{content.Text}
	case models.ModalityImage:
		mime := content.MIMEType
		if mime == "" {
			mime = MIMETypePNG
		}
		req.Images = []string{fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(content.Image))}
	default:
		return nil, ragerr.Errorf(ragerr.CodeEmbeddingRequestInvalid, "cohere: unknown modality %q", content.Modality)
	}
	if c.dimensions > 0 {
		dim := c.dimensions
		req.OutputDimension = &dim
	}

	resp, err := c.client.V2.Embed(ctx, req)
	if err != nil {
		fields := []ragerr.Attr{ragerr.FieldProvider("cohere")}
		var apiErr *core.APIError
		if errors.As(err, &apiErr) {
			fields = append(fields, ragerr.Field("status", apiErr.StatusCode))
		}
		return nil, ragerr.Wrap(err, ragerr.CodeEmbeddingUpstreamFailure, "cohere: embed failed", fields...)
	}
	if resp == nil || resp.Embeddings == nil || len(resp.Embeddings.Float) == 0 || len(resp.Embeddings.Float[0]) == 0 {
		return nil, ragerr.New(ragerr.CodeEmbeddingUpstreamFailure, "cohere: no embedding returned")
	}
	v := toFloat32(resp.Embeddings.Float[0])
	c.mu.Lock()
	if c.observed == 0 {
		c.observed = len(v)
	}
	c.mu.Unlock()
	return v, nil
}
