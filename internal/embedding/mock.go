package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

// MockEmbedder is a deterministic embedder for tests and offline runs. It returns a
// fixed-dimension vector derived from the content hash so the same input always
// gets the same embedding. Role does not change the vector.
type MockEmbedder struct {
	dimensions int
	// FailOn makes Embed fail for matching content, to exercise skip paths.
	FailOn func(Content) bool
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic unit vector based on the content hash.
func (e *MockEmbedder) Embed(ctx context.Context, content Content, role models.Role) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeEmbeddingUpstreamFailure, "mock embed cancelled")
	}
	if e.FailOn != nil && e.FailOn(content) {
		return nil, ragerr.New(ragerr.CodeEmbeddingUpstreamFailure, "mock embedder configured to fail")
	}
	var h int
	switch content.Modality {
	case models.ModalityImage:
		h = HashString(string(content.Image))
	case models.ModalityText:
		h = HashString(content.Text)
	default:
		return nil, ragerr.Errorf(ragerr.CodeEmbeddingRequestInvalid, "unknown modality %q", content.Modality)
	}
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	var sum float64
	for _, v := range emb {
		sum += float64(v * v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range emb {
			emb[i] *= float32(norm)
		}
	}
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *MockEmbedder) Name() string { return "mock" }

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// HashString returns a deterministic hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
