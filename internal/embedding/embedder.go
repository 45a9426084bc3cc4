// Package embedding provides multimodal embedding clients, a deterministic
// mock, and an LRU cache wrapper.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/hyperjump/pagerag/internal/models"
)

// MIMETypePNG is the only image encoding the pipeline produces.
const MIMETypePNG = "image/png"

// Content is one item to embed: either text or encoded image bytes.
type Content struct {
	Modality models.Modality
	Text     string
	Image    []byte
	MIMEType string
}

// TextContent wraps text for embedding.
func TextContent(text string) Content {
	return Content{Modality: models.ModalityText, Text: text}
}

// ImageContent wraps PNG bytes for embedding.
func ImageContent(png []byte) Content {
	return Content{Modality: models.ModalityImage, Image: png, MIMEType: MIMETypePNG}
}

// Key returns a stable identity for the content, suitable as a cache key.
func (c Content) Key() string {
	h := sha256.New()
	h.Write([]byte(c.Modality))
	h.Write([]byte{0})
	if c.Modality == models.ModalityImage {
		h.Write(c.Image)
	} else {
		h.Write([]byte(c.Text))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Embedder produces vectors for text and images. Any failure is reported as
// an embedding error; callers skip the item rather than abort.
type Embedder interface {
	Embed(ctx context.Context, content Content, role models.Role) ([]float32, error)
	// Dimensions returns the vector size, or 0 when it is only known after the first call.
	Dimensions() int
	Name() string
	Close() error
}
