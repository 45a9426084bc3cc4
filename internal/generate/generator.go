// Package generate produces a natural-language answer from a query and a
// single piece of retrieved evidence, using a multimodal chat model.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

// Evidence is the retrieved item the answer is grounded on.
type Evidence struct {
	Modality models.Modality
	Text     string
	Image    []byte
	MIMEType string
	Source   string
	Page     int
}

// Generator answers a query from evidence. Each call makes exactly one
// upstream attempt; any failure, including an empty reply, is a generation error.
type Generator interface {
	Answer(ctx context.Context, query string, ev Evidence) (string, error)
	Name() string
}

// Validate checks that ev carries the payload its modality requires.
func (ev Evidence) Validate() error {
	switch ev.Modality {
	case models.ModalityText:
		if strings.TrimSpace(ev.Text) == "" {
			return ragerr.New(ragerr.CodeGenerateRequestInvalid, "text evidence is empty")
		}
	case models.ModalityImage:
		if len(ev.Image) == 0 {
			return ragerr.New(ragerr.CodeGenerateRequestInvalid, "image evidence is empty")
		}
	default:
		return ragerr.Errorf(ragerr.CodeGenerateRequestInvalid, "unknown evidence modality %q", ev.Modality)
	}
	return nil
}

func (ev Evidence) mimeType() string {
	if ev.MIMEType == "" {
		return "image/png"
	}
	return ev.MIMEType
}

// BuildPrompt renders the instruction sent alongside the evidence.
// Text evidence is inlined; image evidence travels as a separate part.
func BuildPrompt(query string, ev Evidence) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the provided ")
	if ev.Modality == models.ModalityImage {
		b.WriteString("document page image")
	} else {
		b.WriteString("document excerpt")
	}
	b.WriteString(". If the answer is not contained in it, say so briefly.\n")
	if ev.Source != "" {
		fmt.Fprintf(&b, "Source: %s", ev.Source)
		if ev.Page > 0 {
			fmt.Fprintf(&b, ", page %d", ev.Page)
		}
		b.WriteString("\n")
	}
	if ev.Modality == models.ModalityText {
		b.WriteString("\nExcerpt:\n")
		b.WriteString(ev.Text)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

func emptyReply(provider string) error {
	return ragerr.New(ragerr.CodeGenerateUpstreamFailure, "model returned an empty answer", ragerr.FieldProvider(provider))
}
