// Package extract turns raw PDF bytes into full text and per-page rasters.
package extract

import (
	"bytes"
	"context"
	"image"

	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/hyperjump/pagerag/pkg/utils"
	"go.uber.org/zap"
)

// DefaultDPI is the resolution pages are rendered at.
const DefaultDPI = 200

// pdfHeaderWindow is how far into the file the %PDF- marker may appear.
const pdfHeaderWindow = 1024

// Rasterizer renders every page of a PDF to an image, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, raw []byte, dpi float64) ([]image.Image, error)
}

// Extraction is the result of a successful extract.
type Extraction struct {
	// Text is the text of every page in order, newline separated.
	Text string
	// Pages holds one raster per page; page n is Pages[n-1].
	Pages []image.Image
	// PageCount is the number of pages in the document.
	PageCount int
}

// Extractor extracts text and page images from PDF bytes.
// It is a pure transform and never writes files.
type Extractor struct {
	dpi        float64
	rasterizer Rasterizer
	logger     *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithDPI sets the render resolution.
func WithDPI(dpi float64) ExtractorOption {
	return func(e *Extractor) {
		if dpi > 0 {
			e.dpi = dpi
		}
	}
}

// WithRasterizer replaces the page renderer. A nil rasterizer disables page images.
func WithRasterizer(r Rasterizer) ExtractorOption {
	return func(e *Extractor) { e.rasterizer = r }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor returns an Extractor using the MuPDF rasterizer when the
// binary was built with cgo, and a text-only extractor otherwise.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		dpi:        DefaultDPI,
		rasterizer: newDefaultRasterizer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// CanRender reports whether page images will be produced.
func (e *Extractor) CanRender() bool {
	return e.rasterizer != nil
}

// IsPDF reports whether raw carries a PDF header near its start.
func IsPDF(raw []byte) bool {
	head := raw
	if len(head) > pdfHeaderWindow {
		head = head[:pdfHeaderWindow]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}

// Extract parses raw as a PDF. Bytes that are not a readable PDF yield a
// decode error; nothing partial is returned.
func (e *Extractor) Extract(ctx context.Context, raw []byte) (*Extraction, error) {
	if !IsPDF(raw) {
		return nil, ragerr.New(ragerr.CodeExtractDecodeInvalid, "input is not a PDF document")
	}
	text, pageCount, err := extractPDFText(raw)
	if err != nil {
		return nil, err
	}
	out := &Extraction{Text: text, PageCount: pageCount}
	if e.rasterizer == nil {
		e.logger.Debug("no rasterizer available, extracting text only", zap.Int("pages", pageCount))
		return out, nil
	}
	pages, err := e.rasterizer.Rasterize(ctx, raw, e.dpi)
	if err != nil {
		if ragerr.CodeOf(err) != "" {
			return nil, err
		}
		return nil, ragerr.Wrap(err, ragerr.CodeExtractRenderFailure, "render pages")
	}
	out.Pages = pages
	if len(pages) > out.PageCount {
		out.PageCount = len(pages)
	}
	e.logger.Debug("pdf extracted",
		zap.Int("pages", out.PageCount),
		zap.Int("rendered", len(pages)),
		zap.Int("text_len", len(text)),
	)
	return out, nil
}
