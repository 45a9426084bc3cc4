//go:build cgo

package extract

import (
	"context"
	"image"

	"github.com/gen2brain/go-fitz"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

// fitzRasterizer renders pages with MuPDF.
type fitzRasterizer struct{}

func newDefaultRasterizer() Rasterizer {
	return fitzRasterizer{}
}

func (fitzRasterizer) Rasterize(ctx context.Context, raw []byte, dpi float64) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(raw)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeExtractDecodeInvalid, "open PDF for rendering")
	}
	defer doc.Close()

	n := doc.NumPage()
	pages := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			return nil, ragerr.Wrapf(err, ragerr.CodeExtractRenderFailure, "render page %d", i+1)
		}
		pages = append(pages, img)
	}
	return pages, nil
}
