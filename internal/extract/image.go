package extract

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"

	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"golang.org/x/image/draw"
)

// DefaultMaxPixels caps the pixel area of an image sent to a provider.
const DefaultMaxPixels = 1568 * 1568

// Downscale shrinks img so its area fits in maxPixels, keeping the aspect
// ratio. Images already within the cap, or a cap <= 0, pass through unchanged.
func Downscale(img image.Image, maxPixels int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxPixels <= 0 || w*h <= maxPixels {
		return img
	}
	scale := math.Sqrt(float64(maxPixels) / float64(w*h))
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// EncodePNG downscales img to maxPixels and encodes it as PNG.
func EncodePNG(img image.Image, maxPixels int) ([]byte, error) {
	if img == nil {
		return nil, ragerr.New(ragerr.CodeExtractRenderFailure, "nil page image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, Downscale(img, maxPixels)); err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeExtractRenderFailure, "encode png")
	}
	return buf.Bytes(), nil
}

// SavePreview writes a page preview to dir/<pageID>.png and returns the path.
func SavePreview(dir, pageID string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", ragerr.Wrapf(err, ragerr.CodeIngestPreviewFailure, "create preview dir %s", dir)
	}
	path := filepath.Join(dir, pageID+".png")
	tmp, err := os.CreateTemp(dir, pageID+".png.tmp-*")
	if err != nil {
		return "", ragerr.Wrapf(err, ragerr.CodeIngestPreviewFailure, "create preview %s", path)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", ragerr.Wrapf(err, ragerr.CodeIngestPreviewFailure, "write preview %s", path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", ragerr.Wrapf(err, ragerr.CodeIngestPreviewFailure, "close preview %s", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", ragerr.Wrapf(err, ragerr.CodeIngestPreviewFailure, "rename preview %s", path)
	}
	return path, nil
}
