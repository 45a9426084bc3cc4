//go:build !cgo

package extract

// Without cgo there is no MuPDF; extraction is text only.
func newDefaultRasterizer() Rasterizer {
	return nil
}
