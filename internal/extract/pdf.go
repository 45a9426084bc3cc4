package extract

import (
	"bytes"

	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/ledongthuc/pdf"
)

// extractPDFText returns the concatenated page text and the page count.
// The parser panics on some malformed inputs; those surface as decode errors.
func extractPDFText(content []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, pages = "", 0
			err = ragerr.Errorf(ragerr.CodeExtractDecodeInvalid, "malformed PDF: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", 0, ragerr.Wrap(err, ragerr.CodeExtractDecodeInvalid, "open PDF")
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, ragerr.Wrapf(err, ragerr.CodeExtractDecodeInvalid, "extract page %d", i+1)
		}
		buf.WriteString(pageText)
		if i < numPages-1 {
			buf.WriteByte('\n')
		}
	}
	return buf.String(), numPages, nil
}
