package search

import (
	"github.com/hyperjump/pagerag/internal/models"
)

// Winner policies.
const (
	PolicyImageFirst = "image_first"
	PolicyNearest    = "nearest"
)

// SelectWinner picks the result an answer is generated from. Results must be
// sorted nearest first. Under image_first the nearest image result wins, else
// the nearest text result; under nearest the first result wins.
func SelectWinner(results []*models.SearchResult, policy string) *models.SearchResult {
	if len(results) == 0 {
		return nil
	}
	if policy == PolicyNearest {
		return results[0]
	}
	var text *models.SearchResult
	for _, r := range results {
		switch r.Modality {
		case models.ModalityImage:
			return r
		case models.ModalityText:
			if text == nil {
				text = r
			}
		}
	}
	return text
}
