package keyword

import (
	"context"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

const (
	maxSuggestDistance = 2
	// suggestScanLimit bounds how many entries of a scope feed the dictionary.
	suggestScanLimit = 2000
	suggestPageSize  = 200
)

// Suggest proposes a corrected query by replacing each term that is absent
// from the scope's content dictionary with the closest known term (by edit
// distance, then document frequency). Only entries of scope contribute
// terms. ok is false when nothing was corrected.
func (b *BleveIndex) Suggest(ctx context.Context, scope, query string) (string, bool) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 || scope == "" {
		return "", false
	}
	dict, err := b.termFrequencies(ctx, scope)
	if err != nil || len(dict) == 0 {
		return "", false
	}
	corrected := make([]string, len(terms))
	changed := false
	for i, term := range terms {
		corrected[i] = term
		if _, known := dict[term]; known {
			continue
		}
		if best, ok := closestTerm(term, dict); ok {
			corrected[i] = best
			changed = true
		}
	}
	if !changed {
		return "", false
	}
	return strings.Join(corrected, " "), true
}

// termFrequencies counts, per analyzed term, how many entries of scope
// contain it in their content.
func (b *BleveIndex) termFrequencies(ctx context.Context, scope string) (map[string]uint64, error) {
	analyzer := b.index.Mapping().AnalyzerNamed(standard.Name)
	out := make(map[string]uint64)
	for from := 0; from < suggestScanLimit; from += suggestPageSize {
		req := bleve.NewSearchRequestOptions(scopeQuery(scope), suggestPageSize, from, false)
		req.Fields = []string{"content"}
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, hit := range results.Hits {
			content, _ := hit.Fields["content"].(string)
			seen := make(map[string]struct{})
			for _, tok := range analyzer.Analyze([]byte(content)) {
				term := string(tok.Term)
				if _, dup := seen[term]; dup {
					continue
				}
				seen[term] = struct{}{}
				out[term]++
			}
		}
		if len(results.Hits) < suggestPageSize {
			break
		}
	}
	return out, nil
}

func closestTerm(term string, dict map[string]uint64) (string, bool) {
	best, bestDist, bestFreq := "", maxSuggestDistance+1, uint64(0)
	for candidate, freq := range dict {
		if abs(len(candidate)-len(term)) > maxSuggestDistance {
			continue
		}
		d := levenshtein(term, candidate)
		if d < bestDist || (d == bestDist && (freq > bestFreq || (freq == bestFreq && candidate < best))) {
			best, bestDist, bestFreq = candidate, d, freq
		}
	}
	return best, bestDist <= maxSuggestDistance && best != ""
}

// levenshtein returns the edit distance between a and b, counted in runes.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
