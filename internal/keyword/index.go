// Package keyword provides full-text search over the extracted text of
// ingested documents, partitioned by scope.
package keyword

import "context"

// Entry is the indexed form of one document.
type Entry struct {
	Scope      string `json:"scope"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score of matches in the title (filename) field.
	TitleBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2).
	Fuzziness int
}

// Result is a single keyword search hit.
type Result struct {
	DocumentID string   `json:"document_id"`
	Title      string   `json:"title"`
	Score      float64  `json:"score"`
	Fragments  []string `json:"fragments,omitempty"`
}

// Index defines keyword search operations.
type Index interface {
	Index(ctx context.Context, entry Entry) error
	Search(ctx context.Context, scope, query string, limit int, opts *SearchOptions) ([]*Result, error)
	Suggest(ctx context.Context, scope, query string) (string, bool)
	Delete(ctx context.Context, scope, documentID string) error
	DeleteScope(ctx context.Context, scope string) (int, error)
	DocCount() (uint64, error)
	Close() error
}

// entryKey is the index document id for a scope/document pair.
func entryKey(scope, documentID string) string {
	return scope + "/" + documentID
}
