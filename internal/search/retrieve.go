// Package search retrieves the records nearest to a query and turns the best
// one into an answer.
package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/pagerag/internal/embedding"
	"github.com/hyperjump/pagerag/internal/models"
	"github.com/hyperjump/pagerag/internal/vector"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/hyperjump/pagerag/pkg/utils"
	"go.uber.org/zap"
)

// IndexSource hands out the vector index of a scope.
type IndexSource interface {
	Index(scope string) (*vector.FlatIndex, error)
}

// DocumentChecker reports documents removed from the registry. Their vectors
// stay in the append-only index and are filtered here.
type DocumentChecker interface {
	DeletedDocumentIDs(ctx context.Context, scope string) (map[string]struct{}, error)
}

// Retriever embeds queries and reads the nearest records from a scope's index.
// It never mutates an index.
type Retriever struct {
	indexes        IndexSource
	embedder       embedding.Embedder
	documents      DocumentChecker
	maxK           int
	maxQueryLength int
	logger         *zap.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithDocumentChecker drops hits of deleted documents.
func WithDocumentChecker(d DocumentChecker) RetrieverOption {
	return func(r *Retriever) { r.documents = d }
}

// WithLimits bounds k and the query length in runes. Zero keeps the default.
func WithLimits(maxK, maxQueryLength int) RetrieverOption {
	return func(r *Retriever) {
		if maxK > 0 {
			r.maxK = maxK
		}
		if maxQueryLength > 0 {
			r.maxQueryLength = maxQueryLength
		}
	}
}

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(l *zap.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = l }
}

// NewRetriever creates a Retriever over indexes using embedder for queries.
func NewRetriever(indexes IndexSource, embedder embedding.Embedder, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		indexes:        indexes,
		embedder:       embedder,
		maxK:           20,
		maxQueryLength: 1000,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.OrNop(r.logger)
	return r
}

// MaxK returns the largest accepted k.
func (r *Retriever) MaxK() int { return r.maxK }

func (r *Retriever) validate(query string, k int, filters models.Filters) error {
	if strings.TrimSpace(query) == "" {
		return ragerr.New(ragerr.CodeSearchQueryInvalid, "query must not be empty")
	}
	if n := utf8.RuneCountInString(query); n > r.maxQueryLength {
		return ragerr.Errorf(ragerr.CodeSearchQueryInvalid, "query is %d characters, limit is %d", n, r.maxQueryLength)
	}
	if k <= 0 || k > r.maxK {
		return ragerr.Errorf(ragerr.CodeSearchQueryInvalid, "k must be between 1 and %d, got %d", r.maxK, k)
	}
	return filters.Validate()
}

// Retrieve returns up to k results nearest to query, nearest first.
//
// Arguments are validated before any embedding call. An empty index yields an
// empty list together with a not-found error. Hits whose record is missing or
// invalid, whose document was deleted, or that fail filters are dropped; when
// filters or deletions are in play the whole index is scanned so that k
// matching results can still be found.
func (r *Retriever) Retrieve(ctx context.Context, scope, query string, k int, filters models.Filters) ([]*models.SearchResult, error) {
	if err := r.validate(query, k, filters); err != nil {
		return nil, err
	}
	idx, err := r.indexes.Index(scope)
	if err != nil {
		return nil, err
	}

	qvec, err := r.embedder.Embed(ctx, embedding.TextContent(query), models.RoleQuery)
	if err != nil {
		r.logger.Warn("query embedding failed", zap.String("scope", scope), zap.Error(err))
		return nil, err
	}

	size := idx.Size()
	if size == 0 {
		return []*models.SearchResult{}, ragerr.New(ragerr.CodeVectorIndexEmpty, "no content indexed for scope",
			ragerr.FieldScope(scope))
	}

	deleted := map[string]struct{}{}
	if r.documents != nil {
		deleted, err = r.documents.DeletedDocumentIDs(ctx, scope)
		if err != nil {
			return nil, err
		}
	}

	fetch := k
	if len(filters) > 0 || len(deleted) > 0 {
		fetch = size
	}
	hits, err := idx.Search(ctx, qvec, fetch)
	if err != nil {
		return nil, err
	}

	results := make([]*models.SearchResult, 0, k)
	dropped := 0
	for _, hit := range hits {
		if len(results) == k {
			break
		}
		rec, ok := idx.Record(hit.Slot)
		if !ok || rec.Validate() != nil {
			dropped++
			continue
		}
		if _, gone := deleted[rec.DocumentID]; gone {
			dropped++
			continue
		}
		if !filters.Match(rec) {
			continue
		}
		results = append(results, toResult(hit, rec))
	}
	r.logger.Debug("retrieve",
		zap.String("scope", scope),
		zap.Int("k", k),
		zap.String("filters", filters.String()),
		zap.Int("hits", len(hits)),
		zap.Int("results", len(results)),
		zap.Int("dropped", dropped),
	)
	return results, nil
}

func toResult(hit vector.Hit, rec models.Record) *models.SearchResult {
	return &models.SearchResult{
		OwnerID:     rec.OwnerID,
		DocumentID:  rec.DocumentID,
		Modality:    rec.Modality,
		Similarity:  vector.Similarity(hit.Distance),
		Distance:    hit.Distance,
		Source:      rec.Source,
		Page:        rec.Page,
		Content:     rec.Content,
		PreviewPath: rec.PreviewPath,
		Slot:        hit.Slot,
	}
}
