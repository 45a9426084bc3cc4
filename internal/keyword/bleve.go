package keyword

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

const deleteBatchSize = 500

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// document is the stored form of an Entry. The title is kept verbatim for
// display and indexed separately as words.
type document struct {
	Scope      string `json:"scope"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	TitleTerms string `json:"title_terms"`
	Content    string `json:"content"`
}

func newIndexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so a query matches the exact word.
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = true
	textFieldMapping.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("content", textFieldMapping)

	titleTermsMapping := bleve.NewTextFieldMapping()
	titleTermsMapping.Analyzer = standard.Name
	titleTermsMapping.Store = false
	docMapping.AddFieldMappingsAt("title_terms", titleTermsMapping)

	storedOnly := bleve.NewTextFieldMapping()
	storedOnly.Index = false
	storedOnly.IncludeInAll = false
	docMapping.AddFieldMappingsAt("title", storedOnly)

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("scope", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("document_id", keywordFieldMapping)

	im.AddDocumentMapping("document", docMapping)
	im.DefaultType = "document"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path keeps
// the index in memory.
// If you change the index mapping in code, remove the index directory to force a re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := newIndexMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, ragerr.Wrap(err, ragerr.CodeStoreDatabaseFailure, "failed to create in-memory Bleve index")
		}
		return &BleveIndex{index: index}, nil
	}
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, ragerr.Wrapf(openErr, ragerr.CodeStoreDatabaseFailure, "failed to open Bleve index %s", path)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, im)
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeStoreDatabaseFailure, "failed to create Bleve index %s", path)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds or replaces the entry for a document.
func (b *BleveIndex) Index(ctx context.Context, entry Entry) error {
	if entry.Scope == "" || entry.DocumentID == "" {
		return ragerr.New(ragerr.CodeSearchQueryInvalid, "keyword entry needs a scope and a document id")
	}
	doc := document{
		Scope:      entry.Scope,
		DocumentID: entry.DocumentID,
		Title:      entry.Title,
		TitleTerms: TitleTerms(entry.Title),
		Content:    entry.Content,
	}
	if err := b.index.Index(entryKey(entry.Scope, entry.DocumentID), doc); err != nil {
		return ragerr.Wrap(err, ragerr.CodeStoreDatabaseFailure, "bleve index failed", ragerr.FieldDocumentID(entry.DocumentID))
	}
	return nil
}

var titleSeparators = strings.NewReplacer("_", " ", "-", " ", ".", " ")

// TitleTerms turns a filename into searchable words: the extension is dropped
// and underscores, hyphens and dots become spaces, so "q3_report-final.pdf"
// matches "q3", "report" and "final".
func TitleTerms(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.Join(strings.Fields(titleSeparators.Replace(base)), " ")
}

func scopeQuery(scope string) blevequery.Query {
	q := bleve.NewTermQuery(scope)
	q.SetField("scope")
	return q
}

// Search runs a match query within scope and returns up to limit results,
// each with highlighted content fragments.
func (b *BleveIndex) Search(ctx context.Context, scope, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ragerr.New(ragerr.CodeSearchQueryInvalid, "keyword query must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	titleBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 2
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	var titleQuery, contentQuery blevequery.Query
	if fuzzyEnabled {
		titleQuery = buildFuzzyQuery(query, fuzziness, "title_terms")
		contentQuery = buildFuzzyQuery(query, fuzziness, "content")
	} else {
		tq := bleve.NewMatchQuery(query)
		tq.SetField("title_terms")
		tq.SetBoost(titleBoost)
		titleQuery = tq
		cq := bleve.NewMatchQuery(query)
		cq.SetField("content")
		contentQuery = cq
	}

	q := bleve.NewConjunctionQuery(scopeQuery(scope), bleve.NewDisjunctionQuery(titleQuery, contentQuery))
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"title", "document_id"}
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Highlight.AddField("content")

	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeStoreDatabaseFailure, "bleve search failed")
	}
	out := make([]*Result, 0, len(results.Hits))
	for _, hit := range results.Hits {
		r := &Result{Score: hit.Score, Fragments: hit.Fragments["content"]}
		r.DocumentID, _ = hit.Fields["document_id"].(string)
		r.Title, _ = hit.Fields["title"].(string)
		if r.DocumentID == "" {
			r.DocumentID = strings.TrimPrefix(hit.ID, scope+"/")
		}
		out = append(out, r)
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries for each term in the query.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(field)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes one document's entry.
func (b *BleveIndex) Delete(ctx context.Context, scope, documentID string) error {
	if err := b.index.Delete(entryKey(scope, documentID)); err != nil {
		return ragerr.Wrap(err, ragerr.CodeStoreDatabaseFailure, "bleve delete failed", ragerr.FieldDocumentID(documentID))
	}
	return nil
}

// DeleteScope removes every entry of scope and returns how many were removed.
func (b *BleveIndex) DeleteScope(ctx context.Context, scope string) (int, error) {
	removed := 0
	for {
		req := bleve.NewSearchRequest(scopeQuery(scope))
		req.Size = deleteBatchSize
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return removed, ragerr.Wrap(err, ragerr.CodeStoreDatabaseFailure, "bleve scope search failed", ragerr.FieldScope(scope))
		}
		if len(results.Hits) == 0 {
			return removed, nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return removed, ragerr.Wrap(err, ragerr.CodeStoreDatabaseFailure, "bleve scope delete failed", ragerr.FieldScope(scope))
		}
		removed += len(results.Hits)
	}
}

// DocCount returns the total number of entries in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
