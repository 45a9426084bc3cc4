package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/pagerag/internal/embedding"
	"github.com/hyperjump/pagerag/internal/generate"
	"github.com/hyperjump/pagerag/internal/metrics"
	"github.com/hyperjump/pagerag/internal/models"
	"github.com/hyperjump/pagerag/internal/vector"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedEmbedder maps query text to a preset vector.
type fixedEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (f *fixedEmbedder) Embed(_ context.Context, c embedding.Content, _ models.Role) ([]float32, error) {
	f.calls++
	v, ok := f.vectors[c.Text]
	if !ok {
		return nil, ragerr.New(ragerr.CodeEmbeddingUpstreamFailure, "no vector for "+c.Text)
	}
	return v, nil
}

func (f *fixedEmbedder) Dimensions() int { return 4 }
func (f *fixedEmbedder) Name() string    { return "fixed" }
func (f *fixedEmbedder) Close() error    { return nil }

type deletedSet map[string]struct{}

func (d deletedSet) DeletedDocumentIDs(context.Context, string) (map[string]struct{}, error) {
	return d, nil
}

type fixture struct {
	registry *vector.Registry
	embedder *fixedEmbedder
	preview  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	reg, err := vector.NewRegistry(filepath.Join(dir, "index"), nil)
	require.NoError(t, err)

	preview := filepath.Join(dir, models.PageID("doc1", 1)+".png")
	require.NoError(t, os.WriteFile(preview, []byte("\x89PNG fake"), 0644))

	text, err := models.NewTextRecord("doc1", "report.pdf", "quarterly revenue grew")
	require.NoError(t, err)
	img, err := models.NewImageRecord("doc1", "report.pdf", 1, preview)
	require.NoError(t, err)
	other, err := models.NewTextRecord("doc2", "notes.pdf", "meeting notes")
	require.NoError(t, err)

	idx, err := reg.Index("alice")
	require.NoError(t, err)
	require.NoError(t, idx.Insert(context.Background(), []vector.Entry{
		{Vector: []float32{1, 0, 0, 0}, Record: text},
		{Vector: []float32{0.9, 0.1, 0, 0}, Record: img},
		{Vector: []float32{0, 0, 1, 0}, Record: other},
	}))

	return &fixture{
		registry: reg,
		preview:  preview,
		embedder: &fixedEmbedder{vectors: map[string][]float32{
			"revenue": {1, 0, 0, 0},
			"notes":   {0, 0, 1, 0},
		}},
	}
}

func TestRetrieve_OrdersByDistance(t *testing.T) {
	f := newFixture(t)
	r := NewRetriever(f.registry, f.embedder)

	results, err := r.Retrieve(context.Background(), "alice", "revenue", 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, models.ModalityText, results[0].Modality)
	assert.Equal(t, 1.0, results[0].Similarity)
	assert.Equal(t, models.ModalityImage, results[1].Modality)
	assert.InDelta(t, 1/1.02, results[1].Similarity, 1e-6)
	assert.Equal(t, "doc2", results[2].DocumentID)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestRetrieve_InvalidArgumentsSkipEmbedding(t *testing.T) {
	f := newFixture(t)
	r := NewRetriever(f.registry, f.embedder, WithLimits(20, 10))
	ctx := context.Background()

	tests := []struct {
		name    string
		query   string
		k       int
		filters models.Filters
	}{
		{"blank query", "   ", 5, nil},
		{"zero k", "revenue", 0, nil},
		{"negative k", "revenue", -1, nil},
		{"k over max", "revenue", 21, nil},
		{"query too long", "revenue revenue", 5, nil},
		{"unknown filter", "revenue", 5, models.Filters{"color": {"red"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Retrieve(ctx, "alice", tt.query, tt.k, tt.filters)
			assert.True(t, ragerr.IsInvalidInput(err), "got %v", err)
		})
	}
	assert.Zero(t, f.embedder.calls)
}

func TestRetrieve_EmptyIndexIsNotFound(t *testing.T) {
	f := newFixture(t)
	r := NewRetriever(f.registry, f.embedder)

	results, err := r.Retrieve(context.Background(), "bob", "revenue", 5, nil)
	assert.True(t, ragerr.IsNotFound(err), "got %v", err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRetrieve_FiltersScanWholeIndex(t *testing.T) {
	f := newFixture(t)
	r := NewRetriever(f.registry, f.embedder)

	results, err := r.Retrieve(context.Background(), "alice", "revenue", 1,
		models.Filters{models.FilterDocumentID: {"doc2"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc2", results[0].DocumentID)

	results, err = r.Retrieve(context.Background(), "alice", "revenue", 5,
		models.Filters{models.FilterModality: {"image"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Page)
}

func TestRetrieve_DropsDeletedDocuments(t *testing.T) {
	f := newFixture(t)
	r := NewRetriever(f.registry, f.embedder, WithDocumentChecker(deletedSet{"doc1": {}}))

	results, err := r.Retrieve(context.Background(), "alice", "revenue", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc2", results[0].DocumentID)
}

func TestSelectWinner(t *testing.T) {
	text := &models.SearchResult{Modality: models.ModalityText, OwnerID: "t"}
	img := &models.SearchResult{Modality: models.ModalityImage, OwnerID: "i"}

	assert.Nil(t, SelectWinner(nil, PolicyImageFirst))
	assert.Same(t, img, SelectWinner([]*models.SearchResult{text, img}, PolicyImageFirst))
	assert.Same(t, text, SelectWinner([]*models.SearchResult{text}, PolicyImageFirst))
	assert.Same(t, text, SelectWinner([]*models.SearchResult{text, img}, PolicyNearest))
}

func TestEngine_QueryAnswersFromImageWinner(t *testing.T) {
	f := newFixture(t)
	gen := &generate.MockGenerator{}
	e := NewEngine(NewRetriever(f.registry, f.embedder), gen, EngineConfig{},
		WithPreviewURL(func(p string) string { return "/api/v1/previews/" + filepath.Base(p) }))

	resp, err := e.Query(context.Background(), "alice", &models.QueryRequest{Query: "revenue"})
	require.NoError(t, err)

	assert.Equal(t, 3, resp.TotalResults)
	require.NotNil(t, resp.Winner)
	assert.Equal(t, models.ModalityImage, resp.Winner.Modality)
	assert.Equal(t, 0.9804, resp.Winner.Similarity)
	assert.Equal(t, "/api/v1/previews/doc1_page_1.png", resp.Winner.PreviewURL)
	assert.Equal(t, models.ModalityImage, gen.Last.Modality)
	assert.Equal(t, []byte("\x89PNG fake"), gen.Last.Image)
	assert.NotEmpty(t, resp.Answer)
	assert.Empty(t, resp.AnswerError)
}

func TestEngine_QueryRecordsLatency(t *testing.T) {
	f := newFixture(t)
	m := metrics.New()
	e := NewEngine(NewRetriever(f.registry, f.embedder), nil, EngineConfig{}, WithMetrics(m))

	_, err := e.Query(context.Background(), "alice", &models.QueryRequest{Query: "revenue"})
	require.NoError(t, err)
	_, err = e.Query(context.Background(), "alice", &models.QueryRequest{Query: ""})
	require.Error(t, err)

	n, err := testutil.GatherAndCount(m.Registry(), "pagerag_search_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per outcome")
}

func TestEngine_QueryDegradesOnGenerationFailure(t *testing.T) {
	f := newFixture(t)
	gen := &generate.MockGenerator{Err: ragerr.New(ragerr.CodeGenerateUpstreamFailure, "model offline")}
	e := NewEngine(NewRetriever(f.registry, f.embedder), gen, EngineConfig{WinnerPolicy: PolicyNearest})

	resp, err := e.Query(context.Background(), "alice", &models.QueryRequest{Query: "revenue", K: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	assert.Empty(t, resp.Answer)
	assert.Contains(t, resp.AnswerError, "model offline")
	assert.Equal(t, models.ModalityText, gen.Last.Modality)
}

func TestEngine_QueryUnreadablePreview(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.preview))
	gen := &generate.MockGenerator{}
	e := NewEngine(NewRetriever(f.registry, f.embedder), gen, EngineConfig{})

	resp, err := e.Query(context.Background(), "alice", &models.QueryRequest{Query: "revenue"})
	require.NoError(t, err)
	assert.Equal(t, ImageUnreadableAnswer, resp.Answer)
	assert.Zero(t, gen.Calls)
}

func TestEngine_QueryWithoutAnswer(t *testing.T) {
	f := newFixture(t)
	gen := &generate.MockGenerator{}
	e := NewEngine(NewRetriever(f.registry, f.embedder), gen, EngineConfig{})
	no := false

	resp, err := e.Query(context.Background(), "alice", &models.QueryRequest{Query: "notes", K: 1, IncludeAnswer: &no})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc2", resp.Results[0].DocumentID)
	assert.Empty(t, resp.Answer)
	assert.Zero(t, gen.Calls)
}

func TestEngine_QueryEmptyIndex(t *testing.T) {
	f := newFixture(t)
	e := NewEngine(NewRetriever(f.registry, f.embedder), &generate.MockGenerator{}, EngineConfig{})

	resp, err := e.Query(context.Background(), "bob", &models.QueryRequest{Query: "revenue"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Nil(t, resp.Winner)
	assert.Equal(t, emptyIndexMessage, resp.AnswerError)
}

func TestEngine_BatchQuery(t *testing.T) {
	f := newFixture(t)
	e := NewEngine(NewRetriever(f.registry, f.embedder), &generate.MockGenerator{}, EngineConfig{MaxBatchQueries: 2})
	ctx := context.Background()

	out, err := e.BatchQuery(ctx, "alice", &models.BatchQueryRequest{Queries: []string{"revenue", "unknown"}, K: 1})
	require.NoError(t, err)
	require.Len(t, out.Responses, 2)
	assert.Equal(t, "doc1", out.Responses[0].Results[0].DocumentID)
	assert.NotEmpty(t, out.Responses[1].AnswerError)

	_, err = e.BatchQuery(ctx, "alice", &models.BatchQueryRequest{Queries: []string{"a", "b", "c"}})
	assert.True(t, ragerr.IsInvalidInput(err))

	_, err = e.BatchQuery(ctx, "alice", &models.BatchQueryRequest{})
	assert.True(t, ragerr.IsInvalidInput(err))
}
