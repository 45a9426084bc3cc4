package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/pagerag/internal/config"
	"github.com/hyperjump/pagerag/internal/embedding"
	"github.com/hyperjump/pagerag/internal/extract"
	"github.com/hyperjump/pagerag/internal/extract/pdftest"
	"github.com/hyperjump/pagerag/internal/generate"
	"github.com/hyperjump/pagerag/internal/indexer"
	"github.com/hyperjump/pagerag/internal/keyword"
	"github.com/hyperjump/pagerag/internal/metrics"
	"github.com/hyperjump/pagerag/internal/models"
	"github.com/hyperjump/pagerag/internal/search"
	"github.com/hyperjump/pagerag/internal/storage"
	"github.com/hyperjump/pagerag/internal/tasks"
	"github.com/hyperjump/pagerag/internal/vector"
	"github.com/hyperjump/pagerag/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type onePage struct{}

func (onePage) Rasterize(context.Context, []byte, float64) ([]image.Image, error) {
	return []image.Image{image.NewRGBA(image.Rect(0, 0, 16, 16))}, nil
}

type testEnv struct {
	srv     *Server
	store   storage.Storage
	queue   *tasks.Queue
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DataDir = dir
	cfg.Embedding.Provider = "mock"
	cfg.Generation.Provider = "mock"
	config.ApplyDefaults(cfg)
	cfg.Server.RateLimitPerMinute = 0
	if mutate != nil {
		mutate(cfg)
	}

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	reg, err := vector.NewRegistry(cfg.Storage.IndexDir, nil)
	require.NoError(t, err)
	kw, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })

	m := metrics.New()
	emb := embedding.NewMockEmbedder(16)
	ex := extract.NewExtractor(extract.WithRasterizer(onePage{}))
	idx := indexer.NewIndexer(ex, emb, reg, store, cfg.Storage.PreviewDir,
		indexer.WithKeywordIndex(kw), indexer.WithMetrics(m))
	retriever := search.NewRetriever(reg, emb,
		search.WithDocumentChecker(store),
		search.WithLimits(cfg.Search.MaxK, cfg.Search.MaxQueryLength))
	engine := search.NewEngine(retriever, &generate.MockGenerator{}, search.EngineConfig{
		DefaultK:        cfg.Search.DefaultK,
		MaxBatchQueries: cfg.Search.MaxBatchQueries,
		WinnerPolicy:    cfg.Search.WinnerPolicy,
	}, search.WithPreviewURL(PreviewURL), search.WithMetrics(m))

	q := tasks.NewQueue(store, idx, 10)
	q.Start(context.Background())
	t.Cleanup(q.Stop)

	srv := NewServer(engine, idx, store, reg, cfg, nil, WithTaskQueue(q), WithKeywordIndex(kw), WithMetrics(m))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return &testEnv{srv: srv, store: store, queue: q, metrics: m}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func multipartBody(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func uploadRequest(t *testing.T, name string, data []byte) *http.Request {
	t.Helper()
	body, ctype := multipartBody(t, "file", map[string][]byte{name: data})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", ctype)
	return req
}

func jsonRequest(t *testing.T, method, path string, v interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]interface{}](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["index_loaded"])
	assert.Equal(t, true, body["storage_reachable"])
}

func TestUploadQueryAndPreview(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, uploadRequest(t, "report.pdf", pdftest.SinglePage("Quarterly revenue grew")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[models.IngestResult](t, w)
	assert.NotEmpty(t, res.DocumentID)
	assert.Equal(t, 2, res.EmbeddingsCreated)

	w = env.do(t, jsonRequest(t, http.MethodPost, "/api/v1/query", map[string]interface{}{"query": "revenue"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.QueryResponse](t, w)
	assert.Equal(t, 2, resp.TotalResults)
	require.NotNil(t, resp.Winner)
	assert.Equal(t, models.ModalityImage, resp.Winner.Modality)
	assert.NotEmpty(t, resp.Answer)
	for _, r := range resp.Results {
		assert.Equal(t, utils.Round(r.Similarity, 4), r.Similarity)
	}

	require.NotEmpty(t, resp.Winner.PreviewURL)
	w = env.do(t, httptest.NewRequest(http.MethodGet, resp.Winner.PreviewURL, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/keyword?q=revenue", nil))
	require.Equal(t, http.StatusOK, w.Code)
	kw := decode[map[string]interface{}](t, w)
	assert.EqualValues(t, 1, kw["total_results"])

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[map[string]interface{}](t, w)
	assert.EqualValues(t, 1, status["documents"])
	assert.EqualValues(t, 2, status["vector_index_size"])
	usage, ok := status["disk_usage"].(map[string]interface{})
	require.True(t, ok, "disk_usage should be an object")
	assert.Contains(t, usage, "previews")
}

func TestUploadRejectsNonPDF(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, uploadRequest(t, "notes.txt", []byte("hello")))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, "ingest.file.unsupported", body.Code)
	assert.NotEmpty(t, body.Error)
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Server.MaxUploadMB = 1 })
	w := env.do(t, uploadRequest(t, "big.pdf", bytes.Repeat([]byte("x"), 2<<20)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestQueryValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"empty query", map[string]interface{}{"query": ""}, http.StatusBadRequest},
		{"negative k", map[string]interface{}{"query": "x", "k": -1}, http.StatusBadRequest},
		{"k over max", map[string]interface{}{"query": "x", "k": 21}, http.StatusBadRequest},
		{"unknown field", map[string]interface{}{"query": "x", "limit": 3}, http.StatusBadRequest},
		{"empty index", map[string]interface{}{"query": "x"}, http.StatusOK},
		{"scalar filters", map[string]interface{}{"query": "x", "filters": map[string]interface{}{"modality": "text", "page": 2}}, http.StatusOK},
		{"bool filter", map[string]interface{}{"query": "x", "filters": map[string]interface{}{"page": true}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, jsonRequest(t, http.MethodPost, "/api/v1/query", tt.body))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestDeleteDocumentAndClear(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, uploadRequest(t, "a.pdf", pdftest.SinglePage("alpha")))
	require.Equal(t, http.StatusCreated, w.Code)
	res := decode[models.IngestResult](t, w)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+res.DocumentID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+res.DocumentID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+res.DocumentID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, jsonRequest(t, http.MethodPost, "/api/v1/query", map[string]interface{}{"query": "alpha"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[models.QueryResponse](t, w).Results)

	w = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/index", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAsyncUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	body, ctype := multipartBody(t, "files", map[string][]byte{
		"one.pdf": pdftest.SinglePage("one"),
		"two.pdf": pdftest.SinglePage("two"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents?async=true", body)
	req.Header.Set("Content-Type", ctype)
	w := env.do(t, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	accepted := decode[map[string]string](t, w)
	taskID := accepted["task_id"]
	require.NotEmpty(t, taskID)
	assert.Equal(t, "pending", accepted["status"])

	require.Eventually(t, func() bool {
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+taskID, nil))
		if w.Code != http.StatusOK {
			return false
		}
		return decode[models.Task](t, w).State == models.TaskCompleted
	}, 5*time.Second, 20*time.Millisecond)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil))
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[map[string]interface{}](t, w)
	assert.EqualValues(t, 2, list["total"])

	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/tasks/"+taskID+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAuthScopesRequests(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Server.AuthEnabled = true })
	ctx := context.Background()
	require.NoError(t, env.store.CreateUser(ctx, &models.User{
		ID: "alice", Email: "alice@example.com", APIKeyHash: utils.HashToken("alice-key"), Active: true,
	}))
	require.NoError(t, env.store.CreateUser(ctx, &models.User{
		ID: "bob", Email: "bob@example.com", APIKeyHash: utils.HashToken("bob-key"), Active: true,
	}))

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, env.do(t, req).Code)

	up := uploadRequest(t, "a.pdf", pdftest.SinglePage("alpha"))
	up.Header.Set("X-API-Key", "alice-key")
	w = env.do(t, up)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[models.IngestResult](t, w)

	get := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+res.DocumentID, nil)
	get.Header.Set("Authorization", "Bearer alice-key")
	assert.Equal(t, http.StatusOK, env.do(t, get).Code)

	get = httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+res.DocumentID, nil)
	get.Header.Set("Authorization", "Bearer bob-key")
	assert.Equal(t, http.StatusNotFound, env.do(t, get).Code)

	assert.Equal(t, http.StatusOK, env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestStatusRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Server.AuthEnabled = true })
	ctx := context.Background()
	require.NoError(t, env.store.CreateUser(ctx, &models.User{
		ID: "alice", Email: "alice@example.com", APIKeyHash: utils.HashToken("alice-key"), Active: true,
	}))
	require.NoError(t, env.store.CreateUser(ctx, &models.User{
		ID: "root", Email: "root@example.com", APIKeyHash: utils.HashToken("root-key"), Active: true, IsAdmin: true,
	}))

	for _, path := range []string{"/api/v1/status", "/api/v1/admin/stats"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-API-Key", "alice-key")
		w := env.do(t, req)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
		assert.Equal(t, "server.auth.forbidden", decode[errorBody](t, w).Code)

		req = httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-API-Key", "root-key")
		assert.Equal(t, http.StatusOK, env.do(t, req).Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req.Header.Set("X-API-Key", "root-key")
	w := env.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[map[string]interface{}](t, w)
	assert.EqualValues(t, 2, stats["users"])
	assert.Contains(t, stats, "vectors_total")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, uploadRequest(t, "a.pdf", pdftest.SinglePage("alpha")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = env.do(t, jsonRequest(t, http.MethodPost, "/api/v1/query", map[string]interface{}{"query": "alpha"}))
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `pagerag_requests_total{method="POST",route="/api/v1/query",status="200"} 1`)
	assert.Contains(t, body, `pagerag_search_duration_seconds_count{outcome="ok"} 1`)
	assert.Contains(t, body, `pagerag_document_processing_duration_seconds_count{outcome="ok"} 1`)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Server.RateLimitPerMinute = 1
		c.Server.RateLimitBurst = 1
	})
	first := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusOK, first.Code)
	second := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "server.rate.exceeded", decode[errorBody](t, second).Code)
}

func TestPreviewRejectsUnknownNames(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, name := range []string{"passwd", "..%2Fdb.sqlite", "deadbeef_page_1.png"} {
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/previews/"+name, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, name)
	}
}
