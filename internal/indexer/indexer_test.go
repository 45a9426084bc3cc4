package indexer

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/pagerag/internal/embedding"
	"github.com/hyperjump/pagerag/internal/extract"
	"github.com/hyperjump/pagerag/internal/extract/pdftest"
	"github.com/hyperjump/pagerag/internal/keyword"
	"github.com/hyperjump/pagerag/internal/metrics"
	"github.com/hyperjump/pagerag/internal/models"
	"github.com/hyperjump/pagerag/internal/storage"
	"github.com/hyperjump/pagerag/internal/vector"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// pageRasterizer renders n small pages, each a distinct shade.
type pageRasterizer struct{ pages int }

func (r pageRasterizer) Rasterize(context.Context, []byte, float64) ([]image.Image, error) {
	out := make([]image.Image, r.pages)
	for i := range out {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		img.Set(0, 0, color.Gray{Y: uint8(40 * (i + 1))})
		out[i] = img
	}
	return out, nil
}

type harness struct {
	idx      *Indexer
	store    storage.Storage
	registry *vector.Registry
	keywords *keyword.BleveIndex
	embedder *embedding.MockEmbedder
	metrics  *metrics.Metrics
	previews string
}

func newHarness(t *testing.T, pages int) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	reg, err := vector.NewRegistry(filepath.Join(dir, "vectors"), nil)
	if err != nil {
		t.Fatal(err)
	}
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	emb := embedding.NewMockEmbedder(8)
	previews := filepath.Join(dir, "previews")
	ex := extract.NewExtractor(extract.WithRasterizer(pageRasterizer{pages: pages}))
	m := metrics.New()
	return &harness{
		idx:      NewIndexer(ex, emb, reg, store, previews, WithKeywordIndex(kw), WithMetrics(m)),
		store:    store,
		registry: reg,
		keywords: kw,
		embedder: emb,
		metrics:  m,
		previews: previews,
	}
}

func (h *harness) indexSize(t *testing.T, scope string) int {
	t.Helper()
	x, err := h.registry.Index(scope)
	if err != nil {
		t.Fatal(err)
	}
	return x.Size()
}

func TestIngestPDF_TextAndPages(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	res, err := h.idx.IngestPDF(ctx, "alice", "report.pdf", pdftest.SinglePage("Quarterly revenue grew"))
	if err != nil {
		t.Fatal(err)
	}
	if res.DocumentID == "" {
		t.Fatal("document id should be set")
	}
	if res.TextRecords != 1 || res.ImageRecords != 2 || res.EmbeddingsCreated != 3 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := h.indexSize(t, "alice"); got != 3 {
		t.Errorf("index size = %d, want 3", got)
	}
	for page := 1; page <= 2; page++ {
		p := filepath.Join(h.previews, models.PageID(res.DocumentID, page)+".png")
		if _, err := os.Stat(p); err != nil {
			t.Errorf("preview for page %d missing: %v", page, err)
		}
	}
	doc, err := h.store.GetDocument(ctx, "alice", res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Filename != "report.pdf" || doc.ImageRecords != 2 {
		t.Errorf("unexpected document %+v", doc)
	}
	hits, err := h.keywords.Search(ctx, "alice", "revenue", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].DocumentID != res.DocumentID {
		t.Errorf("keyword hits = %+v", hits)
	}
}

func TestIngestPDF_RecordsProcessingTime(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	if _, err := h.idx.IngestPDF(ctx, "alice", "a.pdf", pdftest.SinglePage("alpha")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.idx.IngestPDF(ctx, "alice", "b.pdf", []byte("not a pdf")); err == nil {
		t.Fatal("expected error")
	}
	n, err := testutil.GatherAndCount(h.metrics.Registry(), "pagerag_document_processing_duration_seconds")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("processing series = %d, want ok and error", n)
	}
}

func TestIngestPDF_RejectsNonPDF(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	_, err := h.idx.IngestPDF(ctx, "alice", "notes.txt", []byte("plain text"))
	if !ragerr.IsUnsupported(err) {
		t.Errorf("expected unsupported, got %v", err)
	}
	_, err = h.idx.IngestPDF(ctx, "alice", "fake.pdf", []byte("not really a pdf"))
	if !ragerr.IsUnsupported(err) {
		t.Errorf("expected unsupported for missing header, got %v", err)
	}
	if got := h.indexSize(t, "alice"); got != 0 {
		t.Errorf("index size = %d, want 0", got)
	}
}

func TestIngestPDF_SkipsFailedItems(t *testing.T) {
	h := newHarness(t, 2)
	h.embedder.FailOn = func(c embedding.Content) bool { return c.Modality == models.ModalityText }

	res, err := h.idx.IngestPDF(context.Background(), "alice", "scan.pdf", pdftest.SinglePage("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if res.TextRecords != 0 || res.ImageRecords != 2 || res.SkippedItems != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := h.indexSize(t, "alice"); got != 2 {
		t.Errorf("index size = %d, want 2", got)
	}
}

func TestIngestPDF_AllItemsFail(t *testing.T) {
	h := newHarness(t, 1)
	h.embedder.FailOn = func(embedding.Content) bool { return true }

	_, err := h.idx.IngestPDF(context.Background(), "alice", "doc.pdf", pdftest.SinglePage("hello"))
	if !ragerr.IsUpstreamFailure(err) {
		t.Errorf("expected embedding failure, got %v", err)
	}
	entries, _ := os.ReadDir(h.previews)
	if len(entries) != 0 {
		t.Errorf("previews left behind: %d", len(entries))
	}
}

func TestIngestPDF_DimensionMismatchRemovesPreviews(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	x, _ := h.registry.Index("alice")
	rec, _ := models.NewTextRecord("old", "old.pdf", "old text")
	if err := x.Insert(ctx, []vector.Entry{{Vector: []float32{1, 0, 0}, Record: rec}}); err != nil {
		t.Fatal(err)
	}

	_, err := h.idx.IngestPDF(ctx, "alice", "doc.pdf", pdftest.SinglePage("hello"))
	if !ragerr.IsDimensionMismatch(err) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if x.Size() != 1 {
		t.Errorf("index size = %d, want 1", x.Size())
	}
	entries, _ := os.ReadDir(h.previews)
	if len(entries) != 0 {
		t.Errorf("previews left behind: %d", len(entries))
	}
	if count, _ := h.store.CountDocuments(ctx, "alice"); count != 0 {
		t.Errorf("a document whose vectors were rejected should not stay active, got %d", count)
	}
}

func TestIngestFile_SkipsUnchangedAndRetiresOld(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memo.pdf")
	if err := os.WriteFile(path, pdftest.SinglePage("first draft"), 0644); err != nil {
		t.Fatal(err)
	}

	first, err := h.idx.IngestFile(ctx, "alice", path)
	if err != nil {
		t.Fatal(err)
	}
	again, err := h.idx.IngestFile(ctx, "alice", path)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Unchanged || again.DocumentID != first.DocumentID {
		t.Errorf("second ingest should be unchanged: %+v", again)
	}

	if err := os.WriteFile(path, pdftest.SinglePage("second draft, longer"), 0644); err != nil {
		t.Fatal(err)
	}
	second, err := h.idx.IngestFile(ctx, "alice", path)
	if err != nil {
		t.Fatal(err)
	}
	if second.DocumentID == first.DocumentID {
		t.Fatal("changed file should get a new document id")
	}
	deleted, err := h.store.DeletedDocumentIDs(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := deleted[first.DocumentID]; !ok {
		t.Error("previous revision should be retired")
	}
}

func TestIngestFile_Errors(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	dir := t.TempDir()

	if _, err := h.idx.IngestFile(ctx, "alice", filepath.Join(dir, "missing.pdf")); !ragerr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	txt := filepath.Join(dir, "a.txt")
	_ = os.WriteFile(txt, []byte("x"), 0644)
	if _, err := h.idx.IngestFile(ctx, "alice", txt); !ragerr.IsUnsupported(err) {
		t.Errorf("expected unsupported, got %v", err)
	}
	if _, err := h.idx.IngestFile(ctx, "alice", dir); !ragerr.IsInvalidInput(err) {
		t.Errorf("expected invalid input for directory, got %v", err)
	}
}

func TestDeleteDocumentAndClearScope(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	a, err := h.idx.IngestPDF(ctx, "alice", "a.pdf", pdftest.SinglePage("alpha"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.idx.IngestPDF(ctx, "alice", "b.pdf", pdftest.SinglePage("beta"))
	if err != nil {
		t.Fatal(err)
	}

	if err := h.idx.DeleteDocument(ctx, "alice", a.DocumentID); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(h.previews, models.PageID(a.DocumentID, 1)+".png")); !os.IsNotExist(err) {
		t.Error("deleted document preview should be removed")
	}
	if err := h.idx.DeleteDocument(ctx, "alice", a.DocumentID); !ragerr.IsNotFound(err) {
		t.Errorf("second delete should be not found, got %v", err)
	}
	if err := h.idx.DeleteDocument(ctx, "bob", b.DocumentID); !ragerr.IsNotFound(err) {
		t.Errorf("delete from another scope should be not found, got %v", err)
	}

	n, err := h.idx.ClearScope(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleared %d documents, want 1", n)
	}
	if got := h.indexSize(t, "alice"); got != 0 {
		t.Errorf("index size after clear = %d", got)
	}
	entries, _ := os.ReadDir(h.previews)
	if len(entries) != 0 {
		t.Errorf("previews left after clear: %d", len(entries))
	}
	count, _ := h.store.CountDocuments(ctx, "alice")
	if count != 0 {
		t.Errorf("active documents after clear = %d", count)
	}
}

func TestIngestFile_AfterDeleteAndClear(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memo.pdf")
	if err := os.WriteFile(path, pdftest.SinglePage("memo body"), 0644); err != nil {
		t.Fatal(err)
	}

	first, err := h.idx.IngestFile(ctx, "alice", path)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.idx.DeleteDocument(ctx, "alice", first.DocumentID); err != nil {
		t.Fatal(err)
	}

	second, err := h.idx.IngestFile(ctx, "alice", path)
	if err != nil {
		t.Fatalf("re-ingest after delete: %v", err)
	}
	if second.Unchanged || second.DocumentID == first.DocumentID {
		t.Fatalf("re-ingest should create a new document: %+v", second)
	}
	if got := h.indexSize(t, "alice"); got != 4 {
		t.Errorf("index size = %d, want 4", got)
	}
	again, err := h.idx.IngestFile(ctx, "alice", path)
	if err != nil || !again.Unchanged || again.DocumentID != second.DocumentID {
		t.Fatalf("third ingest should be unchanged: %+v, %v", again, err)
	}

	if _, err := h.idx.ClearScope(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	third, err := h.idx.IngestFile(ctx, "alice", path)
	if err != nil {
		t.Fatalf("re-ingest after clear: %v", err)
	}
	if third.Unchanged || third.DocumentID == second.DocumentID {
		t.Fatalf("re-ingest after clear should create a new document: %+v", third)
	}
	if got := h.indexSize(t, "alice"); got != 2 {
		t.Errorf("index size after clear and re-ingest = %d, want 2", got)
	}
	if count, _ := h.store.CountDocuments(ctx, "alice"); count != 1 {
		t.Errorf("active documents = %d, want 1", count)
	}
	if _, err := os.Stat(filepath.Join(h.previews, models.PageID(third.DocumentID, 1)+".png")); err != nil {
		t.Errorf("preview of re-ingested document: %v", err)
	}
}

func TestIngestFile_SameFileInTwoScopes(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.pdf")
	if err := os.WriteFile(path, pdftest.SinglePage("shared text"), 0644); err != nil {
		t.Fatal(err)
	}
	a, err := h.idx.IngestFile(ctx, "alice", path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.idx.IngestFile(ctx, "bob", path)
	if err != nil {
		t.Fatalf("ingest into second scope: %v", err)
	}
	if a.DocumentID == b.DocumentID {
		t.Error("scopes should not share a document id")
	}
}

func TestIngestPDF_KeywordTitleWords(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	res, err := h.idx.IngestPDF(ctx, "alice", "quarterly_report.pdf", pdftest.SinglePage("numbers"))
	if err != nil {
		t.Fatal(err)
	}
	results, err := h.keywords.Search(ctx, "alice", "report", 5, &keyword.SearchOptions{TitleBoost: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocumentID != res.DocumentID {
		t.Fatalf("title word search = %+v", results)
	}
	if results[0].Title != "quarterly_report.pdf" {
		t.Errorf("title = %q", results[0].Title)
	}
}
