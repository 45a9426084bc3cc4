// Package indexer ingests PDF documents: extract, embed, index, register.
package indexer

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/pagerag/internal/embedding"
	"github.com/hyperjump/pagerag/internal/extract"
	"github.com/hyperjump/pagerag/internal/fileid"
	"github.com/hyperjump/pagerag/internal/keyword"
	"github.com/hyperjump/pagerag/internal/metrics"
	"github.com/hyperjump/pagerag/internal/models"
	"github.com/hyperjump/pagerag/internal/storage"
	"github.com/hyperjump/pagerag/internal/vector"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/hyperjump/pagerag/pkg/utils"
	"go.uber.org/zap"
)

// Indexer turns PDF bytes into vector records, previews and registry entries.
type Indexer struct {
	extractor    *extract.Extractor
	embedder     embedding.Embedder
	indexes      *vector.Registry
	storage      storage.Storage
	keywordIndex keyword.Index
	previewDir   string
	maxPixels    int
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithKeywordIndex also indexes extracted text for keyword search.
func WithKeywordIndex(k keyword.Index) IndexerOption {
	return func(idx *Indexer) { idx.keywordIndex = k }
}

// WithMetrics records how long each document takes to ingest.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// WithMaxImagePixels caps the pixel area of page images sent for embedding.
func WithMaxImagePixels(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.maxPixels = n
		}
	}
}

// NewIndexer creates an indexer. Page previews are written to previewDir.
func NewIndexer(
	extractor *extract.Extractor,
	embedder embedding.Embedder,
	indexes *vector.Registry,
	store storage.Storage,
	previewDir string,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		extractor:  extractor,
		embedder:   embedder,
		indexes:    indexes,
		storage:    store,
		previewDir: previewDir,
		maxPixels:  extract.DefaultMaxPixels,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// PreviewDir returns the directory holding page previews.
func (idx *Indexer) PreviewDir() string { return idx.previewDir }

// IngestPDF ingests an uploaded PDF under a fresh document id.
func (idx *Indexer) IngestPDF(ctx context.Context, scope, filename string, raw []byte) (*models.IngestResult, error) {
	return idx.ingest(ctx, source{
		scope:    scope,
		docID:    uuid.New().String(),
		filename: filepath.Base(filename),
		raw:      raw,
	})
}

// IngestFile ingests a PDF from disk. The document id is derived from the
// file's path and revision, so an unchanged file is not ingested twice and a
// changed file retires its previous revision.
func (idx *Indexer) IngestFile(ctx context.Context, scope, path string) (*models.IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeIngestFileInvalid, "absolute path of %s", path)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ragerr.Errorf(ragerr.CodeIngestDocumentNotFound, "no such file: %s", absPath)
		}
		return nil, ragerr.Wrapf(err, ragerr.CodeIngestFileInvalid, "stat %s", absPath)
	}
	if !info.Mode().IsRegular() {
		return nil, ragerr.Errorf(ragerr.CodeIngestFileInvalid, "not a regular file: %s", absPath)
	}
	if !HasPDFExtension(absPath) {
		return nil, unsupported(absPath)
	}

	docID, unchanged, err := idx.revisionID(ctx, scope, absPath, info)
	if err != nil {
		return nil, err
	}
	if unchanged != nil {
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		return &models.IngestResult{
			DocumentID:   unchanged.ID,
			Filename:     unchanged.Filename,
			Pages:        unchanged.PageCount,
			TextRecords:  unchanged.TextRecords,
			ImageRecords: unchanged.ImageRecords,
			Unchanged:    true,
		}, nil
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeIngestFileInvalid, "read %s", absPath)
	}
	res, err := idx.ingest(ctx, source{
		scope:      scope,
		docID:      docID,
		filename:   filepath.Base(absPath),
		sourcePath: absPath,
		raw:        raw,
	})
	if err != nil {
		return nil, err
	}
	idx.retireRevisions(ctx, scope, absPath, docID)
	return res, nil
}

const maxRevisionGenerations = 1000

// revisionID finds the id for ingesting the file's current revision into
// scope. When an active document already holds the revision it is returned
// as unchanged. Deleted generations are skipped so a file can be ingested
// again after a delete or a clear.
func (idx *Indexer) revisionID(ctx context.Context, scope, absPath string, info os.FileInfo) (string, *models.Document, error) {
	mtime, size := info.ModTime().UnixNano(), info.Size()
	for gen := 0; gen < maxRevisionGenerations; gen++ {
		id := fileid.ScopedRevisionID(scope, absPath, mtime, size, gen)
		doc, err := idx.storage.GetDocument(ctx, scope, id)
		switch {
		case ragerr.IsNotFound(err):
			return id, nil, nil
		case err != nil:
			return "", nil, err
		case doc.Active():
			return id, doc, nil
		}
	}
	return "", nil, ragerr.Errorf(ragerr.CodeIngestFileInvalid, "%s was re-ingested too many times", absPath)
}

type source struct {
	scope      string
	docID      string
	filename   string
	sourcePath string
	raw        []byte
}

// HasPDFExtension reports whether name ends in .pdf, ignoring case.
func HasPDFExtension(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

func unsupported(name string) error {
	return ragerr.Errorf(ragerr.CodeIngestFileUnsupported, "unsupported file type: %s (only PDF is accepted)", name)
}

func (idx *Indexer) ingest(ctx context.Context, src source) (*models.IngestResult, error) {
	start := time.Now()
	res, err := idx.process(ctx, src, start)
	idx.metrics.ObserveIngest(time.Since(start), err)
	return res, err
}

func (idx *Indexer) process(ctx context.Context, src source, start time.Time) (*models.IngestResult, error) {
	if err := vector.ValidateScope(src.scope); err != nil {
		return nil, err
	}
	if !HasPDFExtension(src.filename) || !extract.IsPDF(src.raw) {
		return nil, unsupported(src.filename)
	}
	index, err := idx.indexes.Index(src.scope)
	if err != nil {
		return nil, err
	}

	ex, err := idx.extractor.Extract(ctx, src.raw)
	if err != nil {
		return nil, err
	}

	res := &models.IngestResult{
		DocumentID: src.docID,
		Filename:   src.filename,
		Pages:      ex.PageCount,
	}
	log := idx.logger.With(zap.String("scope", src.scope), zap.String("doc_id", src.docID))

	var entries []vector.Entry
	hasText := !utils.IsBlank(ex.Text)
	if hasText {
		entry, ok := idx.embedText(ctx, log, src, ex.Text)
		if ok {
			entries = append(entries, entry)
			res.TextRecords++
		} else {
			res.SkippedItems++
		}
	}

	var previews []string
	for i, page := range ex.Pages {
		if err := ctx.Err(); err != nil {
			removeFiles(previews)
			return nil, err
		}
		entry, path, ok := idx.embedPage(ctx, log, src, i+1, page)
		if !ok {
			res.SkippedItems++
			continue
		}
		previews = append(previews, path)
		entries = append(entries, entry)
		res.ImageRecords++
	}

	if len(entries) == 0 {
		if !hasText && len(ex.Pages) == 0 {
			return nil, ragerr.New(ragerr.CodeIngestFileInvalid, "document has no extractable text or pages",
				ragerr.FieldDocumentID(src.docID))
		}
		return nil, ragerr.New(ragerr.CodeIngestNoEmbeddings, "no item of the document could be embedded",
			ragerr.FieldDocumentID(src.docID))
	}

	doc := &models.Document{
		ID:           src.docID,
		Scope:        src.scope,
		Filename:     src.filename,
		SourcePath:   src.sourcePath,
		Size:         int64(len(src.raw)),
		PageCount:    ex.PageCount,
		TextRecords:  res.TextRecords,
		ImageRecords: res.ImageRecords,
		Status:       models.DocumentIndexed,
	}
	// Register before appending vectors: a vector never exists without a
	// registry row that can retire it.
	if err := idx.storage.CreateDocument(ctx, doc); err != nil {
		removeFiles(previews)
		log.Error("register document failed", zap.Error(err))
		return nil, err
	}
	if err := index.Insert(ctx, entries); err != nil {
		removeFiles(previews)
		if delErr := idx.storage.MarkDocumentDeleted(ctx, src.scope, src.docID, time.Now().UTC()); delErr != nil {
			log.Warn("retire unindexed document failed", zap.Error(delErr))
		}
		return nil, err
	}
	res.EmbeddingsCreated = len(entries)

	if idx.keywordIndex != nil && hasText {
		if err := idx.keywordIndex.Index(ctx, keyword.Entry{
			Scope:      src.scope,
			DocumentID: src.docID,
			Title:      src.filename,
			Content:    ex.Text,
		}); err != nil {
			log.Warn("keyword indexing failed", zap.Error(err))
		}
	}

	log.Info("document ingested",
		zap.String("filename", src.filename),
		zap.Int("pages", res.Pages),
		zap.Int("embeddings", res.EmbeddingsCreated),
		zap.Int("skipped", res.SkippedItems),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

func (idx *Indexer) embedText(ctx context.Context, log *zap.Logger, src source, text string) (vector.Entry, bool) {
	rec, err := models.NewTextRecord(src.docID, src.filename, text)
	if err != nil {
		log.Warn("text record invalid", zap.Error(err))
		return vector.Entry{}, false
	}
	vec, err := idx.embedder.Embed(ctx, embedding.TextContent(text), models.RoleDocument)
	if err != nil {
		log.Warn("text embedding failed, skipping", zap.Error(err))
		return vector.Entry{}, false
	}
	return vector.Entry{Vector: vec, Record: rec}, true
}

func (idx *Indexer) embedPage(ctx context.Context, log *zap.Logger, src source, page int, img image.Image) (vector.Entry, string, bool) {
	log = log.With(zap.Int("page", page))
	data, err := extract.EncodePNG(img, idx.maxPixels)
	if err != nil {
		log.Warn("page encode failed, skipping", zap.Error(err))
		return vector.Entry{}, "", false
	}
	vec, err := idx.embedder.Embed(ctx, embedding.ImageContent(data), models.RoleDocument)
	if err != nil {
		log.Warn("page embedding failed, skipping", zap.Error(err))
		return vector.Entry{}, "", false
	}
	path, err := extract.SavePreview(idx.previewDir, models.PageID(src.docID, page), data)
	if err != nil {
		log.Warn("page preview failed, skipping", zap.Error(err))
		return vector.Entry{}, "", false
	}
	rec, err := models.NewImageRecord(src.docID, src.filename, page, path)
	if err != nil {
		removeFiles([]string{path})
		log.Warn("image record invalid", zap.Error(err))
		return vector.Entry{}, "", false
	}
	return vector.Entry{Vector: vec, Record: rec}, path, true
}

// retireRevisions marks older ingested revisions of sourcePath as deleted.
func (idx *Indexer) retireRevisions(ctx context.Context, scope, sourcePath, keepID string) {
	docs, err := idx.listAll(ctx, scope)
	if err != nil {
		idx.logger.Warn("list documents failed", zap.String("scope", scope), zap.Error(err))
		return
	}
	for _, doc := range docs {
		if doc.SourcePath != sourcePath || doc.ID == keepID {
			continue
		}
		if err := idx.DeleteDocument(ctx, scope, doc.ID); err != nil {
			idx.logger.Warn("retire revision failed", zap.String("doc_id", doc.ID), zap.Error(err))
		}
	}
}

const listPageSize = 500

func (idx *Indexer) listAll(ctx context.Context, scope string) ([]*models.Document, error) {
	var all []*models.Document
	for offset := 0; ; offset += listPageSize {
		page, err := idx.storage.ListDocuments(ctx, scope, offset, listPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < listPageSize {
			return all, nil
		}
	}
}

// DeleteDocument retires a document. Its vectors stay in the append-only
// index and are filtered out at query time; previews and keyword entries go.
func (idx *Indexer) DeleteDocument(ctx context.Context, scope, id string) error {
	if err := idx.storage.MarkDocumentDeleted(ctx, scope, id, time.Now().UTC()); err != nil {
		return err
	}
	idx.removePreviews(id)
	if idx.keywordIndex != nil {
		if err := idx.keywordIndex.Delete(ctx, scope, id); err != nil {
			idx.logger.Warn("keyword delete failed", zap.String("doc_id", id), zap.Error(err))
		}
	}
	idx.logger.Debug("indexer document deleted", zap.String("scope", scope), zap.String("doc_id", id))
	return nil
}

// ClearScope empties the scope's vector index and retires every document in
// it. It returns the number of documents retired.
func (idx *Indexer) ClearScope(ctx context.Context, scope string) (int64, error) {
	index, err := idx.indexes.Index(scope)
	if err != nil {
		return 0, err
	}
	docs, err := idx.listAll(ctx, scope)
	if err != nil {
		return 0, err
	}
	if err := index.Clear(); err != nil {
		return 0, err
	}
	for _, doc := range docs {
		idx.removePreviews(doc.ID)
	}
	n, err := idx.storage.MarkScopeDeleted(ctx, scope, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if idx.keywordIndex != nil {
		if _, err := idx.keywordIndex.DeleteScope(ctx, scope); err != nil {
			idx.logger.Warn("keyword clear failed", zap.String("scope", scope), zap.Error(err))
		}
	}
	idx.logger.Info("scope cleared", zap.String("scope", scope), zap.Int64("documents", n))
	return n, nil
}

func (idx *Indexer) removePreviews(docID string) {
	if idx.previewDir == "" {
		return
	}
	matches, err := filepath.Glob(filepath.Join(idx.previewDir, docID+"_page_*.png"))
	if err != nil {
		return
	}
	removeFiles(matches)
}

func removeFiles(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
