package server

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/pagerag/internal/keyword"
	"github.com/hyperjump/pagerag/internal/models"
	"github.com/hyperjump/pagerag/internal/storage"
	"github.com/hyperjump/pagerag/internal/tasks"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"go.uber.org/zap"
)

const (
	multipartMemory     = 32 << 20
	defaultListLimit    = 50
	maxListLimit        = 500
	defaultKeywordLimit = 10
)

// parseUpload reads a size-limited multipart form. The caller removes its
// temporary files with r.MultipartForm.RemoveAll.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) error {
	maxBytes := int64(s.cfg.Server.MaxUploadMB) << 20
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ragerr.Errorf(ragerr.CodeServerPayloadTooLarge, "upload exceeds %d MB", s.cfg.Server.MaxUploadMB)
		}
		return ragerr.Wrap(err, ragerr.CodeServerRequestInvalid, "expected a multipart form")
	}
	return nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUpload(w, r); err != nil {
		s.respondError(w, r, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	scope := s.scopeOf(r)
	if r.URL.Query().Get("async") == "true" {
		s.uploadAsync(w, r, scope)
		return
	}

	fh := firstFile(r.MultipartForm, "file")
	if fh == nil {
		s.respondError(w, r, ragerr.New(ragerr.CodeServerRequestInvalid, "multipart field \"file\" is required"))
		return
	}
	data, err := readPart(fh)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Debug("upload request", zap.String("scope", scope), zap.String("filename", fh.Filename), zap.Int("bytes", len(data)))
	res, err := s.indexer.IngestPDF(r.Context(), scope, fh.Filename, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) uploadAsync(w http.ResponseWriter, r *http.Request, scope string) {
	if s.queue == nil {
		s.respondError(w, r, ragerr.New(ragerr.CodeServerFeatureDisabled, "background tasks are disabled"))
		return
	}
	files, err := uploadedFiles(r.MultipartForm)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	task, err := s.queue.SubmitIngest(r.Context(), scope, files)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID, "status": string(task.State)})
}

// uploadedFiles reads every part of the "files" and "file" fields.
func uploadedFiles(form *multipart.Form) ([]tasks.File, error) {
	headers := append(form.File["files"], form.File["file"]...)
	if len(headers) == 0 {
		return nil, ragerr.New(ragerr.CodeServerRequestInvalid, "multipart field \"files\" is required")
	}
	files := make([]tasks.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, tasks.File{Name: fh.Filename, Data: data})
	}
	return files, nil
}

func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	if form == nil || len(form.File[field]) == 0 {
		return nil
	}
	return form.File[field][0]
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeServerRequestInvalid, "open upload %s", fh.Filename)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeServerRequestInvalid, "read upload %s", fh.Filename)
	}
	return data, nil
}

func queryInt(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, ragerr.Errorf(ragerr.CodeServerRequestInvalid, "%s must be a non-negative integer", name)
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0, 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit, maxListLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	scope := s.scopeOf(r)
	docs, err := s.storage.ListDocuments(r.Context(), scope, offset, limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	total, err := s.storage.CountDocuments(r.Context(), scope)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "total": total})
}

func (s *Server) activeDocument(r *http.Request, id string) (*models.Document, error) {
	doc, err := s.storage.GetDocument(r.Context(), s.scopeOf(r), id)
	if err != nil {
		return nil, err
	}
	if !doc.Active() {
		return nil, ragerr.Errorf(ragerr.CodeServerEntityNotFound, "document %s was deleted", id)
	}
	return doc, nil
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.activeDocument(r, chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.indexer.DeleteDocument(r.Context(), s.scopeOf(r), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Debug("query request", zap.Int("k", req.K), zap.Int("query_len", len(req.Query)))
	resp, err := s.engine.Query(r.Context(), s.scopeOf(r), &req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBatchQuery(w http.ResponseWriter, r *http.Request) {
	var req models.BatchQueryRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	resp, err := s.engine.BatchQuery(r.Context(), s.scopeOf(r), &req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleKeywordSearch(w http.ResponseWriter, r *http.Request) {
	if s.keywords == nil {
		s.respondError(w, r, ragerr.New(ragerr.CodeServerFeatureDisabled, "keyword search is disabled"))
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		s.respondError(w, r, ragerr.New(ragerr.CodeServerRequestInvalid, "query parameter q is required"))
		return
	}
	limit, err := queryInt(r, "limit", defaultKeywordLimit, maxListLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	scope := s.scopeOf(r)
	results, err := s.keywords.Search(r.Context(), scope, q, limit, &keyword.SearchOptions{
		TitleBoost:   2,
		FuzzyEnabled: true,
		Fuzziness:    1,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	resp := map[string]interface{}{"query": q, "results": results, "total_results": len(results)}
	if len(results) == 0 {
		if suggestion, ok := s.keywords.Suggest(r.Context(), scope, q); ok {
			resp["suggestion"] = suggestion
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearIndex(w http.ResponseWriter, r *http.Request) {
	scope := s.scopeOf(r)
	n, err := s.indexer.ClearScope(r.Context(), scope)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "cleared", "documents": n})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit, maxListLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	list, err := s.storage.ListTasks(r.Context(), s.scopeOf(r), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Task{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"tasks": list})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.storage.GetTask(r.Context(), s.scopeOf(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		s.respondError(w, r, ragerr.New(ragerr.CodeServerFeatureDisabled, "background tasks are disabled"))
		return
	}
	task, err := s.queue.Cancel(r.Context(), s.scopeOf(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}

var previewName = regexp.MustCompile(`^([A-Za-z0-9-]+)_page_([0-9]+)\.png$`)

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m := previewName.FindStringSubmatch(name)
	if m == nil {
		s.respondError(w, r, ragerr.Errorf(ragerr.CodeServerEntityNotFound, "no preview named %q", name))
		return
	}
	if _, err := s.activeDocument(r, m[1]); err != nil {
		s.respondError(w, r, err)
		return
	}
	path := filepath.Join(s.indexer.PreviewDir(), name)
	if _, err := os.Stat(path); err != nil {
		s.respondError(w, r, ragerr.Errorf(ragerr.CodeServerEntityNotFound, "no preview named %q", name))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.statusReport(r.Context(), s.scopeOf(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleAdminStats is the status report plus deployment-wide counts.
func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	resp, err := s.statusReport(r.Context(), s.scopeOf(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	users, err := s.storage.CountUsers(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	resp["users"] = users
	resp["scopes_loaded"] = len(s.registry.Scopes())
	resp["vectors_total"] = s.registry.TotalSize()
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) statusReport(ctx context.Context, scope string) (map[string]interface{}, error) {
	docCount, err := s.storage.CountDocuments(ctx, scope)
	if err != nil {
		return nil, err
	}
	taskCounts := map[string]int64{}
	for _, state := range []models.TaskState{models.TaskPending, models.TaskProcessing, models.TaskCompleted, models.TaskFailed} {
		n, err := s.storage.CountTasks(ctx, scope, state)
		if err != nil {
			return nil, err
		}
		taskCounts[string(state)] = n
	}
	vectorSize := 0
	if idx, err := s.registry.Index(scope); err == nil {
		vectorSize = idx.Size()
	}
	resp := map[string]interface{}{
		"scope":             scope,
		"documents":         docCount,
		"tasks":             taskCounts,
		"vector_index_size": vectorSize,
		"config": map[string]interface{}{
			"embedding_provider":  s.cfg.Embedding.Provider,
			"embedding_model":     s.cfg.Embedding.Model,
			"generation_provider": s.cfg.Generation.Provider,
			"generation_model":    s.cfg.Generation.Model,
			"database_driver":     s.cfg.Storage.DatabaseDriver,
			"winner_policy":       s.cfg.Search.WinnerPolicy,
			"max_k":               s.cfg.Search.MaxK,
		},
	}
	if usage, err := storage.MeasureUsage(s.cfg.Storage.Areas()); err == nil {
		resp["disk_usage_bytes"] = usage.Total()
		resp["disk_usage"] = usage
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	return resp, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storageOK := s.storage.Ping(r.Context()) == nil && s.registry.Reachable()
	_, indexErr := s.registry.Index(s.cfg.Server.DefaultScope)
	status, code := "ok", http.StatusOK
	if !storageOK {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, map[string]interface{}{
		"status":            status,
		"index_loaded":      indexErr == nil,
		"storage_reachable": storageOK,
	})
}
