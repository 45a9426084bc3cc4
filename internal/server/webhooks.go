package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"go.uber.org/zap"
)

// Workflow tools (n8n) call these endpoints with a shared secret instead of a
// user API key. The caller names the user whose scope is searched or fed.

const webhookSecretHeader = "X-Webhook-Secret"

type webhookSearchRequest struct {
	Query   string `json:"query"`
	UserID  string `json:"user_id"`
	Options struct {
		TopK          int            `json:"top_k"`
		IncludeAnswer *bool          `json:"include_answer"`
		Filters       models.Filters `json:"filters"`
	} `json:"options"`
}

type webhookResult struct {
	Content    string          `json:"content,omitempty"`
	Source     string          `json:"source"`
	Score      float64         `json:"score"`
	Type       models.Modality `json:"type"`
	Page       int             `json:"page,omitempty"`
	DocumentID string          `json:"document_id"`
	PreviewURL string          `json:"preview_url,omitempty"`
}

type webhookResponse struct {
	Success   bool                   `json:"success"`
	Data      map[string]interface{} `json:"data"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
}

// checkWebhookSecret compares in constant time. Webhooks are off while no
// secret is configured.
func (s *Server) checkWebhookSecret(given string) error {
	secret := s.cfg.Server.WebhookSecret
	if secret == "" {
		return ragerr.New(ragerr.CodeServerFeatureDisabled, "webhooks are disabled")
	}
	if given == "" || subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
		return ragerr.New(ragerr.CodeServerAuthUnauthorized, "invalid webhook secret")
	}
	return nil
}

func webhookSecretOf(r *http.Request, formValue string) string {
	if v := strings.TrimSpace(r.Header.Get(webhookSecretHeader)); v != "" {
		return v
	}
	if v := r.URL.Query().Get("webhook_secret"); v != "" {
		return v
	}
	return formValue
}

// webhookScope is the named user's scope, or the default scope when
// authentication is off and no user is named.
func (s *Server) webhookScope(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID != "" {
		return userID, nil
	}
	if s.cfg.Server.AuthEnabled {
		return "", ragerr.New(ragerr.CodeServerRequestInvalid, "user_id is required")
	}
	return s.cfg.Server.DefaultScope, nil
}

func (s *Server) respondWebhook(w http.ResponseWriter, data map[string]interface{}, message string, err error) {
	resp := webhookResponse{Success: err == nil, Data: data, Message: message, Timestamp: time.Now().UTC()}
	if resp.Data == nil {
		resp.Data = map[string]interface{}{}
	}
	if err != nil {
		resp.Message = message + ": " + string(ragerr.CodeOf(err)) + ": " + err.Error()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWebhookSearch(w http.ResponseWriter, r *http.Request) {
	if err := s.checkWebhookSecret(webhookSecretOf(r, "")); err != nil {
		s.respondError(w, r, err)
		return
	}
	var req webhookSearchRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	scope, err := s.webhookScope(req.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	resp, err := s.engine.Query(r.Context(), scope, &models.QueryRequest{
		Query:         req.Query,
		K:             req.Options.TopK,
		Filters:       req.Options.Filters,
		IncludeAnswer: req.Options.IncludeAnswer,
	})
	if err != nil {
		s.logger.Warn("webhook search failed", zap.String("scope", scope), zap.Error(err))
		s.respondWebhook(w, nil, "search failed", err)
		return
	}
	results := make([]webhookResult, 0, len(resp.Results))
	for _, res := range resp.Results {
		results = append(results, webhookResult{
			Content:    res.Content,
			Source:     res.Source,
			Score:      res.Similarity,
			Type:       res.Modality,
			Page:       res.Page,
			DocumentID: res.DocumentID,
			PreviewURL: res.PreviewURL,
		})
	}
	data := map[string]interface{}{
		"query":     resp.Query,
		"answer":    resp.Answer,
		"results":   results,
		"timestamp": time.Now().UTC(),
	}
	if resp.AnswerError != "" {
		data["answer_error"] = resp.AnswerError
	}
	s.logger.Info("webhook search completed", zap.String("scope", scope), zap.Int("results", len(results)))
	s.respondWebhook(w, data, "search completed", nil)
}

func (s *Server) handleWebhookUpload(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		s.respondError(w, r, ragerr.New(ragerr.CodeServerFeatureDisabled, "background tasks are disabled"))
		return
	}
	if err := s.parseUpload(w, r); err != nil {
		s.respondError(w, r, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	if err := s.checkWebhookSecret(webhookSecretOf(r, r.FormValue("webhook_secret"))); err != nil {
		s.respondError(w, r, err)
		return
	}
	scope, err := s.webhookScope(r.FormValue("user_id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	files, err := uploadedFiles(r.MultipartForm)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	task, err := s.queue.SubmitIngest(r.Context(), scope, files)
	if err != nil {
		s.logger.Warn("webhook upload failed", zap.String("scope", scope), zap.Error(err))
		s.respondWebhook(w, nil, "upload failed", err)
		return
	}
	s.respondWebhook(w, map[string]interface{}{
		"task_id":     task.ID,
		"status":      string(task.State),
		"files_count": len(files),
	}, "document processing started", nil)
}
