package search

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hyperjump/pagerag/internal/embedding"
	"github.com/hyperjump/pagerag/internal/generate"
	"github.com/hyperjump/pagerag/internal/metrics"
	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/hyperjump/pagerag/pkg/utils"
	"go.uber.org/zap"
)

// ImageUnreadableAnswer is returned when the winning page image cannot be read.
const ImageUnreadableAnswer = "Unable to process image for answer generation."

const (
	noResultsMessage  = "no matching content found"
	emptyIndexMessage = "no indexed content"
)

// EngineConfig holds query defaults.
type EngineConfig struct {
	DefaultK        int
	MaxBatchQueries int
	WinnerPolicy    string
}

// Engine answers queries: retrieve, select a winner, generate.
type Engine struct {
	retriever  *Retriever
	generator  generate.Generator
	cfg        EngineConfig
	previewURL func(path string) string
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPreviewURL sets how preview paths are exposed to clients.
func WithPreviewURL(fn func(path string) string) EngineOption {
	return func(e *Engine) { e.previewURL = fn }
}

// WithMetrics records query latency.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine. A nil generator disables answers.
func NewEngine(retriever *Retriever, generator generate.Generator, cfg EngineConfig, opts ...EngineOption) *Engine {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 5
	}
	if cfg.MaxBatchQueries <= 0 {
		cfg.MaxBatchQueries = 10
	}
	if cfg.WinnerPolicy == "" {
		cfg.WinnerPolicy = PolicyImageFirst
	}
	e := &Engine{
		retriever: retriever,
		generator: generator,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// Retriever returns the engine's retriever.
func (e *Engine) Retriever() *Retriever { return e.retriever }

// Query retrieves the nearest results for req and, unless disabled, answers
// from the winner. Generation problems never fail the query: they leave the
// answer empty and set AnswerError. An empty index is reported the same way.
func (e *Engine) Query(ctx context.Context, scope string, req *models.QueryRequest) (*models.QueryResponse, error) {
	start := time.Now()
	resp, err := e.query(ctx, scope, req, start)
	e.metrics.ObserveQuery(time.Since(start), err)
	return resp, err
}

func (e *Engine) query(ctx context.Context, scope string, req *models.QueryRequest, start time.Time) (*models.QueryResponse, error) {
	if req == nil {
		return nil, ragerr.New(ragerr.CodeSearchQueryInvalid, "query request is required")
	}
	k := req.K
	if k == 0 {
		k = e.cfg.DefaultK
	}

	resp := &models.QueryResponse{Query: req.Query, Results: []*models.SearchResult{}}
	results, err := e.retriever.Retrieve(ctx, scope, req.Query, k, req.Filters)
	switch {
	case ragerr.HasCode(err, ragerr.CodeVectorIndexEmpty):
		resp.AnswerError = emptyIndexMessage
		resp.QueryTime = time.Since(start).Milliseconds()
		return resp, nil
	case err != nil:
		return nil, err
	}

	for _, r := range results {
		r.Similarity = utils.Round(r.Similarity, 4)
		if r.PreviewPath != "" && e.previewURL != nil {
			r.PreviewURL = e.previewURL(r.PreviewPath)
		}
	}
	resp.Results = results
	resp.TotalResults = len(results)
	resp.Winner = SelectWinner(results, e.cfg.WinnerPolicy)

	if req.WantsAnswer() {
		resp.Answer, resp.AnswerError = e.answer(ctx, req.Query, resp.Winner)
	}
	resp.QueryTime = time.Since(start).Milliseconds()

	e.logger.Info("query",
		zap.String("scope", scope),
		zap.Int("k", k),
		zap.Int("results", resp.TotalResults),
		zap.Bool("answered", resp.Answer != ""),
		zap.Int64("took_ms", resp.QueryTime),
	)
	return resp, nil
}

func (e *Engine) answer(ctx context.Context, query string, winner *models.SearchResult) (string, string) {
	if winner == nil {
		return "", noResultsMessage
	}
	if e.generator == nil {
		return "", "answer generation is disabled"
	}
	ev := generate.Evidence{
		Modality: winner.Modality,
		Source:   winner.Source,
		Page:     winner.Page,
	}
	if winner.Modality == models.ModalityImage {
		img, err := os.ReadFile(winner.PreviewPath)
		if err != nil || len(img) == 0 {
			e.logger.Warn("preview unreadable", zap.String("path", winner.PreviewPath), zap.Error(err))
			return ImageUnreadableAnswer, ""
		}
		ev.Image = img
		ev.MIMEType = embedding.MIMETypePNG
	} else {
		ev.Text = winner.Content
	}

	answer, err := e.generator.Answer(ctx, query, ev)
	if err != nil {
		e.logger.Warn("answer generation failed",
			zap.String("generator", e.generator.Name()),
			zap.String("owner_id", winner.OwnerID),
			zap.Error(err),
		)
		return "", err.Error()
	}
	return strings.TrimSpace(answer), ""
}

// BatchQuery runs each query in order with shared options. A failing query
// yields a response carrying only its AnswerError; siblings still run.
func (e *Engine) BatchQuery(ctx context.Context, scope string, req *models.BatchQueryRequest) (*models.BatchQueryResponse, error) {
	start := time.Now()
	if req == nil || len(req.Queries) == 0 {
		return nil, ragerr.New(ragerr.CodeSearchQueryInvalid, "at least one query is required")
	}
	if len(req.Queries) > e.cfg.MaxBatchQueries {
		return nil, ragerr.Errorf(ragerr.CodeSearchQueryInvalid, "batch has %d queries, limit is %d",
			len(req.Queries), e.cfg.MaxBatchQueries)
	}
	out := &models.BatchQueryResponse{Responses: make([]*models.QueryResponse, 0, len(req.Queries))}
	for _, q := range req.Queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := e.Query(ctx, scope, &models.QueryRequest{
			Query:         q,
			K:             req.K,
			Filters:       req.Filters,
			IncludeAnswer: req.IncludeAnswer,
		})
		if err != nil {
			e.logger.Warn("batch query item failed", zap.String("query", utils.Truncate(q, 80)), zap.Error(err))
			resp = &models.QueryResponse{Query: q, Results: []*models.SearchResult{}, AnswerError: err.Error()}
		}
		out.Responses = append(out.Responses, resp)
	}
	out.QueryTime = time.Since(start).Milliseconds()
	return out, nil
}
