// Package tasks runs ingestion in the background on a fixed pool of workers.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/pagerag/internal/models"
	"github.com/hyperjump/pagerag/internal/storage"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/hyperjump/pagerag/pkg/utils"
	"go.uber.org/zap"
)

// Ingester is the part of the indexer a task needs.
type Ingester interface {
	IngestPDF(ctx context.Context, scope, filename string, raw []byte) (*models.IngestResult, error)
	IngestFile(ctx context.Context, scope, path string) (*models.IngestResult, error)
}

// File is one input of an ingest task: uploaded bytes, or a path on disk when Data is nil.
type File struct {
	Name string
	Path string
	Data []byte
}

type job struct {
	taskID string
	scope  string
	files  []File
}

// Queue accepts ingest tasks and processes them with a bounded backlog.
type Queue struct {
	store    storage.Storage
	ingester Ingester
	jobs     chan job
	workers  int
	wg       sync.WaitGroup
	// mu serializes state changes made by workers and by Cancel.
	mu      sync.Mutex
	closed  bool
	started bool
	logger  *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// NewQueue creates a queue holding at most size waiting tasks.
func NewQueue(store storage.Storage, ingester Ingester, size int, opts ...QueueOption) *Queue {
	if size <= 0 {
		size = 100
	}
	q := &Queue{
		store:    store,
		ingester: ingester,
		jobs:     make(chan job, size),
		workers:  2,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = utils.OrNop(q.logger)
	return q
}

// Start launches the workers. They run until Stop is called; ctx is passed to ingestion.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(worker int) {
			defer q.wg.Done()
			for j := range q.jobs {
				q.run(ctx, worker, j)
			}
		}(i)
	}
	q.logger.Debug("task queue started", zap.Int("workers", q.workers), zap.Int("capacity", cap(q.jobs)))
}

// Stop stops accepting tasks and waits for queued ones to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}

// SubmitIngest records a pending task for files and enqueues it.
func (q *Queue) SubmitIngest(ctx context.Context, scope string, files []File) (*models.Task, error) {
	if len(files) == 0 {
		return nil, ragerr.New(ragerr.CodeIngestFileInvalid, "at least one file is required")
	}
	now := time.Now().UTC()
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	task := &models.Task{
		ID:        uuid.New().String(),
		Scope:     scope,
		Kind:      models.TaskIngest,
		State:     models.TaskPending,
		FileNames: names,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.fail(ctx, task, "task queue is shut down")
		return nil, ragerr.New(ragerr.CodeTaskQueueFull, "task queue is shut down")
	}
	select {
	case q.jobs <- job{taskID: task.ID, scope: scope, files: files}:
		q.mu.Unlock()
	default:
		q.mu.Unlock()
		q.fail(ctx, task, "task queue is full")
		return nil, ragerr.Errorf(ragerr.CodeTaskQueueFull, "task queue is full (%d waiting)", cap(q.jobs))
	}
	q.logger.Info("task submitted", zap.String("task_id", task.ID), zap.String("scope", scope), zap.Int("files", len(files)))
	return task, nil
}

func (q *Queue) fail(ctx context.Context, task *models.Task, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := task.Transition(models.TaskFailed, time.Now().UTC()); err != nil {
		return
	}
	task.Error = reason
	if err := q.store.UpdateTask(ctx, task); err != nil {
		q.logger.Warn("update task failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// Cancel fails a task that has not started yet.
func (q *Queue) Cancel(ctx context.Context, scope, id string) (*models.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, err := q.store.GetTask(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if task.State != models.TaskPending {
		return nil, ragerr.Errorf(ragerr.CodeTaskTransitionInvalid, "task %s is %s and can no longer be cancelled", id, task.State)
	}
	if err := task.Transition(models.TaskFailed, time.Now().UTC()); err != nil {
		return nil, err
	}
	task.Error = "cancelled"
	if err := q.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	q.logger.Info("task cancelled", zap.String("task_id", id))
	return task, nil
}

// Get returns a task of scope.
func (q *Queue) Get(ctx context.Context, scope, id string) (*models.Task, error) {
	return q.store.GetTask(ctx, scope, id)
}

// List returns the most recent tasks of scope.
func (q *Queue) List(ctx context.Context, scope string, limit int) ([]*models.Task, error) {
	return q.store.ListTasks(ctx, scope, limit)
}

// begin moves a pending task to processing. It returns nil when the task
// was cancelled while waiting.
func (q *Queue) begin(ctx context.Context, j job) *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, err := q.store.GetTask(ctx, j.scope, j.taskID)
	if err != nil {
		q.logger.Warn("load task failed", zap.String("task_id", j.taskID), zap.Error(err))
		return nil
	}
	if task.State != models.TaskPending {
		return nil
	}
	if err := task.Transition(models.TaskProcessing, time.Now().UTC()); err != nil {
		return nil
	}
	if err := q.store.UpdateTask(ctx, task); err != nil {
		q.logger.Warn("update task failed", zap.String("task_id", task.ID), zap.Error(err))
	}
	return task
}

func (q *Queue) run(ctx context.Context, worker int, j job) {
	task := q.begin(ctx, j)
	if task == nil {
		return
	}
	log := q.logger.With(zap.String("task_id", task.ID), zap.Int("worker", worker))
	log.Debug("task processing", zap.Int("files", len(j.files)))

	var failures []string
	for i, f := range j.files {
		res, err := q.ingest(ctx, j.scope, f)
		if err != nil {
			log.Warn("file ingest failed", zap.String("file", f.Name), zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", f.Name, err))
		} else {
			task.DocumentIDs = append(task.DocumentIDs, res.DocumentID)
		}
		task.Advance((i+1)*100/len(j.files), fmt.Sprintf("processed %d of %d files", i+1, len(j.files)), time.Now().UTC())
		if i < len(j.files)-1 {
			q.save(ctx, task)
		}
	}

	final := models.TaskCompleted
	if len(failures) == len(j.files) {
		final = models.TaskFailed
	}
	if len(failures) > 0 {
		task.Error = strings.Join(failures, "; ")
	}
	task.Message = fmt.Sprintf("ingested %d of %d files", len(j.files)-len(failures), len(j.files))
	q.mu.Lock()
	if err := task.Transition(final, time.Now().UTC()); err != nil {
		log.Warn("task transition failed", zap.Error(err))
	}
	q.mu.Unlock()
	q.save(ctx, task)
	log.Info("task finished", zap.String("state", string(task.State)), zap.Int("failed_files", len(failures)))
}

func (q *Queue) ingest(ctx context.Context, scope string, f File) (*models.IngestResult, error) {
	if f.Data != nil {
		return q.ingester.IngestPDF(ctx, scope, f.Name, f.Data)
	}
	return q.ingester.IngestFile(ctx, scope, f.Path)
}

func (q *Queue) save(ctx context.Context, task *models.Task) {
	if err := q.store.UpdateTask(ctx, task); err != nil {
		q.logger.Warn("update task failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}
