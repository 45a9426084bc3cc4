package models

import (
	"time"

	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

// DocumentStatus is the registry state of an uploaded document.
type DocumentStatus string

const (
	DocumentIndexed DocumentStatus = "indexed"
	DocumentDeleted DocumentStatus = "deleted"
)

// Document is the registry entry for one ingested PDF.
type Document struct {
	ID           string         `json:"id" db:"id"`
	Scope        string         `json:"scope" db:"scope"`
	Filename     string         `json:"filename" db:"filename"`
	SourcePath   string         `json:"source_path,omitempty" db:"source_path"`
	Size         int64          `json:"size" db:"size"`
	PageCount    int            `json:"page_count" db:"page_count"`
	TextRecords  int            `json:"text_records" db:"text_records"`
	ImageRecords int            `json:"image_records" db:"image_records"`
	Status       DocumentStatus `json:"status" db:"status"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	DeletedAt    *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Active reports whether the document still participates in retrieval.
func (d *Document) Active() bool {
	return d.Status != DocumentDeleted
}

// User is an API consumer. Each user owns one index scope.
type User struct {
	ID         string    `json:"id" db:"id"`
	Email      string    `json:"email" db:"email"`
	APIKeyHash string    `json:"-" db:"api_key_hash"`
	Active     bool      `json:"active" db:"active"`
	IsAdmin    bool      `json:"is_admin" db:"is_admin"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// TaskState is the lifecycle state of a background task.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

var taskTransitions = map[TaskState][]TaskState{
	TaskPending:    {TaskProcessing, TaskFailed},
	TaskProcessing: {TaskCompleted, TaskFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to TaskState) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskKind names what a task does.
type TaskKind string

const TaskIngest TaskKind = "ingest"

// Task tracks an asynchronous job.
type Task struct {
	ID          string     `json:"id" db:"id"`
	Scope       string     `json:"scope" db:"scope"`
	Kind        TaskKind   `json:"kind" db:"kind"`
	State       TaskState  `json:"status" db:"state"`
	Progress    int        `json:"progress" db:"progress"`
	Message     string     `json:"message,omitempty" db:"message"`
	Error       string     `json:"error,omitempty" db:"error"`
	FileNames   []string   `json:"file_names" db:"file_names"`
	DocumentIDs []string   `json:"document_ids,omitempty" db:"document_ids"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Transition moves the task to state. Terminal states are final.
func (t *Task) Transition(to TaskState, now time.Time) error {
	if !CanTransition(t.State, to) {
		return ragerr.Errorf(ragerr.CodeTaskTransitionInvalid, "task %s: cannot move from %s to %s", t.ID, t.State, to)
	}
	t.State = to
	t.UpdatedAt = now
	if to.Terminal() {
		t.CompletedAt = &now
	}
	if to == TaskCompleted {
		t.Progress = 100
	}
	return nil
}

// Advance sets progress, clamped to [0,100]. Progress never decreases.
func (t *Task) Advance(progress int, message string, now time.Time) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	if message != "" {
		t.Message = message
	}
	t.UpdatedAt = now
}
