// Package storage defines the persistence interface for the document registry,
// background tasks and API users.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/pagerag/internal/models"
)

// Storage defines registry persistence operations. Every document and task
// lookup is scoped; an id from another scope is reported as not found.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, scope, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, scope string, offset, limit int) ([]*models.Document, error)
	MarkDocumentDeleted(ctx context.Context, scope, id string, at time.Time) error
	MarkScopeDeleted(ctx context.Context, scope string, at time.Time) (int64, error)
	DeletedDocumentIDs(ctx context.Context, scope string) (map[string]struct{}, error)

	// Task operations
	CreateTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, scope, id string) (*models.Task, error)
	ListTasks(ctx context.Context, scope string, limit int) ([]*models.Task, error)

	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByAPIKeyHash(ctx context.Context, hash string) (*models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	// Stats; an empty scope counts every scope.
	CountDocuments(ctx context.Context, scope string) (int64, error)
	CountTasks(ctx context.Context, scope string, state models.TaskState) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
