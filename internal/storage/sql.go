package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStorage implements Storage over database/sql. The same schema and
// queries serve SQLite and PostgreSQL; placeholders are rebound per driver.
type SQLStorage struct {
	db     *sql.DB
	driver string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLStorage, error) {
	return NewSQLStorage(DriverSQLite, dbPath)
}

// NewSQLStorage opens a database with the given driver and DSN and initializes the schema.
func NewSQLStorage(driver, dsn string) (*SQLStorage, error) {
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, ragerr.Wrap(err, ragerr.CodeStoreDatabaseFailure, "failed to create database directory")
			}
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, ragerr.New(ragerr.CodeStoreBackendInvalid, "postgres requires storage.database_dsn")
		}
	default:
		return nil, ragerr.Errorf(ragerr.CodeStoreBackendInvalid, "unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeStoreDatabaseFailure, "failed to open database")
	}
	if driver == DriverSQLite {
		// One writer at a time; WAL lets readers proceed alongside it.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, ragerr.Wrap(err, ragerr.CodeStoreDatabaseFailure, "failed to enable WAL")
		}
	}

	s := &SQLStorage{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, ragerr.Wrap(err, ragerr.CodeStoreDatabaseFailure, "failed to initialize schema")
	}
	return s, nil
}

func (s *SQLStorage) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			filename TEXT NOT NULL,
			source_path TEXT NOT NULL DEFAULT '',
			size BIGINT NOT NULL DEFAULT 0,
			page_count INTEGER NOT NULL DEFAULT 0,
			text_records INTEGER NOT NULL DEFAULT 0,
			image_records INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_scope ON documents(scope, created_at)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			file_names TEXT NOT NULL DEFAULT '[]',
			document_ids TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_scope ON tasks(scope, created_at)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			api_key_hash TEXT NOT NULL UNIQUE,
			active BOOLEAN NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	// Databases created before users carried an admin flag.
	return s.addColumn("users", "is_admin", "BOOLEAN NOT NULL DEFAULT FALSE")
}

// addColumn adds a column to an existing table unless it is already there.
func (s *SQLStorage) addColumn(table, column, definition string) error {
	if s.driver == DriverPostgres {
		_, err := s.db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN IF NOT EXISTS ` + column + ` ` + definition)
		return err
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err := s.db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + definition)
	return err
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStorage) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, rebind(s.driver, query), args...)
}

func (s *SQLStorage) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, rebind(s.driver, query), args...)
}

func (s *SQLStorage) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, rebind(s.driver, query), args...)
}

func dbErr(err error, msg string) error {
	return ragerr.Wrap(err, ragerr.CodeStoreDatabaseFailure, msg)
}

const documentColumns = `id, scope, filename, source_path, size, page_count, text_records, image_records, status, created_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc     models.Document
		deleted sql.NullTime
	)
	if err := row.Scan(&doc.ID, &doc.Scope, &doc.Filename, &doc.SourcePath, &doc.Size, &doc.PageCount,
		&doc.TextRecords, &doc.ImageRecords, &doc.Status, &doc.CreatedAt, &deleted); err != nil {
		return nil, err
	}
	if deleted.Valid {
		t := deleted.Time
		doc.DeletedAt = &t
	}
	return &doc, nil
}

// CreateDocument inserts a document. CreatedAt is set when zero.
func (s *SQLStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentIndexed
	}
	_, err := s.exec(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Scope, doc.Filename, doc.SourcePath, doc.Size, doc.PageCount,
		doc.TextRecords, doc.ImageRecords, string(doc.Status), doc.CreatedAt, nullTime(doc.DeletedAt),
	)
	if err != nil {
		return dbErr(err, "insert document")
	}
	return nil
}

// GetDocument returns a document by scope and ID.
func (s *SQLStorage) GetDocument(ctx context.Context, scope, id string) (*models.Document, error) {
	doc, err := scanDocument(s.queryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE scope = ? AND id = ?`, scope, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ragerr.New(ragerr.CodeStoreDocumentNotFound, "document not found",
			ragerr.FieldScope(scope), ragerr.FieldDocumentID(id))
	}
	if err != nil {
		return nil, dbErr(err, "get document")
	}
	return doc, nil
}

// ListDocuments returns active documents in scope, newest first.
func (s *SQLStorage) ListDocuments(ctx context.Context, scope string, offset, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE scope = ? AND status <> ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		scope, string(models.DocumentDeleted), limit, offset,
	)
	if err != nil {
		return nil, dbErr(err, "list documents")
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, dbErr(err, "scan document")
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "list documents")
	}
	return docs, nil
}

// MarkDocumentDeleted flags a document as deleted. Deleting twice is not found.
func (s *SQLStorage) MarkDocumentDeleted(ctx context.Context, scope, id string, at time.Time) error {
	result, err := s.exec(ctx,
		`UPDATE documents SET status = ?, deleted_at = ? WHERE scope = ? AND id = ? AND status <> ?`,
		string(models.DocumentDeleted), at, scope, id, string(models.DocumentDeleted),
	)
	if err != nil {
		return dbErr(err, "delete document")
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ragerr.New(ragerr.CodeStoreDocumentNotFound, "document not found",
			ragerr.FieldScope(scope), ragerr.FieldDocumentID(id))
	}
	return nil
}

// MarkScopeDeleted flags every active document in scope as deleted and returns how many changed.
func (s *SQLStorage) MarkScopeDeleted(ctx context.Context, scope string, at time.Time) (int64, error) {
	result, err := s.exec(ctx,
		`UPDATE documents SET status = ?, deleted_at = ? WHERE scope = ? AND status <> ?`,
		string(models.DocumentDeleted), at, scope, string(models.DocumentDeleted),
	)
	if err != nil {
		return 0, dbErr(err, "clear scope")
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeletedDocumentIDs returns the ids of deleted documents in scope.
func (s *SQLStorage) DeletedDocumentIDs(ctx context.Context, scope string) (map[string]struct{}, error) {
	rows, err := s.query(ctx, `SELECT id FROM documents WHERE scope = ? AND status = ?`,
		scope, string(models.DocumentDeleted))
	if err != nil {
		return nil, dbErr(err, "list deleted documents")
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbErr(err, "scan document id")
		}
		out[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "list deleted documents")
	}
	return out, nil
}

const taskColumns = `id, scope, kind, state, progress, message, error, file_names, document_ids, created_at, updated_at, completed_at`

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task        models.Task
		files, docs string
		completed   sql.NullTime
	)
	if err := row.Scan(&task.ID, &task.Scope, &task.Kind, &task.State, &task.Progress, &task.Message,
		&task.Error, &files, &docs, &task.CreatedAt, &task.UpdatedAt, &completed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(files), &task.FileNames); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(docs), &task.DocumentIDs); err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		task.CompletedAt = &t
	}
	return &task, nil
}

func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	data, _ := json.Marshal(list)
	return string(data)
}

// CreateTask inserts a task.
func (s *SQLStorage) CreateTask(ctx context.Context, task *models.Task) error {
	_, err := s.exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Scope, string(task.Kind), string(task.State), task.Progress, task.Message, task.Error,
		encodeList(task.FileNames), encodeList(task.DocumentIDs), task.CreatedAt, task.UpdatedAt, nullTime(task.CompletedAt),
	)
	if err != nil {
		return dbErr(err, "insert task")
	}
	return nil
}

// UpdateTask writes the mutable task fields.
func (s *SQLStorage) UpdateTask(ctx context.Context, task *models.Task) error {
	result, err := s.exec(ctx,
		`UPDATE tasks SET state = ?, progress = ?, message = ?, error = ?, document_ids = ?, updated_at = ?, completed_at = ?
		 WHERE id = ?`,
		string(task.State), task.Progress, task.Message, task.Error, encodeList(task.DocumentIDs),
		task.UpdatedAt, nullTime(task.CompletedAt), task.ID,
	)
	if err != nil {
		return dbErr(err, "update task")
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ragerr.Errorf(ragerr.CodeStoreTaskNotFound, "task not found: %s", task.ID)
	}
	return nil
}

// GetTask returns a task by scope and ID.
func (s *SQLStorage) GetTask(ctx context.Context, scope, id string) (*models.Task, error) {
	task, err := scanTask(s.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE scope = ? AND id = ?`, scope, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ragerr.Errorf(ragerr.CodeStoreTaskNotFound, "task not found: %s", id)
	}
	if err != nil {
		return nil, dbErr(err, "get task")
	}
	return task, nil
}

// ListTasks returns the most recent tasks in scope.
func (s *SQLStorage) ListTasks(ctx context.Context, scope string, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE scope = ? ORDER BY created_at DESC, id LIMIT ?`, scope, limit)
	if err != nil {
		return nil, dbErr(err, "list tasks")
	}
	defer rows.Close()
	tasks := make([]*models.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, dbErr(err, "scan task")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "list tasks")
	}
	return tasks, nil
}

// CreateUser inserts a user. CreatedAt is set when zero.
func (s *SQLStorage) CreateUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO users (id, email, api_key_hash, active, is_admin, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.APIKeyHash, user.Active, user.IsAdmin, user.CreatedAt,
	)
	if err != nil {
		return dbErr(err, "insert user")
	}
	return nil
}

// GetUserByAPIKeyHash returns the user owning an API key hash.
func (s *SQLStorage) GetUserByAPIKeyHash(ctx context.Context, hash string) (*models.User, error) {
	var u models.User
	err := s.queryRow(ctx,
		`SELECT id, email, api_key_hash, active, is_admin, created_at FROM users WHERE api_key_hash = ?`, hash,
	).Scan(&u.ID, &u.Email, &u.APIKeyHash, &u.Active, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ragerr.New(ragerr.CodeStoreUserNotFound, "user not found")
	}
	if err != nil {
		return nil, dbErr(err, "get user")
	}
	return &u, nil
}

// CountUsers returns the number of active users.
func (s *SQLStorage) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM users WHERE active = ?`, true).Scan(&n); err != nil {
		return 0, dbErr(err, "count users")
	}
	return n, nil
}

// CountDocuments returns the number of active documents.
func (s *SQLStorage) CountDocuments(ctx context.Context, scope string) (int64, error) {
	var n int64
	var err error
	if scope == "" {
		err = s.queryRow(ctx, `SELECT COUNT(*) FROM documents WHERE status <> ?`,
			string(models.DocumentDeleted)).Scan(&n)
	} else {
		err = s.queryRow(ctx, `SELECT COUNT(*) FROM documents WHERE scope = ? AND status <> ?`,
			scope, string(models.DocumentDeleted)).Scan(&n)
	}
	if err != nil {
		return 0, dbErr(err, "count documents")
	}
	return n, nil
}

// CountTasks returns the number of tasks in state; an empty state counts all.
func (s *SQLStorage) CountTasks(ctx context.Context, scope string, state models.TaskState) (int64, error) {
	q := `SELECT COUNT(*) FROM tasks WHERE 1 = 1`
	var args []any
	if scope != "" {
		q += ` AND scope = ?`
		args = append(args, scope)
	}
	if state != "" {
		q += ` AND state = ?`
		args = append(args, string(state))
	}
	var n int64
	if err := s.queryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, dbErr(err, "count tasks")
	}
	return n, nil
}

// Ping checks that the database answers.
func (s *SQLStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return dbErr(err, "ping database")
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
