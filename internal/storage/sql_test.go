package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

func newTestStorage(t *testing.T) *SQLStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "db", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStorage_Documents(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := &models.Document{ID: "doc1", Scope: "alice", Filename: "a.pdf", Size: 10, PageCount: 2, TextRecords: 1, ImageRecords: 2}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if doc.CreatedAt.IsZero() || doc.Status != models.DocumentIndexed {
		t.Errorf("defaults not applied: %+v", doc)
	}
	if err := store.CreateDocument(ctx, &models.Document{ID: "doc2", Scope: "alice", Filename: "b.pdf"}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateDocument(ctx, &models.Document{ID: "doc3", Scope: "bob", Filename: "c.pdf"}); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetDocument(ctx, "alice", "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Filename != "a.pdf" || got.PageCount != 2 || got.ImageRecords != 2 || got.DeletedAt != nil {
		t.Errorf("got %+v", got)
	}
	if _, err := store.GetDocument(ctx, "bob", "doc1"); !ragerr.IsNotFound(err) {
		t.Errorf("cross-scope get: expected not found, got %v", err)
	}

	list, err := store.ListDocuments(ctx, "alice", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 docs, got %d", len(list))
	}

	if err := store.MarkDocumentDeleted(ctx, "alice", "doc1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkDocumentDeleted(ctx, "alice", "doc1", time.Now()); !ragerr.IsNotFound(err) {
		t.Errorf("second delete: expected not found, got %v", err)
	}
	deleted, err := store.DeletedDocumentIDs(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := deleted["doc1"]; !ok || len(deleted) != 1 {
		t.Errorf("deleted = %v", deleted)
	}
	got, _ = store.GetDocument(ctx, "alice", "doc1")
	if got.Active() || got.DeletedAt == nil {
		t.Errorf("doc1 should be deleted: %+v", got)
	}

	if n, _ := store.CountDocuments(ctx, ""); n != 2 {
		t.Errorf("CountDocuments(all) = %d, want 2", n)
	}
	n, err := store.MarkScopeDeleted(ctx, "alice", time.Now())
	if err != nil || n != 1 {
		t.Errorf("MarkScopeDeleted = %d, %v", n, err)
	}
	if n, _ := store.CountDocuments(ctx, "alice"); n != 0 {
		t.Errorf("CountDocuments(alice) = %d, want 0", n)
	}
	if n, _ := store.CountDocuments(ctx, "bob"); n != 1 {
		t.Errorf("CountDocuments(bob) = %d, want 1", n)
	}
}

func TestSQLStorage_Tasks(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := &models.Task{
		ID: "t1", Scope: "alice", Kind: models.TaskIngest, State: models.TaskPending,
		FileNames: []string{"a.pdf", "b.pdf"}, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	if err := task.Transition(models.TaskProcessing, now); err != nil {
		t.Fatal(err)
	}
	task.Advance(50, "1/2 files", now)
	task.DocumentIDs = []string{"d1"}
	if err := store.UpdateTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetTask(ctx, "alice", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.TaskProcessing || got.Progress != 50 || got.Message != "1/2 files" {
		t.Errorf("got %+v", got)
	}
	if len(got.FileNames) != 2 || len(got.DocumentIDs) != 1 || got.CompletedAt != nil {
		t.Errorf("lists/completed: %+v", got)
	}
	if _, err := store.GetTask(ctx, "bob", "t1"); !ragerr.IsNotFound(err) {
		t.Errorf("cross-scope get: expected not found, got %v", err)
	}
	if err := store.UpdateTask(ctx, &models.Task{ID: "missing"}); !ragerr.IsNotFound(err) {
		t.Errorf("update missing: expected not found, got %v", err)
	}

	tasks, err := store.ListTasks(ctx, "alice", 10)
	if err != nil || len(tasks) != 1 {
		t.Errorf("ListTasks = %d, %v", len(tasks), err)
	}
	if n, _ := store.CountTasks(ctx, "", models.TaskProcessing); n != 1 {
		t.Errorf("CountTasks(processing) = %d", n)
	}
	if n, _ := store.CountTasks(ctx, "alice", models.TaskCompleted); n != 0 {
		t.Errorf("CountTasks(completed) = %d", n)
	}
}

func TestSQLStorage_Users(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	u := &models.User{ID: "alice", Email: "alice@example.com", APIKeyHash: "abc", Active: true}
	if err := store.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetUserByAPIKeyHash(ctx, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "alice" || !got.Active {
		t.Errorf("got %+v", got)
	}
	if _, err := store.GetUserByAPIKeyHash(ctx, "nope"); !ragerr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := store.CreateUser(ctx, &models.User{ID: "other", Email: "alice@example.com", APIKeyHash: "def"}); err == nil {
		t.Error("duplicate email should fail")
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if got.IsAdmin {
		t.Error("users are not admins by default")
	}

	admin := &models.User{ID: "root", Email: "root@example.com", APIKeyHash: "rootkey", Active: true, IsAdmin: true}
	if err := store.CreateUser(ctx, admin); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetUserByAPIKeyHash(ctx, "rootkey")
	if err != nil || !got.IsAdmin {
		t.Errorf("admin flag not stored: %+v, %v", got, err)
	}
	if n, err := store.CountUsers(ctx); err != nil || n != 2 {
		t.Errorf("CountUsers = %d, %v", n, err)
	}
}

func TestSQLStorage_MigratesUsersWithoutAdminColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open(DriverSQLite, path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		api_key_hash TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`)
	if err == nil {
		_, err = db.Exec(`INSERT INTO users (id, email, api_key_hash, active, created_at) VALUES (?, ?, ?, ?, ?)`,
			"old", "old@example.com", "oldkey", true, time.Now().UTC())
	}
	_ = db.Close()
	if err != nil {
		t.Fatal(err)
	}

	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("open old database: %v", err)
	}
	defer store.Close()
	u, err := store.GetUserByAPIKeyHash(context.Background(), "oldkey")
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "old" || u.IsAdmin {
		t.Errorf("migrated user = %+v", u)
	}

	// Opening again must not try to add the column twice.
	again, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = again.Close()
}

func TestNewSQLStorage_InvalidBackend(t *testing.T) {
	if _, err := NewSQLStorage("mysql", "x"); !ragerr.IsInvalidInput(err) {
		t.Errorf("expected invalid input, got %v", err)
	}
	if _, err := NewSQLStorage(DriverPostgres, ""); !ragerr.IsInvalidInput(err) {
		t.Errorf("expected invalid input for empty DSN, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE b = ? AND c = ? LIMIT ?`
	if got := rebind(DriverSQLite, q); got != q {
		t.Errorf("sqlite rebind changed query: %s", got)
	}
	want := `SELECT a FROM t WHERE b = $1 AND c = $2 LIMIT $3`
	if got := rebind(DriverPostgres, q); got != want {
		t.Errorf("postgres rebind = %s, want %s", got, want)
	}
}
