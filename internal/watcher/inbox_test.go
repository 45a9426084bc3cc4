package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/pagerag/internal/models"
	"github.com/hyperjump/pagerag/internal/tasks"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	scope string
}

func (r *recorder) SubmitIngest(_ context.Context, scope string, files []tasks.File) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scope = scope
	for _, f := range files {
		r.paths = append(r.paths, f.Path)
	}
	return &models.Task{ID: "t1", Scope: scope, State: models.TaskPending}, nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func contains(paths []string, want string) bool {
	for _, p := range paths {
		if filepath.Clean(p) == filepath.Clean(want) {
			return true
		}
	}
	return false
}

func TestIsPDF(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/a/report.pdf", true},
		{"/a/REPORT.PDF", true},
		{"/a/notes.txt", false},
		{"/a/pdf", false},
	}
	for _, tt := range tests {
		if got := IsPDF(tt.path); got != tt.want {
			t.Errorf("IsPDF(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestInbox_SubmitsExistingPDFs(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.pdf"), []byte("%PDF-1.4"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	in := NewInbox([]string{dir}, "alice", rec, WithDebounce(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	got := rec.snapshot()
	if len(got) != 1 || !contains(got, filepath.Join(dir, "old.pdf")) {
		t.Errorf("submitted %v", got)
	}
	if rec.scope != "alice" {
		t.Errorf("scope = %q", rec.scope)
	}
}

func TestInbox_DebouncesNewFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	in := NewInbox([]string{dir}, "alice", rec, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	path := filepath.Join(dir, "new.pdf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		_, _ = f.WriteString("%PDF-1.4\n")
	}
	_ = f.Close()
	_ = os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("x"), 0644)

	waitFor(t, func() bool { return contains(rec.snapshot(), path) })
	time.Sleep(150 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 {
		t.Errorf("expected one debounced submission, got %v", got)
	}
}

func TestInbox_WatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	in := NewInbox([]string{dir}, "alice", rec, WithDebounce(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	sub := filepath.Join(dir, "batch")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(sub, "inner.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return contains(rec.snapshot(), path) })
}

func TestInbox_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox", "nested")
	in := NewInbox([]string{dir}, "alice", &recorder{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("inbox directory not created: %v", err)
	}
	if got := in.Directories(); len(got) != 1 || got[0] != dir {
		t.Errorf("Directories() = %v", got)
	}
}
