// Package watcher turns directories into PDF inboxes: new or changed PDFs are
// submitted for background ingestion.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/pagerag/internal/models"
	"github.com/hyperjump/pagerag/internal/tasks"
	"github.com/hyperjump/pagerag/pkg/utils"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Submitter queues files for ingestion.
type Submitter interface {
	SubmitIngest(ctx context.Context, scope string, files []tasks.File) (*models.Task, error)
}

// Inbox watches directories and submits each settled PDF write as an ingest task.
type Inbox struct {
	dirs      []string
	scope     string
	recursive bool
	debounce  time.Duration
	submitter Submitter
	fsw       *fsnotify.Watcher
	mu        sync.Mutex
	pending   map[string]*time.Timer
	ctx       context.Context
	done      chan struct{}
	stopOnce  sync.Once
	logger    *zap.Logger
}

// InboxOption configures an Inbox.
type InboxOption func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) InboxOption {
	return func(in *Inbox) { in.logger = l }
}

// WithRecursive also watches subdirectories, including ones created later.
func WithRecursive(recursive bool) InboxOption {
	return func(in *Inbox) { in.recursive = recursive }
}

// WithDebounce sets how long a file must be quiet before it is submitted.
func WithDebounce(d time.Duration) InboxOption {
	return func(in *Inbox) {
		if d > 0 {
			in.debounce = d
		}
	}
}

// NewInbox creates an inbox over dirs whose files are ingested into scope.
func NewInbox(dirs []string, scope string, submitter Submitter, opts ...InboxOption) *Inbox {
	in := &Inbox{
		dirs:      dirs,
		scope:     scope,
		recursive: true,
		debounce:  defaultDebounce,
		submitter: submitter,
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = utils.OrNop(in.logger)
	return in
}

// IsPDF reports whether path names a PDF file.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// Start creates missing directories, submits the PDFs already present and
// watches for new ones until ctx is cancelled or Stop is called.
func (in *Inbox) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.fsw = fsw
	in.ctx = ctx
	in.mu.Unlock()

	for i, dir := range in.dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			_ = fsw.Close()
			return err
		}
		in.dirs[i] = abs
		if err := os.MkdirAll(abs, 0755); err != nil {
			_ = fsw.Close()
			return err
		}
		if err := in.watchTree(abs); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	in.logger.Info("inbox watching",
		zap.Strings("dirs", in.dirs),
		zap.String("scope", in.scope),
		zap.Bool("recursive", in.recursive),
	)
	for _, dir := range in.dirs {
		in.syncDirectory(dir)
	}
	go in.run(ctx)
	return nil
}

// Directories returns the watched root directories.
func (in *Inbox) Directories() []string {
	return append([]string(nil), in.dirs...)
}

func (in *Inbox) watchTree(root string) error {
	if !in.recursive {
		return in.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return in.fsw.Add(path)
		}
		return nil
	})
}

func (in *Inbox) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-in.fsw.Events:
			if !ok {
				return
			}
			in.handleEvent(ev)
		case err, ok := <-in.fsw.Errors:
			if !ok {
				return
			}
			in.logger.Warn("inbox watch error", zap.Error(err))
		}
	}
}

func (in *Inbox) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) && in.recursive {
				if err := in.watchTree(path); err != nil {
					in.logger.Warn("inbox cannot watch directory", zap.String("path", path), zap.Error(err))
				}
				in.syncDirectory(path)
			}
			return
		}
		if IsPDF(path) {
			in.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		in.cancel(path)
	}
}

// schedule submits path once it has been quiet for the debounce window.
func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Stop()
	}
	in.pending[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.pending, path)
		in.mu.Unlock()
		in.submit(path)
	})
}

func (in *Inbox) cancel(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Stop()
		delete(in.pending, path)
	}
}

func (in *Inbox) submit(path string) {
	in.mu.Lock()
	ctx := in.ctx
	in.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	task, err := in.submitter.SubmitIngest(ctx, in.scope, []tasks.File{{Name: filepath.Base(path), Path: path}})
	if err != nil {
		in.logger.Warn("inbox submit failed", zap.String("path", path), zap.Error(err))
		return
	}
	in.logger.Debug("inbox submitted", zap.String("path", path), zap.String("task_id", task.ID))
}

func (in *Inbox) syncDirectory(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && !in.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if IsPDF(path) {
			in.submit(path)
		}
		return nil
	})
}

// Stop stops watching and drops pending submissions.
func (in *Inbox) Stop() {
	in.stopOnce.Do(func() {
		in.mu.Lock()
		for path, t := range in.pending {
			t.Stop()
			delete(in.pending, path)
		}
		fsw := in.fsw
		in.mu.Unlock()
		close(in.done)
		if fsw != nil {
			_ = fsw.Close()
		}
	})
}
