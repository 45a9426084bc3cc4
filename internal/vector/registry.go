package vector

import (
	"os"
	"regexp"
	"sort"
	"sync"

	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/hyperjump/pagerag/pkg/utils"
	"go.uber.org/zap"
)

var scopePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// IndexName returns the artifact base name for a scope.
func IndexName(scope string) string {
	return "user_" + scope
}

// ValidateScope rejects scopes that cannot be used as a file name component.
func ValidateScope(scope string) error {
	if !scopePattern.MatchString(scope) {
		return ragerr.Errorf(ragerr.CodeVectorQueryInvalid, "invalid scope %q", scope)
	}
	return nil
}

// Registry owns one FlatIndex per scope. Indexes are loaded from dir the
// first time a scope is used and stay resident afterwards.
type Registry struct {
	dir     string
	indexes map[string]*FlatIndex
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewRegistry creates a registry rooted at dir, creating the directory if needed.
func NewRegistry(dir string, logger *zap.Logger) (*Registry, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, ragerr.Wrapf(err, ragerr.CodeVectorLoadFailure, "create index dir %s", dir)
		}
	}
	return &Registry{
		dir:     dir,
		indexes: make(map[string]*FlatIndex),
		logger:  utils.OrNop(logger),
	}, nil
}

// Dir returns the directory holding index artifacts.
func (r *Registry) Dir() string {
	return r.dir
}

// Index returns the index for scope, loading it on first use.
func (r *Registry) Index(scope string) (*FlatIndex, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.indexes[scope]; ok {
		return idx, nil
	}
	idx := NewFlatIndex(r.dir, IndexName(scope), WithLogger(r.logger))
	if err := idx.Load(); err != nil {
		return nil, err
	}
	r.indexes[scope] = idx
	r.logger.Debug("vector index opened", zap.String("scope", scope), zap.Int("size", idx.Size()))
	return idx, nil
}

// Reload re-reads a scope from disk, picking up writes made by another process.
func (r *Registry) Reload(scope string) error {
	idx, err := r.Index(scope)
	if err != nil {
		return err
	}
	return idx.Load()
}

// Scopes returns the scopes currently resident, sorted.
func (r *Registry) Scopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.indexes))
	for s := range r.indexes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// TotalSize sums the vector count over resident indexes.
func (r *Registry) TotalSize() int {
	r.mu.Lock()
	indexes := make([]*FlatIndex, 0, len(r.indexes))
	for _, idx := range r.indexes {
		indexes = append(indexes, idx)
	}
	r.mu.Unlock()
	total := 0
	for _, idx := range indexes {
		total += idx.Size()
	}
	return total
}

// Reachable reports whether the index directory can be listed.
func (r *Registry) Reachable() bool {
	if r.dir == "" {
		return true
	}
	_, err := os.ReadDir(r.dir)
	return err == nil
}

// Persist flushes every resident index. Used on shutdown.
func (r *Registry) Persist() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, idx := range r.indexes {
		if err := idx.Persist(); err != nil {
			errs = append(errs, err)
		}
	}
	return ragerr.Join(errs...)
}
