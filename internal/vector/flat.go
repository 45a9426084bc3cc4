package vector

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/hyperjump/pagerag/pkg/utils"
	"go.uber.org/zap"
)

const (
	indexFileSuffix    = ".index"
	metadataFileSuffix = "_metadata.json"
)

// FlatIndex is an exact squared-L2 index held in memory and mirrored to two
// files: <name>.index (vectors) and <name>_metadata.json (records).
// Slot i of vectors always pairs with slot i of records; slots are never reused.
type FlatIndex struct {
	name      string
	dir       string
	dimension int
	vectors   [][]float32
	records   []models.Record
	mu        sync.RWMutex
	logger    *zap.Logger
}

// FlatIndexOption configures a FlatIndex.
type FlatIndexOption func(*FlatIndex)

// WithLogger sets a logger for persistence events.
func WithLogger(l *zap.Logger) FlatIndexOption {
	return func(x *FlatIndex) { x.logger = l }
}

// NewFlatIndex creates an empty index named name whose artifacts live in dir.
// An empty dir keeps the index in memory only.
func NewFlatIndex(dir, name string, opts ...FlatIndexOption) *FlatIndex {
	x := &FlatIndex{
		name:    name,
		dir:     dir,
		vectors: make([][]float32, 0),
		records: make([]models.Record, 0),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.logger = utils.OrNop(x.logger)
	return x
}

// Paths returns the vector file and metadata file paths.
func (x *FlatIndex) Paths() (vectorsPath, metadataPath string) {
	if x.dir == "" {
		return "", ""
	}
	return filepath.Join(x.dir, x.name+indexFileSuffix), filepath.Join(x.dir, x.name+metadataFileSuffix)
}

// Insert appends a batch atomically. Every vector must match the index
// dimension (fixed by the first vector ever inserted) and every record must
// validate; otherwise nothing is inserted. The batch is persisted before
// Insert returns, and a failed write rolls the append back.
func (x *FlatIndex) Insert(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	dim := x.dimension
	if dim == 0 {
		dim = len(entries[0].Vector)
		if dim == 0 {
			return ragerr.New(ragerr.CodeVectorRecordInvalid, "cannot insert an empty vector")
		}
	}
	for i, e := range entries {
		if len(e.Vector) != dim {
			return ragerr.New(ragerr.CodeVectorDimensionMismatch,
				"batch rejected: vector dimension does not match index",
				ragerr.Field("index", x.name),
				ragerr.Field("position", i),
				ragerr.Field("expected", dim),
				ragerr.Field("got", len(e.Vector)),
			)
		}
		if err := e.Record.Validate(); err != nil {
			return err
		}
	}

	prevDim, prevLen := x.dimension, len(x.vectors)
	x.dimension = dim
	for _, e := range entries {
		vec := make([]float32, dim)
		copy(vec, e.Vector)
		x.vectors = append(x.vectors, vec)
		x.records = append(x.records, e.Record)
	}
	if err := x.persistLocked(); err != nil {
		x.vectors = x.vectors[:prevLen]
		x.records = x.records[:prevLen]
		x.dimension = prevDim
		return err
	}
	x.logger.Debug("vector batch inserted",
		zap.String("index", x.name),
		zap.Int("batch", len(entries)),
		zap.Int("size", len(x.vectors)),
	)
	return nil
}

// Search returns up to k hits ordered by ascending distance, ties broken by
// ascending slot. k <= 0 is rejected before any work; an empty index yields
// no hits.
func (x *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, ragerr.Errorf(ragerr.CodeVectorQueryInvalid, "k must be positive, got %d", k)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.vectors) == 0 {
		return []Hit{}, nil
	}
	if len(query) != x.dimension {
		return nil, ragerr.New(ragerr.CodeVectorDimensionMismatch,
			"query dimension does not match index",
			ragerr.Field("index", x.name),
			ragerr.Field("expected", x.dimension),
			ragerr.Field("got", len(query)),
		)
	}
	hits := make([]Hit, len(x.vectors))
	for i, vec := range x.vectors {
		hits[i] = Hit{Slot: i, Distance: SquaredL2(query, vec)}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Slot < hits[j].Slot
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Record returns the metadata stored at slot.
func (x *FlatIndex) Record(slot int) (models.Record, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if slot < 0 || slot >= len(x.records) {
		return models.Record{}, false
	}
	return x.records[slot], true
}

// Size returns the number of stored vectors.
func (x *FlatIndex) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Dimension returns the fixed vector dimension, or 0 while the index is empty.
func (x *FlatIndex) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dimension
}

// Clear empties the index and removes its artifacts. The next insert may
// establish a new dimension.
func (x *FlatIndex) Clear() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.removeArtifactsLocked(); err != nil {
		return err
	}
	x.vectors = make([][]float32, 0)
	x.records = make([]models.Record, 0)
	x.dimension = 0
	x.logger.Info("vector index cleared", zap.String("index", x.name))
	return nil
}

// Persist writes the current contents to disk.
func (x *FlatIndex) Persist() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.persistLocked()
}

// Load replaces the in-memory contents with what is on disk. Missing
// artifacts leave an empty index.
func (x *FlatIndex) Load() error {
	vectorsPath, metadataPath := x.Paths()
	if vectorsPath == "" {
		return nil
	}
	dim, vectors, err := readVectors(vectorsPath)
	if err != nil {
		return err
	}
	records, err := readRecords(metadataPath)
	if err != nil {
		return err
	}
	if len(vectors) != len(records) {
		// Append-only: the shorter artifact is a valid prefix of the longer one.
		n := min(len(vectors), len(records))
		x.logger.Warn("vector index artifacts out of step, truncating to common prefix",
			zap.String("index", x.name),
			zap.Int("vectors", len(vectors)),
			zap.Int("records", len(records)),
			zap.Int("kept", n),
		)
		vectors, records = vectors[:n], records[:n]
	}
	if len(vectors) == 0 {
		dim = 0
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.dimension = dim
	x.vectors = vectors
	x.records = records
	x.logger.Debug("vector index loaded", zap.String("index", x.name), zap.Int("size", len(vectors)))
	return nil
}
