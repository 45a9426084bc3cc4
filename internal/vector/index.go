// Package vector provides the exact nearest-neighbor index that backs retrieval.
package vector

import (
	"context"

	"github.com/hyperjump/pagerag/internal/models"
)

// Index is an append-only store of (vector, record) pairs addressed by slot.
type Index interface {
	Insert(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Record(slot int) (models.Record, bool)
	Size() int
	Dimension() int
	Clear() error
}

// Entry is one vector to insert with its metadata record.
type Entry struct {
	Vector []float32
	Record models.Record
}

// Hit is a single search result: the slot and its squared Euclidean distance.
type Hit struct {
	Slot     int
	Distance float64
}
