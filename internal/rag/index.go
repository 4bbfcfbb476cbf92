// Package rag holds the vector index: an in-memory exhaustive scan, its
// persistent stores (chromem-go on disk, Milvus remote) and result formatting.
package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
)

// SchemaVersion is bumped whenever the persisted layout changes. Indexes
// stamped with another version load as corrupt and are rebuilt.
const SchemaVersion = 1

type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
)

// Manifest is the version stamp persisted next to every index.
type Manifest struct {
	SchemaVersion int       `json:"schema_version"`
	Dimension     int       `json:"dimension"`
	Metric        Metric    `json:"metric"`
	EmbedderModel string    `json:"embedder_model"`
	Count         int       `json:"count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Spec is what a store expects of the index it loads or builds.
type Spec struct {
	Dimension     int
	Metric        Metric
	EmbedderModel string
}

// Check reports ErrCorruptIndex when m was not written for s.
func (s Spec) Check(m Manifest) error {
	switch {
	case m.SchemaVersion != SchemaVersion:
		return fmt.Errorf("%w: schema version %d, expected %d", core.ErrCorruptIndex, m.SchemaVersion, SchemaVersion)
	case m.Dimension != s.Dimension:
		return fmt.Errorf("%w: dimension %d, expected %d", core.ErrCorruptIndex, m.Dimension, s.Dimension)
	case m.Metric != s.Metric:
		return fmt.Errorf("%w: metric %q, expected %q", core.ErrCorruptIndex, m.Metric, s.Metric)
	case m.EmbedderModel != s.EmbedderModel:
		return fmt.Errorf("%w: embedder %q, expected %q", core.ErrCorruptIndex, m.EmbedderModel, s.EmbedderModel)
	case m.Count < 1:
		return fmt.Errorf("%w: manifest records no entries", core.ErrCorruptIndex)
	}
	return nil
}

func (s Spec) manifest(count int) Manifest {
	return Manifest{
		SchemaVersion: SchemaVersion,
		Dimension:     s.Dimension,
		Metric:        s.Metric,
		EmbedderModel: s.EmbedderModel,
		Count:         count,
		CreatedAt:     time.Now().UTC(),
	}
}

// checkEntries rejects empty input and vectors of the wrong dimension.
func (s Spec) checkEntries(entries []core.Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: cannot build an index with zero entries", core.ErrEmptyInput)
	}
	for i, e := range entries {
		if len(e.Vector) != s.Dimension {
			return fmt.Errorf("%w: entry %d (%s) has %d values, index dimension is %d",
				core.ErrDimensionMismatch, i, e.Chunk.DocID, len(e.Vector), s.Dimension)
		}
	}
	return nil
}

// Index answers nearest-neighbour queries over immutable entries.
type Index interface {
	// Query returns min(k, Len()) hits, most similar first. Equal scores keep
	// insertion order.
	Query(ctx context.Context, vec []float32, k int) ([]core.Hit, error)
	Len() int
	Dimension() int
	Manifest() Manifest
	Close() error
}

// Store persists indexes at one location.
type Store interface {
	Exists(ctx context.Context) (bool, error)
	// Load fails with ErrCorruptIndex if the persisted index does not match
	// the store's Spec.
	Load(ctx context.Context) (Index, error)
	// Build replaces whatever is persisted with a new index of entries.
	// Readers observe either the previous index or the complete new one.
	Build(ctx context.Context, entries []core.Entry) (Index, error)
	// DiscardInvalid removes the persisted index if it still fails Load. If
	// it is valid by now, for instance because another process published a
	// build, it is returned and nothing is removed.
	DiscardInvalid(ctx context.Context) (Index, error)
	Remove(ctx context.Context) error
	Location() string
}
