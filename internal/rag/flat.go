package rag

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
)

// Flat is an exhaustive in-memory index. It is safe for concurrent queries.
type Flat struct {
	entries  []core.Entry
	norms    []float32
	manifest Manifest
}

// NewFlat builds an in-memory index over entries, which must already match
// the manifest's dimension. The slice is retained, not copied.
func NewFlat(entries []core.Entry, m Manifest) *Flat {
	norms := make([]float32, len(entries))
	for i, e := range entries {
		norms[i] = l2norm(e.Vector)
	}
	m.Count = len(entries)
	return &Flat{entries: entries, norms: norms, manifest: m}
}

func (f *Flat) Len() int           { return len(f.entries) }
func (f *Flat) Dimension() int     { return f.manifest.Dimension }
func (f *Flat) Manifest() Manifest { return f.manifest }
func (f *Flat) Close() error       { return nil }

// Query scores every entry. Cosine scores are in [-1, 1]; L2 scores are the
// negated Euclidean distance so that higher is always better.
func (f *Flat) Query(ctx context.Context, vec []float32, k int) ([]core.Hit, error) {
	if len(vec) != f.manifest.Dimension {
		return nil, fmt.Errorf("%w: query has %d values, index dimension is %d",
			core.ErrDimensionMismatch, len(vec), f.manifest.Dimension)
	}
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qnorm := l2norm(vec)
	hits := make([]core.Hit, len(f.entries))
	for i, e := range f.entries {
		var score float32
		if f.manifest.Metric == MetricL2 {
			score = -l2distance(vec, e.Vector)
		} else {
			score = cosine(vec, e.Vector, qnorm, f.norms[i])
		}
		hits[i] = core.Hit{Chunk: e.Chunk, Score: score}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func cosine(a, b []float32, na, nb float32) float32 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (na * nb)
}

func l2norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

func l2distance(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
