// Package retriever answers knowledge-base queries with ranked chunks, from
// the in-process index or from another fasal server.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/metrics"
	"github.com/fasalrakshak/fasalrakshak/internal/rag"
)

// DefaultK is used when neither the caller nor the retriever sets k.
const DefaultK = 4

// IndexSource yields the current index. *ingest.Handle implements it.
type IndexSource interface {
	Index() (rag.Index, error)
}

// Local retrieves from an in-process index. Embedder must be the one the
// index was built with; a mismatch makes the retriever unavailable rather
// than returning meaningless neighbours.
type Local struct {
	Source   IndexSource
	Embedder core.Embedder
	DefaultK int
}

var _ core.Retriever = (*Local)(nil)

// NewLocal returns a Local retriever.
func NewLocal(src IndexSource, e core.Embedder, defaultK int) *Local {
	return &Local{Source: src, Embedder: e, DefaultK: defaultK}
}

// Retrieve returns up to k chunks, most relevant first. k < 1 selects the
// default.
func (l *Local) Retrieve(ctx context.Context, query string, k int) ([]core.Chunk, error) {
	hits, err := l.Hits(ctx, query, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]core.Chunk, len(hits))
	for i, h := range hits {
		chunks[i] = h.Chunk
	}
	return chunks, nil
}

// Hits is Retrieve with scores kept.
func (l *Local) Hits(ctx context.Context, query string, k int) ([]core.Hit, error) {
	start := time.Now()
	hits, err := l.hits(ctx, query, k)
	metrics.RetrievalDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil && len(hits) == 0:
		metrics.Retrievals.WithLabelValues(metrics.OutcomeEmpty).Inc()
	case err == nil:
		metrics.Retrievals.WithLabelValues(metrics.OutcomeOK).Inc()
	case errors.Is(err, core.ErrRetrieverUnavailable):
		metrics.Retrievals.WithLabelValues(metrics.OutcomeUnavailable).Inc()
	default:
		metrics.Retrievals.WithLabelValues(metrics.OutcomeError).Inc()
	}
	return hits, err
}

func (l *Local) hits(ctx context.Context, query string, k int) ([]core.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", core.ErrEmptyInput)
	}
	if k < 1 {
		k = l.DefaultK
	}
	if k < 1 {
		k = DefaultK
	}

	idx, err := l.Source.Index()
	if err != nil {
		return nil, err
	}
	if idx.Len() == 0 {
		return nil, fmt.Errorf("%w: index is empty", core.ErrRetrieverUnavailable)
	}
	m := idx.Manifest()
	if m.EmbedderModel != l.Embedder.Model() || m.Dimension != l.Embedder.Dimension() {
		return nil, fmt.Errorf("%w: index was built with %s (%d), query embedder is %s (%d)",
			core.ErrRetrieverUnavailable, m.EmbedderModel, m.Dimension, l.Embedder.Model(), l.Embedder.Dimension())
	}

	vec, err := l.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return idx.Query(ctx, vec, k)
}
