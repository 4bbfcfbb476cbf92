package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/rag"
)

type published struct {
	index  rag.Index
	report Report
}

// Handle owns the process-wide index. It is opened once at startup, read
// concurrently afterwards and replaced only by Rebuild.
type Handle struct {
	pipeline *Pipeline

	mu      sync.Mutex // serialises Open, Rebuild and Close
	current atomic.Pointer[published]
	closed  bool
}

// NewHandle returns an unopened handle over p.
func NewHandle(p *Pipeline) *Handle {
	return &Handle{pipeline: p}
}

// Open runs ingestion once. Later calls return the first run's report.
func (h *Handle) Open(ctx context.Context) (Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return Report{}, fmt.Errorf("%w: index handle is closed", core.ErrRetrieverUnavailable)
	}
	if cur := h.current.Load(); cur != nil {
		return cur.report, nil
	}

	idx, report, err := h.pipeline.Ingest(ctx)
	if err != nil {
		return report, err
	}
	h.current.Store(&published{index: idx, report: report})
	return report, nil
}

// Index returns the published index, or ErrRetrieverUnavailable before Open
// succeeds and after Close.
func (h *Handle) Index() (rag.Index, error) {
	cur := h.current.Load()
	if cur == nil {
		return nil, fmt.Errorf("%w: index is not open", core.ErrRetrieverUnavailable)
	}
	return cur.index, nil
}

// Report describes the run that produced the published index.
func (h *Handle) Report() (Report, bool) {
	cur := h.current.Load()
	if cur == nil {
		return Report{}, false
	}
	return cur.report, true
}

// Rebuild re-ingests the documents and swaps the new index in. Queries in
// flight finish against the index they started with. On failure the
// current index stays published.
func (h *Handle) Rebuild(ctx context.Context) (Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return Report{}, fmt.Errorf("%w: index handle is closed", core.ErrRetrieverUnavailable)
	}

	idx, report, err := h.pipeline.Rebuild(ctx)
	if err != nil {
		return report, err
	}
	old := h.current.Swap(&published{index: idx, report: report})
	if old != nil {
		_ = old.index.Close()
	}
	return report, nil
}

// Close unpublishes and closes the index.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	old := h.current.Swap(nil)
	if old == nil {
		return nil
	}
	return old.index.Close()
}
