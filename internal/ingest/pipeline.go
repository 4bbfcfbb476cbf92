// Package ingest turns a directory of documents into a persisted vector
// index and holds the process-wide handle to it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fasalrakshak/fasalrakshak/internal/chunker"
	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/metrics"
	"github.com/fasalrakshak/fasalrakshak/internal/rag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pipeline builds or reuses the index at Store.
type Pipeline struct {
	Loader   core.DocumentLoader
	Embedder core.Embedder
	Store    rag.Store
	Chunking chunker.Config
	Logger   *zap.Logger
}

// Report summarises one ingestion run.
type Report struct {
	// Loaded is true when an existing index was reused and nothing was built.
	Loaded    bool          `json:"loaded"`
	Location  string        `json:"location"`
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Embedded  int           `json:"embedded"`
	Skipped   int           `json:"skipped"`
	Entries   int           `json:"entries"`
	Duration  time.Duration `json:"duration"`
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Ingest returns the persisted index if a valid one exists, and builds it
// from the documents otherwise. An index that fails validation is removed
// before the rebuild, unless another process replaced it with a valid one.
func (p *Pipeline) Ingest(ctx context.Context) (rag.Index, Report, error) {
	start := time.Now()
	report := Report{Location: p.Store.Location()}

	exists, err := p.Store.Exists(ctx)
	if err != nil {
		metrics.IngestRuns.WithLabelValues(metrics.RunFailed).Inc()
		return nil, report, err
	}

	if exists {
		idx, err := p.Store.Load(ctx)
		switch {
		case err == nil:
			report.Loaded = true
			report.Entries = idx.Len()
			report.Duration = time.Since(start)
			metrics.IngestRuns.WithLabelValues(metrics.RunLoaded).Inc()
			p.logger().Info("reusing existing index",
				zap.String("location", report.Location),
				zap.Int("entries", report.Entries),
			)
			return idx, report, nil
		case errors.Is(err, core.ErrCorruptIndex):
			p.logger().Warn("existing index is unusable, rebuilding",
				zap.String("location", report.Location),
				zap.Error(err),
			)
			idx, err := p.Store.DiscardInvalid(ctx)
			if err != nil {
				metrics.IngestRuns.WithLabelValues(metrics.RunFailed).Inc()
				return nil, report, fmt.Errorf("%w: removing unusable index: %w", core.ErrIngestionFailed, err)
			}
			if idx != nil {
				report.Loaded = true
				report.Entries = idx.Len()
				report.Duration = time.Since(start)
				metrics.IngestRuns.WithLabelValues(metrics.RunLoaded).Inc()
				p.logger().Info("another build replaced the unusable index, reusing it",
					zap.String("location", report.Location),
					zap.Int("entries", report.Entries),
				)
				return idx, report, nil
			}
		default:
			metrics.IngestRuns.WithLabelValues(metrics.RunFailed).Inc()
			return nil, report, fmt.Errorf("loading index at %s: %w", report.Location, err)
		}
	}

	return p.build(ctx, start, report)
}

// Rebuild builds a new index from the documents and replaces the persisted
// one, whether or not it was valid. Until the new index is published the
// previous one stays in place.
func (p *Pipeline) Rebuild(ctx context.Context) (rag.Index, Report, error) {
	return p.build(ctx, time.Now(), Report{Location: p.Store.Location()})
}

func (p *Pipeline) build(ctx context.Context, start time.Time, report Report) (rag.Index, Report, error) {
	idx, err := p.buildIndex(ctx, &report)
	report.Duration = time.Since(start)
	if err != nil {
		metrics.IngestRuns.WithLabelValues(metrics.RunFailed).Inc()
		return nil, report, err
	}
	metrics.IngestRuns.WithLabelValues(metrics.RunBuilt).Inc()
	report.Entries = idx.Len()

	p.logger().Info("built index",
		zap.String("location", report.Location),
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Int("skipped", report.Skipped),
		zap.Duration("took", report.Duration),
	)
	return idx, report, nil
}

func (p *Pipeline) buildIndex(ctx context.Context, report *Report) (rag.Index, error) {
	docs, err := p.Loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, core.ErrNoDocumentsFound
	}
	report.Documents = len(docs)

	chunks, err := chunker.SplitAll(docs, p.Chunking)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: documents contain no text", core.ErrNoDocumentsFound)
	}
	report.Chunks = len(chunks)

	entries := make([]core.Entry, 0, len(chunks))
	var errs error
	for _, c := range chunks {
		vec, err := p.Embedder.Embed(ctx, c.Text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = multierr.Append(errs, fmt.Errorf("chunk %d of %s: %w", c.Seq, c.DocID, err))
			metrics.IngestChunks.WithLabelValues(metrics.ChunkSkipped).Inc()
			continue
		}
		entries = append(entries, core.Entry{Chunk: c, Vector: vec})
		metrics.IngestChunks.WithLabelValues(metrics.ChunkEmbedded).Inc()
	}
	report.Embedded = len(entries)
	report.Skipped = len(chunks) - len(entries)

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: all %d chunks failed to embed: %w", core.ErrIngestionFailed, len(chunks), errs)
	}
	if errs != nil {
		p.logger().Warn("some chunks were not embedded and are left out of the index",
			zap.Int("skipped", report.Skipped),
			zap.Errors("errors", multierr.Errors(errs)),
		)
	}

	idx, err := p.Store.Build(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIngestionFailed, err)
	}
	return idx, nil
}
