// Package embed provides the embedders used at ingestion and query time.
package embed

import (
	"context"
	"fmt"
	"io"

	"github.com/fasalrakshak/fasalrakshak/internal/config"
	"github.com/fasalrakshak/fasalrakshak/internal/core"
)

// New builds the configured embedder wrapped in Resilient. The returned
// closer releases model or client resources and is never nil.
func New(ctx context.Context, cfg config.EmbedderConfig) (core.Embedder, io.Closer, error) {
	var (
		inner  core.Embedder
		closer io.Closer = nopCloser{}
	)

	switch cfg.Provider {
	case config.EmbedderHash:
		inner = NewHash(cfg.Dimension)
	case config.EmbedderFastEmbed:
		fe, err := NewFastEmbed(cfg.Model, cfg.CacheDir)
		if err != nil {
			return nil, nil, err
		}
		if fe.Dimension() != cfg.Dimension {
			_ = fe.Close()
			return nil, nil, fmt.Errorf("%w: model %s has dimension %d, embedder.dimension is %d",
				core.ErrInvalidConfig, cfg.Model, fe.Dimension(), cfg.Dimension)
		}
		inner, closer = fe, fe
	case config.EmbedderOpenAI:
		oa, err := NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimension)
		if err != nil {
			return nil, nil, err
		}
		inner = oa
	case config.EmbedderGemini:
		g, err := NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.Dimension)
		if err != nil {
			return nil, nil, err
		}
		inner, closer = g, g
	default:
		return nil, nil, fmt.Errorf("%w: unknown embedder provider %q", core.ErrInvalidConfig, cfg.Provider)
	}

	return NewResilient(inner, cfg.Timeout, cfg.MaxRetries), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
