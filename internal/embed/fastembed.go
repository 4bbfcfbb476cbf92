//go:build cgo

package embed

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

var fastembedModels = map[string]fastembed.EmbeddingModel{
	"all-MiniLM-L6-v2":                       fastembed.AllMiniLML6V2,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
}

var fastembedDims = map[fastembed.EmbeddingModel]int{
	fastembed.AllMiniLML6V2: 384,
	fastembed.BGESmallENV15: 384,
	fastembed.BGEBaseENV15:  768,
}

// FastEmbed runs a sentence-transformer model locally through ONNX.
type FastEmbed struct {
	mu    sync.Mutex
	model *fastembed.FlagEmbedding
	name  string
	dim   int
}

// NewFastEmbed loads (downloading on first use) the named model into cacheDir.
func NewFastEmbed(model, cacheDir string) (*FastEmbed, error) {
	fm, ok := fastembedModels[model]
	if !ok {
		return nil, fmt.Errorf("unsupported fastembed model %q", model)
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}

	showProgress := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                fm,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed %s: %w", model, err)
	}

	return &FastEmbed{model: flag, name: model, dim: fastembedDims[fm]}, nil
}

func (f *FastEmbed) Dimension() int { return f.dim }
func (f *FastEmbed) Model() string  { return f.name }

// Embed uses passage embedding for documents and queries alike.
func (f *FastEmbed) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out, err := f.model.PassageEmbed([]string{text}, 1)
	if err != nil {
		return nil, fmt.Errorf("fastembed: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("fastembed: no embedding returned")
	}
	return out[0], nil
}

func (f *FastEmbed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == nil {
		return nil
	}
	err := f.model.Destroy()
	f.model = nil
	return err
}
