//go:build !cgo

package embed

import (
	"context"
	"errors"
)

// ErrFastEmbedUnavailable is returned when the binary was built without cgo.
var ErrFastEmbedUnavailable = errors.New("fastembed: not available (binary built without cgo, use the hash, openai or gemini embedder)")

// FastEmbed is a stub for non-cgo builds.
type FastEmbed struct{}

func NewFastEmbed(_, _ string) (*FastEmbed, error) {
	return nil, ErrFastEmbedUnavailable
}

func (f *FastEmbed) Dimension() int { return 0 }
func (f *FastEmbed) Model() string  { return "" }

func (f *FastEmbed) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedUnavailable
}

func (f *FastEmbed) Close() error { return nil }
