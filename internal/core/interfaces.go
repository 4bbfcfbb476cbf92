package core

import "context"

// Embedder maps text to a fixed-dimension vector. Identical input must
// produce identical output for a given Model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
}

// Retriever returns the chunks most similar to query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Chunk, error)
}

// DocumentLoader enumerates the source documents of an ingestion run.
type DocumentLoader interface {
	Load(ctx context.Context) ([]Document, error)
}
