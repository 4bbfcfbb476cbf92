package core

import "errors"

var (
	ErrNoDocumentsFound     = errors.New("no documents found")
	ErrEmptyInput           = errors.New("empty input")
	ErrCorruptIndex         = errors.New("corrupt index")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrIngestionFailed      = errors.New("ingestion failed")
	ErrRetrieverUnavailable = errors.New("retriever unavailable")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrMissingCredential    = errors.New("missing credential")
	ErrEmbeddingTimeout     = errors.New("embedding timeout")
	ErrInvalidConfig        = errors.New("invalid configuration")
)
