// Package chunker splits document text into fixed-size overlapping windows.
package chunker

import (
	"fmt"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
)

// Config is the window size and overlap, both counted in runes.
type Config struct {
	Size    int
	Overlap int
}

// Validate requires 0 <= Overlap < Size.
func (c Config) Validate() error {
	if c.Size < 1 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", core.ErrInvalidConfig, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", core.ErrInvalidConfig, c.Size, c.Overlap)
	}
	return nil
}

// Split cuts text into windows of at most cfg.Size runes. Window i+1 starts
// cfg.Size-cfg.Overlap runes after window i, and splitting stops at the
// window that reaches the end of the text, so only the last chunk can be
// short and no chunk lies entirely inside its predecessor.
func Split(docID, text string, cfg Config) ([]core.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	stride := cfg.Size - cfg.Overlap
	var chunks []core.Chunk
	for start := 0; start < len(runes); start += stride {
		end := start + cfg.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, core.Chunk{
			DocID: docID,
			Seq:   len(chunks),
			Start: start,
			Text:  string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// SplitAll chunks every document in order.
func SplitAll(docs []core.Document, cfg Config) ([]core.Chunk, error) {
	var all []core.Chunk
	for _, doc := range docs {
		chunks, err := Split(doc.ID, doc.Text, cfg)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}

// Reassemble joins chunks of one document, dropping the overlapping prefix
// of every chunk after the first. It inverts Split.
func Reassemble(chunks []core.Chunk, overlap int) string {
	var out []rune
	for i, c := range chunks {
		r := []rune(c.Text)
		if i > 0 {
			r = r[overlap:]
		}
		out = append(out, r...)
	}
	return string(out)
}
