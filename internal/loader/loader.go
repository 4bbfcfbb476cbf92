// Package loader reads source documents for ingestion from a directory.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/logger"
	"github.com/ledongthuc/pdf"
)

// Dir loads every supported file under Root, in lexical path order.
// PDFs yield one Document per page with text; .txt and .md files yield one
// Document each.
type Dir struct {
	Root string
}

// NewDir returns a loader for root.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

// Load implements core.DocumentLoader. Unreadable files are skipped with a
// warning; a missing or empty directory yields ErrNoDocumentsFound.
func (d *Dir) Load(ctx context.Context) ([]core.Document, error) {
	fi, err := os.Stat(d.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: directory %s does not exist", core.ErrNoDocumentsFound, d.Root)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", d.Root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", core.ErrNoDocumentsFound, d.Root)
	}

	var docs []core.Document
	err = filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		var loaded []core.Document
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pdf":
			loaded, err = loadPDF(path, rel)
		case ".txt", ".md":
			loaded, err = loadText(path, rel)
		default:
			logger.RAGDebug("Skipping unsupported file %s", rel)
			return nil
		}
		if err != nil {
			logger.RAGWarn("Skipping %s: %v", rel, err)
			return nil
		}
		docs = append(docs, loaded...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", d.Root, err)
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no readable .pdf, .txt or .md files in %s", core.ErrNoDocumentsFound, d.Root)
	}
	logger.RAGInfo("Loaded %d documents from %s", len(docs), d.Root)
	return docs, nil
}

func loadText(path, rel string) ([]core.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	return []core.Document{{ID: rel, Text: text, Source: rel}}, nil
}

func loadPDF(path, rel string) (docs []core.Document, err error) {
	// The PDF parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	rdr, err := pdf.NewReader(f, fi.Size())
	if err != nil {
		return nil, err
	}

	for i := 1; i <= rdr.NumPage(); i++ {
		page := rdr.Page(i)
		if page.V.IsNull() {
			continue
		}
		txt, err := page.GetPlainText(nil)
		if err != nil {
			logger.RAGDebug("No text on page %d of %s: %v", i, rel, err)
			continue
		}
		txt = strings.TrimSpace(txt)
		if txt == "" {
			continue
		}
		docs = append(docs, core.Document{
			ID:     rel + "#page=" + strconv.Itoa(i),
			Text:   txt,
			Source: rel,
		})
	}
	return docs, nil
}
