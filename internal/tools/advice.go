package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/logger"
	"github.com/fasalrakshak/fasalrakshak/internal/rag"
)

// NoAdviceFound is returned when the knowledge base has nothing relevant or
// is unavailable.
const NoAdviceFound = "I could not find any specific advice for your query in my documents."

// Advice answers farming questions from the knowledge base. The chunk texts
// are returned in rank order, joined by rag.ChunkSeparator.
type Advice struct {
	Retriever core.Retriever
	K         int
}

// NewAdvice returns an Advice tool fetching k chunks per question.
func NewAdvice(r core.Retriever, k int) *Advice {
	return &Advice{Retriever: r, K: k}
}

func (a *Advice) Run(ctx context.Context, query string) string {
	if strings.TrimSpace(query) == "" {
		return "Error: please provide a question to search the knowledge base."
	}

	chunks, err := a.Retriever.Retrieve(ctx, query, a.K)
	if errors.Is(err, core.ErrRetrieverUnavailable) {
		logger.ToolWarn("Knowledge base unavailable for %q: %v", query, err)
		return NoAdviceFound
	}
	if err != nil {
		logger.ToolError("Knowledge base search failed for %q: %v", query, err)
		return "Error: could not search the knowledge base: " + err.Error()
	}
	if len(chunks) == 0 {
		return NoAdviceFound
	}

	logger.ToolDebug("Knowledge base returned %d chunks for %q", len(chunks), query)
	return rag.FormatChunks(chunks)
}
