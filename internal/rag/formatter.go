package rag

import (
	"encoding/json"
	"strings"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/logger"
)

// ChunkSeparator sits between chunk texts in formatted advice.
const ChunkSeparator = "\n\n---\n\n"

// FormatChunks joins chunk texts in rank order. It returns "" for no chunks.
func FormatChunks(chunks []core.Chunk) string {
	return strings.Join(core.Texts(chunks), ChunkSeparator)
}

// FormatHitsAsJSON renders hits for API consumers.
func FormatHitsAsJSON(hits []core.Hit) string {
	type hitResult struct {
		Text   string  `json:"text"`
		Score  float32 `json:"score"`
		Source string  `json:"source"`
		Seq    int     `json:"seq"`
	}

	out := make([]hitResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, hitResult{
			Text:   h.Chunk.Text,
			Score:  h.Score,
			Source: h.Chunk.DocID,
			Seq:    h.Chunk.Seq,
		})
	}

	data, err := json.Marshal(map[string]any{"hits": out})
	if err != nil {
		logger.RAGError("Failed to marshal hits to JSON: %v", err)
		return `{"error": "Failed to format results as JSON"}`
	}
	return string(data)
}
