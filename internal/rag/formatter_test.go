package rag

import (
	"encoding/json"
	"testing"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatChunks(t *testing.T) {
	assert.Equal(t, "", FormatChunks(nil))
	assert.Equal(t, "only", FormatChunks([]core.Chunk{{Text: "only"}}))
	assert.Equal(t,
		"Pest control: neem oil repels aphids.\n\n---\n\nDrought-resistant crops",
		FormatChunks([]core.Chunk{
			{Text: "Pest control: neem oil repels aphids."},
			{Text: "Drought-resistant crops"},
		}))
}

func TestFormatHitsAsJSON(t *testing.T) {
	out := FormatHitsAsJSON([]core.Hit{
		{Chunk: core.Chunk{DocID: "pests.txt", Seq: 2, Text: "neem"}, Score: 0.5},
	})

	var decoded struct {
		Hits []struct {
			Text   string  `json:"text"`
			Score  float32 `json:"score"`
			Source string  `json:"source"`
			Seq    int     `json:"seq"`
		} `json:"hits"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Hits, 1)
	assert.Equal(t, "neem", decoded.Hits[0].Text)
	assert.Equal(t, "pests.txt", decoded.Hits[0].Source)
	assert.Equal(t, 2, decoded.Hits[0].Seq)

	assert.JSONEq(t, `{"hits": []}`, FormatHitsAsJSON(nil))
}
