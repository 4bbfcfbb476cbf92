package core

// Document is a unit of source text read during ingestion.
type Document struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"` // file path the text was read from
}

// Chunk is a contiguous window of a Document's text. Start is a rune offset.
type Chunk struct {
	DocID string `json:"doc_id"`
	Seq   int    `json:"seq"`
	Start int    `json:"start"`
	Text  string `json:"text"`
}

// Entry is a chunk paired with its embedding, the unit stored in an index.
type Entry struct {
	Chunk  Chunk     `json:"chunk"`
	Vector []float32 `json:"vector"`
}

// Hit is a chunk returned by a similarity query with its score.
// Higher scores are more similar regardless of metric.
type Hit struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// Texts returns the chunk texts in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
