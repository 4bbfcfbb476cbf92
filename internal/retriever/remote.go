package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
)

// RetrievePath is the server route Remote calls.
const RetrievePath = "/api/retrieve"

// RetrieveRequest is the body of POST /api/retrieve.
type RetrieveRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// RetrieveResponse is its reply. Scores[i] belongs to Chunks[i].
type RetrieveResponse struct {
	Chunks []core.Chunk `json:"chunks"`
	Scores []float32    `json:"scores,omitempty"`
}

// Remote retrieves from another process serving RetrievePath.
type Remote struct {
	BaseURL string
	Client  *http.Client
}

var _ core.Retriever = (*Remote)(nil)

// NewRemote returns a Remote with a bounded HTTP client.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// Retrieve posts the query. An unreachable server or a 503 reply is
// ErrRetrieverUnavailable.
func (r *Remote) Retrieve(ctx context.Context, query string, k int) ([]core.Chunk, error) {
	hits, err := r.Hits(ctx, query, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]core.Chunk, len(hits))
	for i, h := range hits {
		chunks[i] = h.Chunk
	}
	return chunks, nil
}

// Hits is Retrieve with the server's scores kept. Scores are zero when the
// server does not send them.
func (r *Remote) Hits(ctx context.Context, query string, k int) ([]core.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", core.ErrEmptyInput)
	}

	body, err := json.Marshal(RetrieveRequest{Query: query, K: k})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+RetrievePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", core.ErrRetrieverUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", core.ErrRetrieverUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: %s", core.ErrRetrieverUnavailable, strings.TrimSpace(string(data)))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("retrieve returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var out RetrieveResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	hits := make([]core.Hit, len(out.Chunks))
	for i, c := range out.Chunks {
		hits[i].Chunk = c
		if i < len(out.Scores) {
			hits[i].Score = out.Scores[i]
		}
	}
	return hits, nil
}
