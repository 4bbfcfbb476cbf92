package embed

import (
	"context"
	"fmt"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini embeds text with a Google embedding model.
type Gemini struct {
	client *genai.Client
	model  *genai.EmbeddingModel
	name   string
	dim    int
}

// NewGemini creates a Gemini embedder. Close releases the client.
func NewGemini(ctx context.Context, apiKey, model string, dim int) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: embedder.api_key (GOOGLE_API_KEY) is required for gemini embeddings", core.ErrMissingCredential)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	em := client.EmbeddingModel(model)
	em.TaskType = genai.TaskTypeRetrievalDocument
	return &Gemini{client: client, model: em, name: model, dim: dim}, nil
}

func (g *Gemini) Dimension() int { return g.dim }
func (g *Gemini) Model() string  { return g.name }

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	if resp == nil || resp.Embedding == nil {
		return nil, fmt.Errorf("gemini embeddings: empty response for model %s", g.name)
	}
	return resp.Embedding.Values, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}
