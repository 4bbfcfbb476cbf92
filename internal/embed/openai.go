package embed

import (
	"context"
	"fmt"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI embeds text through an OpenAI-compatible embeddings endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAI creates an OpenAI embedder. baseURL may be empty for the
// default endpoint.
func NewOpenAI(apiKey, baseURL, model string, dim int) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: embedder.api_key (OPENAI_API_KEY) is required for openai embeddings", core.ErrMissingCredential)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dim:    dim,
	}, nil
}

func (o *OpenAI) Dimension() int { return o.dim }
func (o *OpenAI) Model() string  { return o.model }

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dim,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response for model %s", o.model)
	}

	vec := resp.Data[0].Embedding
	normalize(vec)
	return vec, nil
}
