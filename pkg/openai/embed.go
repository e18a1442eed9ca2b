// Package openai adapts the OpenAI embeddings API to the embedding provider
// interface. OpenAI has no input modes, so documents and queries are encoded
// the same way.
package openai

import (
	"context"
	"fmt"

	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/WessleyAI/ami-rag/pkg/fn"
	goopenai "github.com/sashabaranov/go-openai"
)

// maxInputs is the per-request input limit of the embeddings endpoint.
const maxInputs = 2048

// embeddingsAPI is the subset of the go-openai client used here.
type embeddingsAPI interface {
	CreateEmbeddings(ctx context.Context, conv goopenai.EmbeddingRequestConverter) (goopenai.EmbeddingResponse, error)
}

// Client embeds texts with an OpenAI embedding model.
type Client struct {
	api   embeddingsAPI
	model goopenai.EmbeddingModel
	dims  int
}

// NewClient creates a Client. baseURL may point at any OpenAI-compatible
// server; dims > 0 requests shortened vectors from text-embedding-3 models.
func NewClient(apiKey, baseURL, model string, dims int) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(goopenai.SmallEmbedding3)
	}
	return &Client{api: goopenai.NewClientWithConfig(cfg), model: goopenai.EmbeddingModel(model), dims: dims}
}

// Embed returns one vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string, _ domain.EmbedMode) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range fn.Chunk(texts, maxInputs) {
		resp, err := c.api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
			Input:      batch,
			Model:      c.model,
			Dimensions: c.dims,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embed: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("openai embed: got %d embeddings for %d texts", len(resp.Data), len(batch))
		}
		vecs := make([][]float32, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(batch) {
				return nil, fmt.Errorf("openai embed: index %d out of range", d.Index)
			}
			vecs[d.Index] = d.Embedding
		}
		out = append(out, vecs...)
	}
	return out, nil
}
