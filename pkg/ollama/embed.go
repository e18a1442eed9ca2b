// Package ollama provides an Ollama-backed embedding provider.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/WessleyAI/ami-rag/pkg/fn"
)

// DefaultModel is a 768-dimension model that expects task prefixes.
const DefaultModel = "nomic-embed-text"

// EmbedClient calls Ollama's /api/embeddings endpoint once per text.
type EmbedClient struct {
	baseURL string
	model   string
	workers int
	client  *http.Client
}

// NewEmbedClient creates an Ollama embedding client.
func NewEmbedClient(baseURL, model string, timeout time.Duration) *EmbedClient {
	if model == "" {
		model = DefaultModel
	}
	return &EmbedClient{
		baseURL: baseURL,
		model:   model,
		workers: 4,
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// prefix returns the nomic task prefix for mode.
func prefix(mode domain.EmbedMode) string {
	switch mode {
	case domain.ModeQuery:
		return "search_query: "
	default:
		return "search_document: "
	}
}

func (c *EmbedClient) embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: status %d", resp.StatusCode)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// Embed embeds texts concurrently, preserving order. The first failure aborts the batch.
func (c *EmbedClient) Embed(ctx context.Context, texts []string, mode domain.EmbedMode) ([][]float32, error) {
	p := prefix(mode)
	results := fn.ParMapResult(texts, c.workers, func(text string) fn.Result[[]float32] {
		return fn.FromPair(c.embed(ctx, p+text))
	})
	return fn.Collect(results).Unwrap()
}
