// Package cohere is a minimal client for Cohere's /v1/embed endpoint.
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/WessleyAI/ami-rag/pkg/fn"
)

const (
	DefaultBaseURL = "https://api.cohere.com"
	DefaultModel   = "embed-english-v3.0"
	// DefaultDimension is the vector size of DefaultModel.
	DefaultDimension = 1024
	// maxTexts is the per-request text limit of the embed endpoint.
	maxTexts = 96
)

// Client embeds texts with a Cohere model.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewClient creates a Cohere client.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate"`
}

type embedResponse struct {
	ID         string      `json:"id"`
	Embeddings [][]float32 `json:"embeddings"`
}

type apiError struct {
	Message string `json:"message"`
}

// Embed sends texts in batches of at most 96 and concatenates the vectors in order.
func (c *Client) Embed(ctx context.Context, texts []string, mode domain.EmbedMode) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range fn.Chunk(texts, maxTexts) {
		vecs, err := c.embedBatch(ctx, batch, mode)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string, mode domain.EmbedMode) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Texts:     texts,
		Model:     c.model,
		InputType: string(mode),
		Truncate:  "END",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("cohere embed: status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("cohere embed: status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("cohere embed decode: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("cohere embed: got %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}
	return result.Embeddings, nil
}
