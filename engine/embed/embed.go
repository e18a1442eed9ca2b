// Package embed wraps a remote embedding provider with the contract the
// pipelines rely on: non-empty ordered input, one vector per text, and a fixed
// dimensionality checked before any vector reaches the store.
package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/WessleyAI/ami-rag/pkg/resilience"
)

// Provider is a remote embedding backend (Cohere, Ollama, OpenAI).
type Provider interface {
	Embed(ctx context.Context, texts []string, mode domain.EmbedMode) ([][]float32, error)
}

// Client enforces the embedding contract on top of a Provider.
type Client struct {
	provider Provider
	dims     int
	breaker  *resilience.Breaker
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBreaker routes every provider call through b so a failing provider is
// rejected fast instead of being hammered by each request.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client producing vectors of dimension dims.
func NewClient(p Provider, dims int, opts ...Option) *Client {
	c := &Client{provider: p, dims: dims, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Dimension returns the configured vector size.
func (c *Client) Dimension() int { return c.dims }

// Embed returns one vector per text, in order. It fails with a
// DimensionMismatchError when the first vector does not have the configured
// size.
func (c *Client) Embed(ctx context.Context, texts []string, mode domain.EmbedMode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embed: %w: no texts", domain.ErrEmptyInput)
	}

	var vectors [][]float32
	call := func(ctx context.Context) error {
		var err error
		vectors, err = c.provider.Embed(ctx, texts, mode)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("embed: %d texts (%s): %w", len(texts), mode, err)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed: provider returned %d vectors for %d texts", len(vectors), len(texts))
	}
	if got := len(vectors[0]); got != c.dims {
		return nil, &domain.DimensionMismatchError{Want: c.dims, Got: got}
	}
	c.logger.Debug("embed: done", "texts", len(texts), "mode", mode, "dims", c.dims)
	return vectors, nil
}

// EmbedQuery embeds a single question in query mode.
func (c *Client) EmbedQuery(ctx context.Context, question string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{question}, domain.ModeQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
