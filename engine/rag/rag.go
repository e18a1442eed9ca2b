// Package rag answers questions from a collection: it embeds the question,
// runs a top-k similarity search and ranks the matches in store order.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/WessleyAI/ami-rag/engine/ingest"
	"github.com/WessleyAI/ami-rag/pkg/fn"
	"github.com/WessleyAI/ami-rag/pkg/metrics"
)

// UnknownSource labels matches stored without a source URL.
const UnknownSource = "Unknown"

// QueryEmbedder embeds a question in query mode.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, question string) ([]float32, error)
}

// Searcher runs a top-k nearest-neighbour search.
type Searcher interface {
	SimilaritySearch(ctx context.Context, collection string, vector []float32, k int) ([]domain.Hit, error)
}

// Ingester stores a page before it is queried.
type Ingester interface {
	Ingest(ctx context.Context, url, collection string) (ingest.Result, error)
}

// Options configures the query pipeline.
type Options struct {
	// TopK is used when a query asks for k <= 0.
	TopK int
	// AskTopK is the search depth per URL of AskWithContext.
	AskTopK int
	// ContextResults caps how many matches per URL enter the context.
	ContextResults int
	// SnippetRunes truncates each context match.
	SnippetRunes int
}

// DefaultOptions returns the defaults of the HTTP API.
func DefaultOptions() Options {
	return Options{TopK: 5, AskTopK: 5, ContextResults: 3, SnippetRunes: 500}
}

// Service is the query pipeline.
type Service struct {
	embedder QueryEmbedder
	searcher Searcher
	ingester Ingester
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
	search   fn.Stage[searchReq, []domain.Hit]
}

type searchReq struct {
	Question   string
	Collection string
	K          int
	Vector     []float32
}

// New creates a Service. ingester may be nil when AskWithContext is unused.
func New(embedder QueryEmbedder, searcher Searcher, ingester Ingester, opts Options, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.AskTopK <= 0 {
		opts.AskTopK = def.AskTopK
	}
	if opts.ContextResults <= 0 {
		opts.ContextResults = def.ContextResults
	}
	if opts.SnippetRunes <= 0 {
		opts.SnippetRunes = def.SnippetRunes
	}
	s := &Service{
		embedder: embedder,
		searcher: searcher,
		ingester: ingester,
		opts:     opts,
		metrics:  m,
		logger:   logger,
	}
	s.search = fn.Then(
		fn.TracedStage("rag.embed", s.embedQuestion),
		fn.TracedStage("rag.search", s.similar),
	)
	return s
}

func (s *Service) embedQuestion(ctx context.Context, req searchReq) fn.Result[searchReq] {
	start := time.Now()
	defer s.metrics.ObserveStage("query_embed", start)
	vec, err := s.embedder.EmbedQuery(ctx, req.Question)
	s.metrics.Embedded(string(domain.ModeQuery))
	if err != nil {
		return fn.Err[searchReq](err)
	}
	req.Vector = vec
	return fn.Ok(req)
}

func (s *Service) similar(ctx context.Context, req searchReq) fn.Result[[]domain.Hit] {
	start := time.Now()
	defer s.metrics.ObserveStage("query_search", start)
	return fn.FromPair(s.searcher.SimilaritySearch(ctx, req.Collection, req.Vector, req.K))
}

// Query returns up to k matches for question, ranked from 1 in the order the
// store returned them. Any remote failure yields a QueryError and no results.
func (s *Service) Query(ctx context.Context, question, collection string, k int) ([]domain.QueryResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, domain.NewQueryError(question, fmt.Errorf("%w: empty question", domain.ErrEmptyInput))
	}
	if k <= 0 {
		k = s.opts.TopK
	}
	hits, err := s.search(ctx, searchReq{Question: question, Collection: collection, K: k}).Unwrap()
	s.metrics.Queried(err == nil)
	if err != nil {
		s.logger.Error("rag: query failed", "collection", collection, "error", err)
		return nil, domain.NewQueryError(question, err)
	}
	results := Rank(hits)
	s.logger.Info("rag: query", "collection", collection, "k", k, "results", len(results))
	return results, nil
}

// Rank converts store hits to results without reordering them. A missing
// similarity becomes 0, a missing source becomes UnknownSource.
func Rank(hits []domain.Hit) []domain.QueryResult {
	results := make([]domain.QueryResult, len(hits))
	for i, h := range hits {
		sim := 0.0
		if h.Similarity != nil {
			sim = *h.Similarity
		}
		source := h.Document.SourceURL
		if source == "" {
			source = UnknownSource
		}
		meta := h.Document.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		results[i] = domain.QueryResult{
			Rank:       i + 1,
			Content:    h.Document.Text,
			Similarity: sim,
			SourceURL:  source,
			Metadata:   meta,
		}
	}
	return results
}
