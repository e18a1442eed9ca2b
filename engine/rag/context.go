package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const enhancedHeader = "\n\n--- ENHANCED CONTEXT FROM LANGCHAIN RAG ---"

// Answer is a question enriched with retrieved context.
type Answer struct {
	OriginalQuestion string `json:"original_question"`
	EnhancedCommand  string `json:"enhanced_command"`
	ContextFound     bool   `json:"rag_context_found"`
}

// ParseURLs splits a comma separated list, dropping blanks.
func ParseURLs(s string) []string {
	var urls []string
	for _, u := range strings.Split(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// AskWithContext ingests each URL into collection, queries it with question
// and appends the best matches to the question. The first failing URL aborts
// the whole call.
func (s *Service) AskWithContext(ctx context.Context, question string, urls []string, collection string) (Answer, error) {
	if s.ingester == nil && len(urls) > 0 {
		return Answer{}, errors.New("rag: ask with context: no ingester configured")
	}

	var b strings.Builder
	for _, url := range urls {
		if _, err := s.ingester.Ingest(ctx, url, collection); err != nil {
			return Answer{}, fmt.Errorf("rag: ask with context: %w", err)
		}
		results, err := s.Query(ctx, question, collection, s.opts.AskTopK)
		if err != nil {
			return Answer{}, fmt.Errorf("rag: ask with context: %w", err)
		}
		if len(results) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n--- RAG CONTEXT FROM %s ---\n", url)
		for i, r := range results[:min(len(results), s.opts.ContextResults)] {
			fmt.Fprintf(&b, "[%d] (Similarity: %.3f)\n", i+1, r.Similarity)
			fmt.Fprintf(&b, "%s...\n\n", truncateRunes(r.Content, s.opts.SnippetRunes))
		}
	}

	answer := Answer{OriginalQuestion: question, EnhancedCommand: question}
	if b.Len() > 0 {
		answer.ContextFound = true
		answer.EnhancedCommand += enhancedHeader + b.String()
	}
	s.logger.Info("rag: ask with context", "urls", len(urls), "context_found", answer.ContextFound)
	return answer, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
