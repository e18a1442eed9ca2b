package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/WessleyAI/ami-rag/engine/command"
	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/WessleyAI/ami-rag/engine/ingest"
	"github.com/WessleyAI/ami-rag/engine/rag"
	"github.com/WessleyAI/ami-rag/engine/semantic"
	"github.com/WessleyAI/ami-rag/pkg/mid"
)

type ingester interface {
	Ingest(ctx context.Context, url, collection string) (ingest.Result, error)
}

type asker interface {
	Query(ctx context.Context, question, collection string, k int) ([]domain.QueryResult, error)
	AskWithContext(ctx context.Context, question string, urls []string, collection string) (rag.Answer, error)
}

type clearer interface {
	ClearCollection(ctx context.Context, collection string) (semantic.ClearResult, error)
}

type server struct {
	mailbox    *command.Mailbox
	ingester   ingester
	rag        asker
	clearer    clearer
	collection string
	token      string
	logger     *slog.Logger
}

func (s *server) routes(metrics http.Handler) *http.ServeMux {
	auth := mid.BearerAuth(s.token)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleHealth)
	mux.HandleFunc("POST /command", s.handleSetCommand)
	mux.Handle("GET /command", auth(http.HandlerFunc(s.handleGetCommand)))
	mux.Handle("POST /clear", auth(http.HandlerFunc(s.handleClearCommand)))
	mux.HandleFunc("GET /scrape-url", s.handleScrape)
	mux.HandleFunc("POST /scrape-url", s.handleScrape)
	mux.HandleFunc("POST /ask-with-context", s.handleAskWithContext)
	mux.Handle("POST /clear-collection", auth(http.HandlerFunc(s.handleClearCollection)))
	mux.HandleFunc("POST /query", s.handleQuery)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	mid.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Ami Robot Command API is running",
		"status":  "healthy",
	})
}

func (s *server) handleSetCommand(w http.ResponseWriter, r *http.Request) {
	action := r.PostFormValue("action")
	if action == "" {
		mid.WriteError(w, http.StatusUnprocessableEntity, "action required")
		return
	}
	s.mailbox.Set(action)
	s.logger.Info("command received", "action", action)
	mid.WriteJSON(w, http.StatusOK, map[string]string{"message": "command received", "action": action})
}

func (s *server) handleGetCommand(w http.ResponseWriter, _ *http.Request) {
	mid.WriteJSON(w, http.StatusOK, s.mailbox.Get())
}

func (s *server) handleClearCommand(w http.ResponseWriter, _ *http.Request) {
	s.mailbox.Clear()
	mid.WriteJSON(w, http.StatusOK, map[string]string{"message": "command cleared"})
}

// ScrapeResponse is the body of a successful /scrape-url call.
type ScrapeResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	URL     string `json:"url"`
	Stored  int    `json:"stored"`
	Skipped int    `json:"skipped"`
}

func (s *server) handleScrape(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.FormValue("url"))
	if url == "" {
		mid.WriteError(w, http.StatusBadRequest, "url required")
		return
	}
	res, err := s.ingester.Ingest(r.Context(), url, s.collection)
	if err != nil {
		s.logger.Error("scrape failed", "url", url, "err", err)
		mid.WriteError(w, http.StatusInternalServerError, "Error embedding URL: "+err.Error())
		return
	}
	mid.WriteJSON(w, http.StatusOK, ScrapeResponse{
		Success: true,
		Content: strings.Join(res.Chunks, "\n\n"),
		URL:     url,
		Stored:  res.Stored,
		Skipped: res.Skipped,
	})
}

// AskResponse is the body of a successful /ask-with-context call.
type AskResponse struct {
	Success bool `json:"success"`
	rag.Answer
	Message string `json:"message"`
}

func (s *server) handleAskWithContext(w http.ResponseWriter, r *http.Request) {
	question := r.PostFormValue("question")
	if question == "" {
		mid.WriteError(w, http.StatusUnprocessableEntity, "question required")
		return
	}
	urls := rag.ParseURLs(r.PostFormValue("urls"))

	answer, err := s.rag.AskWithContext(r.Context(), question, urls, s.collection)
	if err != nil {
		s.logger.Error("ask with context failed", "urls", len(urls), "err", err)
		mid.WriteError(w, http.StatusInternalServerError, "Error processing question with RAG: "+err.Error())
		return
	}
	s.mailbox.Set(answer.EnhancedCommand)
	mid.WriteJSON(w, http.StatusOK, AskResponse{
		Success: true,
		Answer:  answer,
		Message: "Question processed with RAG context",
	})
}

func (s *server) handleClearCollection(w http.ResponseWriter, r *http.Request) {
	res, err := s.clearer.ClearCollection(r.Context(), s.collection)
	if err != nil {
		s.logger.Error("clear collection failed", "collection", s.collection, "err", err)
		mid.WriteError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to delete collection '%s': %v", s.collection, err))
		return
	}
	msg := fmt.Sprintf("Collection '%s' deleted successfully", res.Collection)
	if res.Method == semantic.ClearDeleteMany {
		msg = fmt.Sprintf("Cleared all documents in collection '%s' via fallback", res.Collection)
	}
	mid.WriteJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         msg,
		"collection_name": res.Collection,
		"method":          res.Method,
	})
}

// QueryRequest is the JSON body for POST /query.
type QueryRequest struct {
	Question   string `json:"question"`
	K          int    `json:"k,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// QueryResponse is the JSON response for POST /query.
type QueryResponse struct {
	Success bool                 `json:"success"`
	Content []domain.QueryResult `json:"content"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		mid.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Collection == "" {
		req.Collection = s.collection
	}
	results, err := s.rag.Query(r.Context(), req.Question, req.Collection, req.K)
	if errors.Is(err, domain.ErrEmptyInput) {
		mid.WriteError(w, http.StatusBadRequest, "question is required")
		return
	}
	if err != nil {
		s.logger.Error("query failed", "collection", req.Collection, "err", err)
		mid.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"detail":   err.Error(),
			"question": req.Question,
		})
		return
	}
	if results == nil {
		results = []domain.QueryResult{}
	}
	mid.WriteJSON(w, http.StatusOK, QueryResponse{Success: true, Content: results})
}
