// Command ami is the operator CLI for the RAG store: it ingests pages,
// queries a collection, clears it and looks up where a chunk came from.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/WessleyAI/ami-rag/engine/app"
	"github.com/WessleyAI/ami-rag/engine/ingest"
	"github.com/WessleyAI/ami-rag/pkg/config"
	"github.com/nats-io/nats.go"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, cleanup := newRootCmd(loadServices)
	err := root.ExecuteContext(ctx)
	cleanup()
	if err != nil {
		os.Exit(1)
	}
}

// loadServices builds the real backends. Logs go to stderr so command
// output stays pipeable.
func loadServices(ctx context.Context, verbose bool) (*services, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	var nc *nats.Conn
	s := &services{
		ingester:   a.Ingest,
		rag:        a.RAG,
		clearer:    a,
		collection: cfg.Qdrant.Collection,
		remote: func() (ingester, error) {
			if nc == nil {
				c, err := nats.Connect(cfg.NATS.URL, nats.Name("ami-cli"))
				if err != nil {
					return nil, fmt.Errorf("connect nats %s: %w", cfg.NATS.URL, err)
				}
				nc = c
			}
			return ingest.NewClient(nc, cfg.NATS.Subject, cfg.NATS.Timeout), nil
		},
		close: func() {
			if nc != nil {
				nc.Close()
			}
			_ = a.Close(context.Background())
		},
	}
	if a.Provenance != nil {
		s.sources = a.Provenance
	}
	return s, nil
}

var (
	errNoProvenance = errors.New("provenance is not enabled; set NEO4J_URL")
	errNoNATS       = errors.New("nats is not configured")
)
