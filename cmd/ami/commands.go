package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/WessleyAI/ami-rag/engine/fingerprint"
	"github.com/WessleyAI/ami-rag/engine/ingest"
	"github.com/WessleyAI/ami-rag/engine/rag"
	"github.com/WessleyAI/ami-rag/engine/semantic"
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

type sourceFinder interface {
	Sources(ctx context.Context, collection string, hash domain.ContentHash) ([]string, error)
}

// services are the backends a command runs against.
type services struct {
	ingester ingester
	rag      asker
	clearer  clearer
	sources  sourceFinder // nil when provenance is off
	// remote hands ingestion to the NATS worker queue.
	remote     func() (ingester, error)
	collection string
	close      func()
}

type loaderFunc func(ctx context.Context, verbose bool) (*services, error)

type options struct {
	collection string
	verbose    bool
	json       bool
}

// newRootCmd builds the command tree. The returned func releases whatever
// the last run loaded and is safe to call when nothing was loaded.
func newRootCmd(load loaderFunc) (*cobra.Command, func()) {
	opts := &options{}
	var svc *services

	root := &cobra.Command{
		Use:          "ami",
		Short:        "Ingest and query the Ami RAG store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			s, err := load(cmd.Context(), opts.verbose)
			if err != nil {
				return err
			}
			if opts.collection == "" {
				opts.collection = s.collection
			}
			svc = s
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.collection, "collection", "c", "", "collection name (default from config)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline progress to stderr")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print results as JSON")

	current := func() *services { return svc }
	root.AddCommand(
		newIngestCmd(opts, current),
		newQueryCmd(opts, current),
		newAskCmd(opts, current),
		newClearCmd(opts, current),
		newSourcesCmd(opts, current),
	)
	cleanup := func() {
		if svc != nil && svc.close != nil {
			svc.close()
		}
		svc = nil
	}
	return root, cleanup
}

func newIngestCmd(opts *options, svc func() *services) *cobra.Command {
	var viaNATS bool
	cmd := &cobra.Command{
		Use:   "ingest [url...]",
		Short: "Fetch pages and store their new chunks",
		Long: `Fetches each URL, splits it into chunks and stores only the chunks
whose content is not already in the collection. With --nats the work is
handed to the ingest workers instead of running in this process.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ing := svc().ingester
			if viaNATS {
				if svc().remote == nil {
					return errNoNATS
				}
				r, err := svc().remote()
				if err != nil {
					return err
				}
				ing = r
			}
			var results []ingest.Result
			for _, url := range args {
				res, err := ing.Ingest(cmd.Context(), url, opts.collection)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", url, err)
				}
				results = append(results, res)
				if !opts.json {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks, %d stored, %d skipped\n", url, len(res.Chunks), res.Stored, res.Skipped)
				}
			}
			if opts.json {
				return printJSON(cmd, results)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&viaNATS, "nats", false, "send the pages to the ingest workers over NATS")
	return cmd
}

func newQueryCmd(opts *options, svc func() *services) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Search the collection for chunks similar to a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := svc().rag.Query(cmd.Context(), args[0], opts.collection, k)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "  [%d] (%.3f) %s\n", r.Rank, r.Similarity, r.SourceURL)
				fmt.Fprintf(cmd.OutOrStdout(), "      %s\n\n", snippet(r.Content, 200))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "limit", "k", 5, "maximum number of results")
	return cmd
}

func newAskCmd(opts *options, svc func() *services) *cobra.Command {
	var urls string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Enrich a question with context from the given pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answer, err := svc().rag.AskWithContext(cmd.Context(), args[0], rag.ParseURLs(urls), opts.collection)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd, answer)
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer.EnhancedCommand)
			return nil
		},
	}
	cmd.Flags().StringVarP(&urls, "urls", "u", "", "comma separated pages to ingest first")
	return cmd
}

func newClearCmd(opts *options, svc func() *services) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every document in the collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := svc().clearer.ClearCollection(cmd.Context(), opts.collection)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s (%s)\n", res.Collection, res.Method)
			return nil
		},
	}
}

func newSourcesCmd(opts *options, svc func() *services) *cobra.Command {
	var isHash bool
	cmd := &cobra.Command{
		Use:   "sources [chunk text | hash]",
		Short: "List the pages a chunk was seen on",
		Long: `Looks up every page that produced the given chunk. The argument is
chunk text, hashed the same way ingestion does, or a content hash with --hash.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := svc()
			if s.sources == nil {
				return errNoProvenance
			}
			hash := domain.ContentHash(strings.TrimSpace(args[0]))
			if !isHash {
				hash = fingerprint.ComputeHash(args[0])
			}
			urls, err := s.sources.Sources(cmd.Context(), opts.collection, hash)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd, urls)
			}
			for _, u := range urls {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&isHash, "hash", false, "treat the argument as a content hash")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func snippet(s string, n int) string {
	s = fingerprint.Normalize(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
