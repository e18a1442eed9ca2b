package fingerprint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/WessleyAI/ami-rag/engine/domain"
)

// HashScanner reads the content_hash field of every document in a collection.
type HashScanner interface {
	ScanHashes(ctx context.Context, collection string) ([]domain.ContentHash, error)
}

// HashLookup checks which of the given hashes are already stored. Stores that
// derive document identity from the hash can answer this without a full scan.
type HashLookup interface {
	ExistingHashes(ctx context.Context, collection string, hashes []domain.ContentHash) ([]domain.ContentHash, error)
}

// Mode selects how existing hashes are discovered.
type Mode string

const (
	// ModeScan reads every stored hash of the collection.
	ModeScan Mode = "scan"
	// ModeLookup asks the store only about the candidate hashes.
	ModeLookup Mode = "lookup"
)

// Options configures an Index.
type Options struct {
	Mode Mode
	// Cache keeps committed hashes in memory per collection so repeated
	// ingestion does not rescan the store. Only safe when this process is
	// the sole writer of the collection.
	Cache bool
}

// Index tracks which content hashes already exist in a collection.
type Index struct {
	scanner HashScanner
	lookup  HashLookup
	opts    Options
	logger  *slog.Logger

	mu    sync.Mutex
	known map[string]Set
}

// New creates an Index. lookup may be nil; ModeLookup then falls back to scanning.
func New(scanner HashScanner, lookup HashLookup, opts Options, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = ModeScan
	}
	return &Index{
		scanner: scanner,
		lookup:  lookup,
		opts:    opts,
		logger:  logger,
		known:   make(map[string]Set),
	}
}

// LoadExistingHashes returns the hashes stored in collection. A read failure
// is not fatal: it is logged and treated as an empty collection. The returned
// set is always a private copy.
func (x *Index) LoadExistingHashes(ctx context.Context, collection string) Set {
	if x.opts.Cache {
		x.mu.Lock()
		cached, ok := x.known[collection]
		x.mu.Unlock()
		if ok {
			return cached.Clone()
		}
	}

	hashes, err := x.scanner.ScanHashes(ctx, collection)
	if err != nil {
		x.logger.Warn("fingerprint: could not retrieve existing hashes",
			"collection", collection,
			"error", fmt.Errorf("%w: %w", domain.ErrCollectionUnavailable, err),
		)
		return Set{}
	}
	set := NewSet(hashes...)
	x.logger.Info("fingerprint: existing hashes loaded", "collection", collection, "count", len(set))

	if x.opts.Cache {
		x.mu.Lock()
		x.known[collection] = set.Clone()
		x.mu.Unlock()
	}
	return set
}

// Existing returns the subset of stored hashes relevant to chunks. In scan
// mode this is every stored hash; in lookup mode only the chunks' own hashes
// are checked against the store.
func (x *Index) Existing(ctx context.Context, collection string, chunks []domain.Chunk) Set {
	if x.opts.Mode != ModeLookup || x.lookup == nil {
		return x.LoadExistingHashes(ctx, collection)
	}
	candidates := make([]domain.ContentHash, len(chunks))
	for i, c := range chunks {
		candidates[i] = ComputeHash(c.Text)
	}
	found, err := x.lookup.ExistingHashes(ctx, collection, candidates)
	if err != nil {
		x.logger.Warn("fingerprint: hash lookup failed",
			"collection", collection,
			"error", fmt.Errorf("%w: %w", domain.ErrCollectionUnavailable, err),
		)
		return Set{}
	}
	return NewSet(found...)
}

// Partition splits chunks into new and already-stored content. The running
// set is local to the call; nothing is remembered until Commit.
func (x *Index) Partition(ctx context.Context, collection string, chunks []domain.Chunk) Partition {
	return Split(chunks, x.Existing(ctx, collection, chunks))
}

// Commit records hashes that were successfully written. Hashes of a failed
// write are never committed, so a retry re-attempts them.
func (x *Index) Commit(collection string, hashes []domain.ContentHash) {
	if !x.opts.Cache {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	set, ok := x.known[collection]
	if !ok {
		// Never scanned: the next load must still read the store.
		return
	}
	for _, h := range hashes {
		set.Add(h)
	}
}

// Forget drops the cached hashes of a collection, e.g. after it was cleared.
func (x *Index) Forget(collection string) {
	x.mu.Lock()
	delete(x.known, collection)
	x.mu.Unlock()
}
