// Package ingest runs a URL through fetch, chunk, dedup, embed and upsert.
// Chunks whose content hash is already stored in the collection are skipped,
// so re-ingesting a page writes nothing new.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/WessleyAI/ami-rag/engine/fingerprint"
	"github.com/WessleyAI/ami-rag/pkg/fn"
	"github.com/WessleyAI/ami-rag/pkg/lock"
	"github.com/WessleyAI/ami-rag/pkg/metrics"
)

// Deps holds the collaborators of the ingestion pipeline.
type Deps struct {
	Loader   Loader
	Index    *fingerprint.Index
	Embedder Embedder
	Writer   Writer
	// Locker serializes fingerprinting through upsert per collection.
	// Defaults to an in-process lock.
	Locker lock.Locker
	// Recorder is optional; its failures never fail a run.
	Recorder Recorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Pipeline ingests pages into collections.
type Pipeline struct {
	deps    Deps
	log     *slog.Logger
	prepare fn.Stage[run, run]
	store   fn.Stage[run, run]
}

// New wires the pipeline stages.
func New(deps Deps) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	p := &Pipeline{deps: deps, log: log}

	// Fetch → Chunk, outside the collection lock.
	p.prepare = fn.Then(
		p.step(StateFetching, p.fetch),
		p.step(StateChunking, chunk),
	)
	// Fingerprint → Embed → Upsert, under the collection lock.
	p.store = fn.Then(
		p.step(StateFingerprinting, p.fingerprint),
		fn.Then(
			p.step(StateEmbedding, p.embed),
			p.step(StateUpserting, p.upsert),
		),
	)
	return p
}

// step wraps a stage with logging, tracing and a duration metric, and tags
// its failure with state.
func (p *Pipeline) step(state State, stage fn.Stage[run, run]) fn.Stage[run, run] {
	traced := fn.TracedStage("ingest."+string(state), stage)
	return func(ctx context.Context, r run) fn.Result[run] {
		start := time.Now()
		p.log.Debug("stage.enter", "stage", state, "url", r.URL)
		res := traced(ctx, r)
		p.deps.Metrics.ObserveStage(string(state), start)
		p.log.Debug("stage.exit", "stage", state, "url", r.URL, "duration", time.Since(start))
		if err := res.Err(); err != nil {
			var ie *Error
			if errors.As(err, &ie) {
				return res
			}
			return fn.Err[run](&Error{URL: r.URL, State: state, Err: err})
		}
		return res
	}
}

// Ingest fetches url and stores its new chunks in collection. On success the
// result lists every chunk of the page, including the ones already stored.
func (p *Pipeline) Ingest(ctx context.Context, url, collection string) (Result, error) {
	start := time.Now()
	r := run{URL: url, Collection: collection}

	prepared := p.prepare(ctx, r)
	if err := prepared.Err(); err != nil {
		return p.fail(url, collection, err)
	}
	r, _ = prepared.Unwrap()

	unlock, err := p.deps.Locker.Lock(ctx, collection)
	if err != nil {
		return p.fail(url, collection, &Error{URL: url, State: StateFingerprinting, Err: err})
	}
	stored := p.store(ctx, r)
	unlock()
	if err := stored.Err(); err != nil {
		return p.fail(url, collection, err)
	}
	r, _ = stored.Unwrap()

	if len(r.Partition.Hashes) > 0 {
		p.deps.Index.Commit(collection, r.Partition.Hashes)
	}
	p.record(ctx, r)

	p.deps.Metrics.IngestDone(string(StateDone))
	p.deps.Metrics.Stored(collection, r.Stored)
	p.deps.Metrics.Skipped(collection, r.Partition.Skipped)
	p.log.Info("ingest: done",
		"url", url,
		"collection", collection,
		"chunks", len(r.Chunks),
		"stored", r.Stored,
		"skipped", r.Partition.Skipped,
		"duration", time.Since(start),
	)
	return r.result(), nil
}

func (p *Pipeline) fail(url, collection string, err error) (Result, error) {
	state := StateFailed
	var ie *Error
	if errors.As(err, &ie) {
		state = ie.State
	}
	p.deps.Metrics.IngestDone(string(StateFailed))
	p.log.Error("ingest: failed", "url", url, "collection", collection, "stage", state, "error", err)
	return Result{}, err
}

func (p *Pipeline) fetch(ctx context.Context, r run) fn.Result[run] {
	chunks, err := p.deps.Loader.FetchAndSplit(ctx, r.URL)
	if err != nil {
		return fn.Err[run](domain.NewFetchError(r.URL, err))
	}
	r.Chunks = chunks
	return fn.Ok(r)
}

// chunk enforces the chunk invariants for any Loader: normalized text, no
// empty chunks, a source on every chunk.
func chunk(_ context.Context, r run) fn.Result[run] {
	out := r.Chunks[:0:0]
	for _, c := range r.Chunks {
		c.Text = fingerprint.Normalize(c.Text)
		if c.Text == "" {
			continue
		}
		if c.SourceURL == "" {
			c.SourceURL = r.URL
		}
		out = append(out, c)
	}
	r.Chunks = out
	return fn.Ok(r)
}

func (p *Pipeline) fingerprint(ctx context.Context, r run) fn.Result[run] {
	r.Partition = p.deps.Index.Partition(ctx, r.Collection, r.Chunks)
	if r.Partition.Skipped > 0 {
		p.log.Info("ingest: skipping known chunks",
			"url", r.URL,
			"collection", r.Collection,
			"skipped", r.Partition.Skipped,
			"new", len(r.Partition.New),
			"hashes", shortHashes(r.Partition.Known),
		)
	}
	return fn.Ok(r)
}

func (p *Pipeline) embed(ctx context.Context, r run) fn.Result[run] {
	if len(r.Partition.New) == 0 {
		return fn.Ok(r)
	}
	vectors, err := p.deps.Embedder.Embed(ctx, domain.Texts(r.Partition.New), domain.ModeDocument)
	p.deps.Metrics.Embedded(string(domain.ModeDocument))
	if err != nil {
		return fn.Err[run](err)
	}
	if len(vectors) != len(r.Partition.New) {
		return fn.Err[run](errors.New("embedder returned a different number of vectors"))
	}
	r.Vectors = vectors
	return fn.Ok(r)
}

func (p *Pipeline) upsert(ctx context.Context, r run) fn.Result[run] {
	if len(r.Partition.New) == 0 {
		return fn.Ok(r)
	}
	docs := make([]domain.StoredDocument, len(r.Partition.New))
	for i, c := range r.Partition.New {
		docs[i] = domain.NewStoredDocument(c, r.Partition.Hashes[i], r.Vectors[i])
	}
	n, err := p.deps.Writer.UpsertDocuments(ctx, r.Collection, docs)
	if err != nil {
		p.deps.Metrics.UpsertFailed(r.Collection)
		return fn.Err[run](domain.NewUpsertError(r.Collection, len(docs), err))
	}
	r.Stored = n
	return fn.Ok(r)
}

func (p *Pipeline) record(ctx context.Context, r run) {
	if p.deps.Recorder == nil || len(r.Chunks) == 0 {
		return
	}
	hashes := make([]domain.ContentHash, len(r.Chunks))
	for i, c := range r.Chunks {
		hashes[i] = fingerprint.ComputeHash(c.Text)
	}
	if err := p.deps.Recorder.RecordPage(ctx, r.Collection, r.URL, hashes); err != nil {
		p.log.Warn("ingest: provenance not recorded", "url", r.URL, "collection", r.Collection, "error", err)
	}
}

// shortHashes abbreviates at most 10 hashes for a log line.
func shortHashes(hs []domain.ContentHash) []string {
	out := make([]string, 0, min(len(hs), 10))
	for _, h := range hs[:min(len(hs), 10)] {
		out = append(out, h.Short())
	}
	return out
}
