package ingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/WessleyAI/ami-rag/engine/embed"
	"github.com/WessleyAI/ami-rag/engine/fingerprint"
	"github.com/WessleyAI/ami-rag/pkg/metrics"
)

// --- Mocks ---

type mockLoader struct {
	pages map[string][]string
	errs  map[string]error
	err   error
}

func (m *mockLoader) FetchAndSplit(_ context.Context, url string) ([]domain.Chunk, error) {
	if m.err != nil {
		return nil, m.err
	}
	if err := m.errs[url]; err != nil {
		return nil, err
	}
	var chunks []domain.Chunk
	for i, text := range m.pages[url] {
		chunks = append(chunks, domain.Chunk{
			Text:      text,
			SourceURL: url,
			Metadata:  map[string]any{"chunk_index": i},
		})
	}
	return chunks, nil
}

type mockEmbedder struct {
	dims  int
	err   error
	calls int
	texts [][]string
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string, mode domain.EmbedMode) ([][]float32, error) {
	m.calls++
	m.texts = append(m.texts, texts)
	if m.err != nil {
		return nil, m.err
	}
	if mode != domain.ModeDocument {
		return nil, errors.New("wrong mode")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, m.dims)
		out[i][0] = float32(i)
	}
	return out, nil
}

// memStore is an in-memory collection keyed by content hash.
type memStore struct {
	mu        sync.Mutex
	docs      map[string][]domain.StoredDocument
	upsertErr error
	upserts   int
	scans     int
}

func newMemStore() *memStore { return &memStore{docs: map[string][]domain.StoredDocument{}} }

func (m *memStore) UpsertDocuments(_ context.Context, collection string, docs []domain.StoredDocument) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	m.docs[collection] = append(m.docs[collection], docs...)
	return len(docs), nil
}

func (m *memStore) ScanHashes(_ context.Context, collection string) ([]domain.ContentHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	var out []domain.ContentHash
	for _, d := range m.docs[collection] {
		out = append(out, d.ContentHash)
	}
	return out, nil
}

type mockRecorder struct {
	pages map[string][]domain.ContentHash
	err   error
}

func (m *mockRecorder) RecordPage(_ context.Context, _, url string, hashes []domain.ContentHash) error {
	if m.err != nil {
		return m.err
	}
	if m.pages == nil {
		m.pages = map[string][]domain.ContentHash{}
	}
	m.pages[url] = hashes
	return nil
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, errors.New("lock unavailable")
}

type fixture struct {
	loader   *mockLoader
	embedder *mockEmbedder
	store    *memStore
	recorder *mockRecorder
	pipeline *Pipeline
}

func newFixture(pages map[string][]string, opts fingerprint.Options) *fixture {
	f := &fixture{
		loader:   &mockLoader{pages: pages},
		embedder: &mockEmbedder{dims: 4},
		store:    newMemStore(),
		recorder: &mockRecorder{},
	}
	f.pipeline = New(Deps{
		Loader:   f.loader,
		Index:    fingerprint.New(f.store, nil, opts, nil),
		Embedder: f.embedder,
		Writer:   f.store,
		Recorder: f.recorder,
		Metrics:  metrics.New(),
	})
	return f
}

// --- Tests ---

func TestIngest_StoresNewChunks(t *testing.T) {
	f := newFixture(map[string][]string{"https://a": {"alpha one", "beta two", "gamma three"}}, fingerprint.Options{})
	res, err := f.pipeline.Ingest(context.Background(), "https://a", "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stored != 3 || res.Skipped != 0 {
		t.Fatalf("stored=%d skipped=%d", res.Stored, res.Skipped)
	}
	if len(f.store.docs["docs"]) != 3 {
		t.Fatalf("store holds %d docs", len(f.store.docs["docs"]))
	}
	d := f.store.docs["docs"][1]
	if d.Text != "beta two" || d.ContentHash != fingerprint.ComputeHash("beta two") || d.SourceURL != "https://a" {
		t.Errorf("unexpected document: %+v", d)
	}
	if d.Metadata["chunk_index"] != 1 || len(d.Embedding) != 4 {
		t.Errorf("metadata=%v dims=%d", d.Metadata, len(d.Embedding))
	}
}

func TestIngest_Idempotent(t *testing.T) {
	f := newFixture(map[string][]string{"https://a": {"alpha one", "beta two"}}, fingerprint.Options{})
	first, err := f.pipeline.Ingest(context.Background(), "https://a", "docs")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.pipeline.Ingest(context.Background(), "https://a", "docs")
	if err != nil {
		t.Fatal(err)
	}
	if second.Stored != 0 || second.Skipped != 2 {
		t.Fatalf("second run stored=%d skipped=%d", second.Stored, second.Skipped)
	}
	if len(f.store.docs["docs"]) != 2 {
		t.Fatalf("store holds %d docs, want 2", len(f.store.docs["docs"]))
	}
	if len(first.Chunks) != len(second.Chunks) {
		t.Fatal("both runs should return every chunk")
	}
	for i := range first.Chunks {
		if first.Chunks[i] != second.Chunks[i] {
			t.Fatalf("chunk %d differs", i)
		}
	}
}

func TestIngest_EmptyNewSetMakesNoRemoteWrites(t *testing.T) {
	f := newFixture(map[string][]string{"https://a": {"alpha one"}}, fingerprint.Options{})
	if _, err := f.pipeline.Ingest(context.Background(), "https://a", "docs"); err != nil {
		t.Fatal(err)
	}
	embeds, upserts := f.embedder.calls, f.store.upserts

	res, err := f.pipeline.Ingest(context.Background(), "https://a", "docs")
	if err != nil {
		t.Fatal(err)
	}
	if f.embedder.calls != embeds || f.store.upserts != upserts {
		t.Fatalf("expected no embed/upsert calls, got %d/%d more", f.embedder.calls-embeds, f.store.upserts-upserts)
	}
	if len(res.Chunks) != 1 || res.Chunks[0] != "alpha one" {
		t.Fatalf("chunks = %v", res.Chunks)
	}
}

func TestIngest_DedupWithinBatchAndAcrossPages(t *testing.T) {
	f := newFixture(map[string][]string{
		"https://a": {"shared   text", "only a", "shared text"},
		"https://b": {"only b", "shared text"},
	}, fingerprint.Options{})

	resA, err := f.pipeline.Ingest(context.Background(), "https://a", "docs")
	if err != nil {
		t.Fatal(err)
	}
	if resA.Stored != 2 || resA.Skipped != 1 {
		t.Fatalf("a: stored=%d skipped=%d", resA.Stored, resA.Skipped)
	}
	if len(resA.Chunks) != 3 || resA.Chunks[0] != "shared text" {
		t.Fatalf("a: chunks = %q", resA.Chunks)
	}
	if got := f.embedder.texts[0]; len(got) != 2 || got[0] != "shared text" || got[1] != "only a" {
		t.Fatalf("embedded texts = %q", got)
	}

	resB, err := f.pipeline.Ingest(context.Background(), "https://b", "docs")
	if err != nil {
		t.Fatal(err)
	}
	if resB.Stored != 1 || resB.Skipped != 1 {
		t.Fatalf("b: stored=%d skipped=%d", resB.Stored, resB.Skipped)
	}

	seen := map[domain.ContentHash]bool{}
	for _, d := range f.store.docs["docs"] {
		if seen[d.ContentHash] {
			t.Fatalf("duplicate hash %s stored", d.ContentHash)
		}
		seen[d.ContentHash] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct docs, got %d", len(seen))
	}
}

func TestIngest_CollectionsAreIndependent(t *testing.T) {
	f := newFixture(map[string][]string{"https://a": {"alpha one"}}, fingerprint.Options{})
	for _, c := range []string{"one", "two"} {
		res, err := f.pipeline.Ingest(context.Background(), "https://a", c)
		if err != nil {
			t.Fatal(err)
		}
		if res.Stored != 1 {
			t.Fatalf("collection %s stored %d", c, res.Stored)
		}
	}
}

func TestIngest_FetchError(t *testing.T) {
	f := newFixture(nil, fingerprint.Options{})
	f.loader.err = errors.New("connection refused")

	_, err := f.pipeline.Ingest(context.Background(), "https://down", "docs")
	if !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	var ie *Error
	if !errors.As(err, &ie) || ie.State != StateFetching || ie.URL != "https://down" {
		t.Fatalf("unexpected ingest error: %#v", err)
	}
	var fe *domain.FetchError
	if !errors.As(err, &fe) || fe.URL != "https://down" {
		t.Fatal("expected FetchError with url")
	}
	if f.embedder.calls != 0 || f.store.upserts != 0 {
		t.Fatal("nothing should be embedded or written")
	}
}

type wrongDimProvider struct{}

func (wrongDimProvider) Embed(_ context.Context, texts []string, _ domain.EmbedMode) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, 3)
	}
	return out, nil
}

func TestIngest_DimensionGuardBeforeUpsert(t *testing.T) {
	store := newMemStore()
	p := New(Deps{
		Loader:   &mockLoader{pages: map[string][]string{"https://a": {"alpha one"}}},
		Index:    fingerprint.New(store, nil, fingerprint.Options{}, nil),
		Embedder: embed.NewClient(wrongDimProvider{}, 4),
		Writer:   store,
	})
	_, err := p.Ingest(context.Background(), "https://a", "docs")
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	var ie *Error
	if !errors.As(err, &ie) || ie.State != StateEmbedding {
		t.Fatalf("expected failure in embedding, got %v", err)
	}
	if store.upserts != 0 {
		t.Fatal("nothing may be written after a dimension mismatch")
	}
}

func TestIngest_UpsertFailureDiscardsHashes(t *testing.T) {
	f := newFixture(map[string][]string{"https://a": {"alpha one", "beta two"}}, fingerprint.Options{Cache: true})
	f.store.upsertErr = errors.New("qdrant down")

	_, err := f.pipeline.Ingest(context.Background(), "https://a", "docs")
	var ue *domain.UpsertError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpsertError, got %v", err)
	}
	if ue.Attempted != 2 || ue.Collection != "docs" {
		t.Fatalf("unexpected upsert error: %+v", ue)
	}
	var ie *Error
	if !errors.As(err, &ie) || ie.State != StateUpserting {
		t.Fatalf("expected failure in upserting, got %v", err)
	}
	if f.store.upserts != 1 {
		t.Fatalf("upsert must not be retried, got %d calls", f.store.upserts)
	}

	f.store.upsertErr = nil
	res, err := f.pipeline.Ingest(context.Background(), "https://a", "docs")
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored != 2 {
		t.Fatalf("retry should store both chunks, stored %d", res.Stored)
	}
}

func TestIngest_CacheAvoidsRescan(t *testing.T) {
	f := newFixture(map[string][]string{"https://a": {"alpha one"}, "https://b": {"beta two", "alpha one"}}, fingerprint.Options{Cache: true})
	if _, err := f.pipeline.Ingest(context.Background(), "https://a", "docs"); err != nil {
		t.Fatal(err)
	}
	res, err := f.pipeline.Ingest(context.Background(), "https://b", "docs")
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored != 1 || res.Skipped != 1 {
		t.Fatalf("stored=%d skipped=%d", res.Stored, res.Skipped)
	}
	if f.store.scans != 1 {
		t.Fatalf("expected a single scan, got %d", f.store.scans)
	}
}

func TestIngest_RecordsProvenance(t *testing.T) {
	f := newFixture(map[string][]string{"https://a": {"alpha one", "beta two"}}, fingerprint.Options{})
	if _, err := f.pipeline.Ingest(context.Background(), "https://a", "docs"); err != nil {
		t.Fatal(err)
	}
	hs := f.recorder.pages["https://a"]
	if len(hs) != 2 || hs[0] != fingerprint.ComputeHash("alpha one") {
		t.Fatalf("recorded hashes = %v", hs)
	}

	f.recorder.err = errors.New("neo4j down")
	if _, err := f.pipeline.Ingest(context.Background(), "https://a", "docs"); err != nil {
		t.Fatalf("provenance failure must not fail ingestion: %v", err)
	}
}

func TestIngest_NormalizesChunks(t *testing.T) {
	f := newFixture(map[string][]string{"https://a": {"  alpha\n\tone ", "   ", "beta"}}, fingerprint.Options{})
	res, err := f.pipeline.Ingest(context.Background(), "https://a", "docs")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chunks) != 2 || res.Chunks[0] != "alpha one" || res.Chunks[1] != "beta" {
		t.Fatalf("chunks = %q", res.Chunks)
	}
}

func TestIngest_LockError(t *testing.T) {
	f := newFixture(map[string][]string{"https://a": {"alpha one"}}, fingerprint.Options{})
	f.pipeline.deps.Locker = failingLocker{}
	_, err := f.pipeline.Ingest(context.Background(), "https://a", "docs")
	var ie *Error
	if !errors.As(err, &ie) || ie.State != StateFingerprinting {
		t.Fatalf("expected fingerprinting failure, got %v", err)
	}
	if f.store.upserts != 0 {
		t.Fatal("nothing should be written without the lock")
	}
}

func TestIngest_ConcurrentSameURL(t *testing.T) {
	f := newFixture(map[string][]string{"https://a": {"alpha one", "beta two", "gamma three"}}, fingerprint.Options{})
	// mockLoader and mockEmbedder are not goroutine safe; give each run its own.
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := New(Deps{
				Loader:   &mockLoader{pages: f.loader.pages},
				Index:    fingerprint.New(f.store, nil, fingerprint.Options{}, nil),
				Embedder: &mockEmbedder{dims: 4},
				Writer:   f.store,
				Locker:   f.pipeline.deps.Locker,
			})
			if _, err := p.Ingest(context.Background(), "https://a", "docs"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if n := len(f.store.docs["docs"]); n != 3 {
		t.Fatalf("expected 3 documents after concurrent runs, got %d", n)
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{URL: "https://a", State: StateEmbedding, Err: errors.New("boom")}
	if err.Error() != "ingest https://a: embedding: boom" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestIngest_LogsShortHashesOfSkippedChunks(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(map[string][]string{"https://a": {"alpha one", "beta two"}}, fingerprint.Options{})
	f.pipeline = New(Deps{
		Loader:   f.loader,
		Index:    fingerprint.New(f.store, nil, fingerprint.Options{}, nil),
		Embedder: f.embedder,
		Writer:   f.store,
		Logger:   slog.New(slog.NewTextHandler(&buf, nil)),
	})

	for i := 0; i < 2; i++ {
		if _, err := f.pipeline.Ingest(context.Background(), "https://a", "docs"); err != nil {
			t.Fatal(err)
		}
	}

	short := fingerprint.ComputeHash("alpha one").Short()
	full := string(fingerprint.ComputeHash("alpha one"))
	out := buf.String()
	if !strings.Contains(out, "skipping known chunks") || !strings.Contains(out, short) {
		t.Fatalf("expected short hash %s in log:\n%s", short, out)
	}
	if strings.Contains(out, full) {
		t.Fatal("log should carry the abbreviated hash only")
	}
}
