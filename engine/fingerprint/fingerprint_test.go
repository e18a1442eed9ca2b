package fingerprint

import (
	"context"
	"errors"
	"testing"

	"github.com/WessleyAI/ami-rag/engine/domain"
)

// --- Mocks ---

type mockScanner struct {
	hashes []domain.ContentHash
	err    error
	calls  int
}

func (m *mockScanner) ScanHashes(_ context.Context, _ string) ([]domain.ContentHash, error) {
	m.calls++
	return m.hashes, m.err
}

type mockLookup struct {
	stored map[domain.ContentHash]bool
	err    error
	asked  []domain.ContentHash
}

func (m *mockLookup) ExistingHashes(_ context.Context, _ string, hashes []domain.ContentHash) ([]domain.ContentHash, error) {
	m.asked = hashes
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.ContentHash
	for _, h := range hashes {
		if m.stored[h] {
			out = append(out, h)
		}
	}
	return out, nil
}

func chunks(texts ...string) []domain.Chunk {
	out := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		out[i] = domain.Chunk{Text: t, SourceURL: "https://example.com"}
	}
	return out
}

// --- Hash ---

func TestNormalize(t *testing.T) {
	got := Normalize("  hello \n\t world   again ")
	if got != "hello world again" {
		t.Errorf("Normalize = %q", got)
	}
}

func TestComputeHash_WhitespaceInsensitive(t *testing.T) {
	a := ComputeHash("The quick  brown\nfox")
	b := ComputeHash("  The quick brown fox ")
	if a != b {
		t.Fatalf("hashes differ: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("expected hex md5, got %q", a)
	}
}

func TestComputeHash_KnownDigest(t *testing.T) {
	// md5("hello world")
	if got := ComputeHash("hello   world"); got != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("ComputeHash = %s", got)
	}
}

func TestComputeHash_DifferentText(t *testing.T) {
	if ComputeHash("a") == ComputeHash("b") {
		t.Fatal("different text should hash differently")
	}
}

// --- Split ---

func TestSplit_DedupsWithinBatch(t *testing.T) {
	p := Split(chunks("alpha", "beta", "alpha ", "gamma"), Set{})
	if len(p.New) != 3 {
		t.Fatalf("expected 3 new chunks, got %d", len(p.New))
	}
	if p.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", p.Skipped)
	}
	if len(p.Hashes) != len(p.New) {
		t.Fatal("hashes must parallel new chunks")
	}
	if len(p.Known) != 1 || p.Known[0] != ComputeHash("alpha") {
		t.Errorf("known = %v", p.Known)
	}
}

func TestSplit_PreservesOrder(t *testing.T) {
	existing := NewSet(ComputeHash("two"))
	p := Split(chunks("one", "two", "three", "four"), existing)
	want := []string{"one", "three", "four"}
	for i, c := range p.New {
		if c.Text != want[i] {
			t.Fatalf("order broken at %d: %q", i, c.Text)
		}
		if p.Hashes[i] != ComputeHash(want[i]) {
			t.Fatalf("hash mismatch at %d", i)
		}
	}
}

func TestSplit_AllKnown(t *testing.T) {
	existing := NewSet(ComputeHash("a"), ComputeHash("b"))
	p := Split(chunks("a", "b"), existing)
	if len(p.New) != 0 || p.Skipped != 2 {
		t.Fatalf("unexpected partition: %+v", p)
	}
}

func TestSplit_MutatesRunningSet(t *testing.T) {
	existing := Set{}
	Split(chunks("x"), existing)
	if !existing.Has(ComputeHash("x")) {
		t.Fatal("new hash should be added to the running set")
	}
}

// --- Index ---

func TestLoadExistingHashes_ScanError(t *testing.T) {
	x := New(&mockScanner{err: errors.New("collection not found")}, nil, Options{}, nil)
	set := x.LoadExistingHashes(context.Background(), "ami")
	if len(set) != 0 {
		t.Fatalf("expected empty set on scan failure, got %d", len(set))
	}
}

func TestLoadExistingHashes_DropsEmpty(t *testing.T) {
	x := New(&mockScanner{hashes: []domain.ContentHash{"a", "", "b"}}, nil, Options{}, nil)
	set := x.LoadExistingHashes(context.Background(), "ami")
	if len(set) != 2 {
		t.Fatalf("expected 2 hashes, got %d", len(set))
	}
}

func TestPartition_ScanMode(t *testing.T) {
	sc := &mockScanner{hashes: []domain.ContentHash{ComputeHash("old")}}
	x := New(sc, nil, Options{}, nil)
	p := x.Partition(context.Background(), "ami", chunks("old", "new"))
	if len(p.New) != 1 || p.New[0].Text != "new" {
		t.Fatalf("unexpected partition: %+v", p)
	}
}

func TestPartition_LookupMode(t *testing.T) {
	lk := &mockLookup{stored: map[domain.ContentHash]bool{ComputeHash("old"): true}}
	sc := &mockScanner{}
	x := New(sc, lk, Options{Mode: ModeLookup}, nil)
	p := x.Partition(context.Background(), "ami", chunks("old", "new", "new"))
	if len(p.New) != 1 || p.Skipped != 2 {
		t.Fatalf("unexpected partition: %+v", p)
	}
	if sc.calls != 0 {
		t.Error("lookup mode should not scan")
	}
	if len(lk.asked) != 3 {
		t.Errorf("expected 3 candidates, got %d", len(lk.asked))
	}
}

func TestPartition_LookupErrorTreatedAsEmpty(t *testing.T) {
	lk := &mockLookup{err: errors.New("unavailable")}
	x := New(&mockScanner{}, lk, Options{Mode: ModeLookup}, nil)
	p := x.Partition(context.Background(), "ami", chunks("a", "b"))
	if len(p.New) != 2 {
		t.Fatalf("expected all chunks new, got %d", len(p.New))
	}
}

func TestCache_CommitAndReuse(t *testing.T) {
	sc := &mockScanner{hashes: []domain.ContentHash{ComputeHash("a")}}
	x := New(sc, nil, Options{Cache: true}, nil)
	ctx := context.Background()

	p := x.Partition(ctx, "ami", chunks("a", "b"))
	x.Commit("ami", p.Hashes)

	p2 := x.Partition(ctx, "ami", chunks("a", "b", "c"))
	if sc.calls != 1 {
		t.Errorf("expected a single scan, got %d", sc.calls)
	}
	if len(p2.New) != 1 || p2.New[0].Text != "c" {
		t.Fatalf("unexpected partition: %+v", p2)
	}
}

func TestCache_UncommittedHashesDiscarded(t *testing.T) {
	sc := &mockScanner{}
	x := New(sc, nil, Options{Cache: true}, nil)
	ctx := context.Background()

	// First call partitions "a" but the write fails, so nothing is committed.
	x.Partition(ctx, "ami", chunks("a"))

	p := x.Partition(ctx, "ami", chunks("a"))
	if len(p.New) != 1 {
		t.Fatal("failed write must not leave the hash marked as stored")
	}
}

func TestCache_Forget(t *testing.T) {
	sc := &mockScanner{}
	x := New(sc, nil, Options{Cache: true}, nil)
	ctx := context.Background()
	x.LoadExistingHashes(ctx, "ami")
	x.Forget("ami")
	x.LoadExistingHashes(ctx, "ami")
	if sc.calls != 2 {
		t.Errorf("expected rescan after Forget, got %d scans", sc.calls)
	}
}
