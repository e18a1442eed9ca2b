package ingest

import (
	"context"
	"fmt"

	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/WessleyAI/ami-rag/engine/fingerprint"
)

// State is a step of an ingestion run.
type State string

const (
	StateFetching       State = "fetching"
	StateChunking       State = "chunking"
	StateFingerprinting State = "fingerprinting"
	StateEmbedding      State = "embedding"
	StateUpserting      State = "upserting"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Error reports the state an ingestion run failed in together with the
// URL it was given.
type Error struct {
	URL   string
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingest %s: %s: %v", e.URL, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the outcome of a successful run. Chunks holds the text of every
// chunk of the page in document order, stored or skipped.
type Result struct {
	URL        string   `json:"url"`
	Collection string   `json:"collection"`
	Chunks     []string `json:"chunks"`
	Stored     int      `json:"stored"`
	Skipped    int      `json:"skipped"`
}

// Loader fetches a page and splits it into normalized chunks.
type Loader interface {
	FetchAndSplit(ctx context.Context, url string) ([]domain.Chunk, error)
}

// Embedder turns texts into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string, mode domain.EmbedMode) ([][]float32, error)
}

// Writer persists documents in a single batch and returns how many it wrote.
type Writer interface {
	UpsertDocuments(ctx context.Context, collection string, docs []domain.StoredDocument) (int, error)
}

// Recorder keeps page-to-chunk provenance.
type Recorder interface {
	RecordPage(ctx context.Context, collection, url string, hashes []domain.ContentHash) error
}

// run is the value threaded through the pipeline stages.
type run struct {
	URL        string
	Collection string
	Chunks     []domain.Chunk
	Partition  fingerprint.Partition
	Vectors    [][]float32
	Stored     int
}

func (r run) result() Result {
	return Result{
		URL:        r.URL,
		Collection: r.Collection,
		Chunks:     domain.Texts(r.Chunks),
		Stored:     r.Stored,
		Skipped:    r.Partition.Skipped,
	}
}
