// Package domain defines the core types and errors shared by the ingestion
// and query pipelines: chunks, content hashes, stored documents and query results.
package domain

// ContentHash is the hex digest of a chunk's whitespace-normalized text.
// It is the global dedup key of a collection.
type ContentHash string

// Short returns the first 8 characters of the hash for log lines.
func (h ContentHash) Short() string {
	if len(h) <= 8 {
		return string(h)
	}
	return string(h[:8])
}

// Chunk is a bounded-size segment of normalized page text.
type Chunk struct {
	Text      string         `json:"text"`
	SourceURL string         `json:"source_url"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StoredDocument is a chunk persisted in the vector store together with its
// hash and embedding. A collection holds at most one per ContentHash.
type StoredDocument struct {
	Text        string         `json:"page_content"`
	ContentHash ContentHash    `json:"content_hash"`
	SourceURL   string         `json:"source"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Embedding   []float32      `json:"-"`
}

// Hit is one similarity search match as returned by the store.
// Similarity is nil when the store did not report a score.
type Hit struct {
	Document   StoredDocument
	Similarity *float64
}

// QueryResult is a ranked, formatted search match.
type QueryResult struct {
	Rank       int            `json:"rank"`
	Content    string         `json:"content"`
	Similarity float64        `json:"similarity"`
	SourceURL  string         `json:"source"`
	Metadata   map[string]any `json:"metadata"`
}

// EmbedMode selects the remote-side encoding of an embedding request.
type EmbedMode string

const (
	ModeDocument EmbedMode = "search_document"
	ModeQuery    EmbedMode = "search_query"
)
