package domain

// NewStoredDocument pairs a chunk with its hash and embedding. The metadata
// map is copied so later mutation of the chunk cannot leak into the store.
func NewStoredDocument(c Chunk, hash ContentHash, embedding []float32) StoredDocument {
	return StoredDocument{
		Text:        c.Text,
		ContentHash: hash,
		SourceURL:   c.SourceURL,
		Metadata:    copyMetadata(c.Metadata),
		Embedding:   embedding,
	}
}

// Texts returns the text of every chunk in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func copyMetadata(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
