package fingerprint

import "github.com/WessleyAI/ami-rag/engine/domain"

// Partition is the outcome of splitting a chunk batch into new and known content.
type Partition struct {
	New     []domain.Chunk
	Hashes  []domain.ContentHash // parallel to New
	Skipped int
	Known   []domain.ContentHash // hash of every skipped chunk, in order
}

// Split walks chunks in order and keeps a chunk only if its hash is absent
// from existing. Every kept hash is added to existing immediately, so
// duplicates within the batch are dropped as well. The caller owns existing;
// pass a clone when the additions must be discardable.
func Split(chunks []domain.Chunk, existing Set) Partition {
	var p Partition
	for _, c := range chunks {
		h := ComputeHash(c.Text)
		if existing.Has(h) {
			p.Skipped++
			p.Known = append(p.Known, h)
			continue
		}
		existing.Add(h)
		p.New = append(p.New, c)
		p.Hashes = append(p.Hashes, h)
	}
	return p
}
