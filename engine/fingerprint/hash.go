// Package fingerprint decides which chunks of a batch are new relative to the
// content already stored in a collection. Chunks are keyed by an MD5 digest of
// their whitespace-normalized text, so formatting differences never produce
// spurious new entries.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/WessleyAI/ami-rag/engine/domain"
)

// Normalize collapses runs of whitespace to a single space and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ComputeHash returns the content hash of text after normalization.
func ComputeHash(text string) domain.ContentHash {
	sum := md5.Sum([]byte(Normalize(text)))
	return domain.ContentHash(hex.EncodeToString(sum[:]))
}

// Set is a set of content hashes.
type Set map[domain.ContentHash]struct{}

// NewSet builds a Set from a slice, dropping empty hashes.
func NewSet(hashes ...domain.ContentHash) Set {
	s := make(Set, len(hashes))
	for _, h := range hashes {
		if h != "" {
			s[h] = struct{}{}
		}
	}
	return s
}

// Has reports whether h is in the set.
func (s Set) Has(h domain.ContentHash) bool {
	_, ok := s[h]
	return ok
}

// Add inserts h.
func (s Set) Add(h domain.ContentHash) { s[h] = struct{}{} }

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for h := range s {
		out[h] = struct{}{}
	}
	return out
}
