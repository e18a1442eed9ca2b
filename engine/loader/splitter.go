package loader

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultSeparators are tried in order, from paragraph breaks down to single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// LengthFunc measures a piece of text in splitter units.
type LengthFunc func(string) int

// RuneLength counts characters.
func RuneLength(s string) int { return utf8.RuneCountInString(s) }

// TokenLength returns a LengthFunc counting tokens of the named tiktoken
// encoding (e.g. "cl100k_base").
func TokenLength(encoding string) (LengthFunc, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return func(s string) int { return len(enc.Encode(s, nil, nil)) }, nil
}

// Splitter cuts text into overlapping chunks no longer than Size units,
// preferring to break on the coarsest separator that fits. Output is
// deterministic for a given input and configuration.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
	Length     LengthFunc
}

// NewSplitter creates a character-based Splitter.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators, Length: RuneLength}
}

// Split returns the trimmed, non-empty chunks of text.
func (s *Splitter) Split(text string) []string {
	return s.split(text, s.Separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		pieces = splitRunes(text)
	} else {
		pieces = strings.Split(text, separator)
	}

	var out, fitting []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if s.Length(p) < s.Size {
			fitting = append(fitting, p)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, s.merge(fitting, separator)...)
			fitting = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, s.split(p, rest)...)
		}
	}
	if len(fitting) > 0 {
		out = append(out, s.merge(fitting, separator)...)
	}
	return out
}

// merge greedily joins pieces into chunks of at most Size units, carrying up
// to Overlap units of trailing pieces into the next chunk.
func (s *Splitter) merge(pieces []string, separator string) []string {
	sepLen := s.Length(separator)
	var chunks, current []string
	total := 0

	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		n := s.Length(p)
		if total+n+joinLen() > s.Size && len(current) > 0 {
			if c := strings.TrimSpace(strings.Join(current, separator)); c != "" {
				chunks = append(chunks, c)
			}
			for total > s.Overlap || (total+n+joinLen() > s.Size && total > 0) {
				drop := s.Length(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if c := strings.TrimSpace(strings.Join(current, separator)); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
