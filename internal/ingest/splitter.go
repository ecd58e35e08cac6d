package ingest

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Units a Splitter can measure chunk size in.
const (
	UnitChars  = "chars"
	UnitTokens = "tokens"
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts text recursively: paragraphs first, then lines, then
// words, then characters, until every piece fits, and merges neighbouring
// pieces back up to Size with Overlap carried between chunks.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
	Length     func(string) int
}

// NewSplitter builds a splitter measuring in unit.
func NewSplitter(size, overlap int, unit string) (*Splitter, error) {
	if size <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}
	s := &Splitter{Size: size, Overlap: overlap, Separators: defaultSeparators, Length: utf8.RuneCountInString}
	switch unit {
	case UnitChars, "":
	case UnitTokens:
		tok, err := DefaultTokenizer()
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		s.Length = tok.Count
	default:
		return nil, fmt.Errorf("unknown chunk unit %q", unit)
	}
	return s, nil
}

// Split returns the non-empty chunks of text in document order.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}
	seps := s.Separators
	if len(seps) == 0 {
		seps = defaultSeparators
	}
	return s.split(text, seps)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var out, good []string
	for _, piece := range splitOn(text, sep) {
		if s.Length(piece) < s.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, sep)...)
	}
	return out
}

// merge joins pieces with sep into chunks no longer than Size, keeping up
// to Overlap of the tail of one chunk at the head of the next.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := s.Length(sep)
	var (
		docs    []string
		current []string
		total   int
	)
	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		n := s.Length(p)
		if total+n+joinLen() > s.Size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				docs = append(docs, doc)
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
	if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func splitOn(text, sep string) []string {
	var parts []string
	if sep == "" {
		parts = make([]string, 0, len(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.Split(text, sep)
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
