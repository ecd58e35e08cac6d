package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewSplitterValidation(t *testing.T) {
	tests := []struct {
		name        string
		size        int
		overlap     int
		unit        string
		expectError bool
	}{
		{"defaults", 1000, 200, UnitChars, false},
		{"empty unit means chars", 100, 0, "", false},
		{"zero size", 0, 0, UnitChars, true},
		{"overlap equal to size", 100, 100, UnitChars, true},
		{"negative overlap", 100, -1, UnitChars, true},
		{"unknown unit", 100, 10, "words", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSplitter(tt.size, tt.overlap, tt.unit)
			if tt.expectError && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestSplitterShortTextIsOneChunk(t *testing.T) {
	s, _ := NewSplitter(1000, 200, UnitChars)
	got := s.Split("  A short page of text.  ")
	if len(got) != 1 || got[0] != "A short page of text." {
		t.Errorf("Expected one trimmed chunk, got %q", got)
	}
}

func TestSplitterEmptyText(t *testing.T) {
	s, _ := NewSplitter(100, 10, UnitChars)
	for _, in := range []string{"", "   \n\n  "} {
		if got := s.Split(in); len(got) != 0 {
			t.Errorf("Split(%q) = %q, want no chunks", in, got)
		}
	}
}

func TestSplitterPrefersParagraphs(t *testing.T) {
	s, _ := NewSplitter(30, 0, UnitChars)
	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird one."
	got := s.Split(text)
	want := []string{"First paragraph here.", "Second paragraph here.", "Third one."}
	if len(got) != len(want) {
		t.Fatalf("Expected %d chunks, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSplitterMergesSmallPieces(t *testing.T) {
	s, _ := NewSplitter(20, 0, UnitChars)
	got := s.Split("a b c d e f g h i j k l m n o p")
	for _, c := range got {
		if utf8.RuneCountInString(c) > 20 {
			t.Errorf("chunk %q exceeds size", c)
		}
	}
	if strings.Join(got, " ") != "a b c d e f g h i j k l m n o p" {
		t.Errorf("chunks do not cover the text in order: %q", got)
	}
}

func TestSplitterOverlap(t *testing.T) {
	s, _ := NewSplitter(20, 8, UnitChars)
	words := strings.Fields("alpha beta gamma delta epsilon zeta eta theta iota kappa")
	got := s.Split(strings.Join(words, " "))
	if len(got) < 2 {
		t.Fatalf("Expected several chunks, got %q", got)
	}
	for i := 1; i < len(got); i++ {
		prev := strings.Fields(got[i-1])
		first := strings.Fields(got[i])[0]
		carried := false
		for _, w := range prev {
			if w == first {
				carried = true
			}
		}
		if !carried {
			t.Errorf("chunk %d should open with words carried over from chunk %d: %q / %q", i, i-1, got[i-1], got[i])
		}
	}
	for _, c := range got {
		if utf8.RuneCountInString(c) > 20 {
			t.Errorf("chunk %q exceeds size", c)
		}
	}
}

func TestSplitterFallsBackToCharacters(t *testing.T) {
	s, _ := NewSplitter(10, 0, UnitChars)
	got := s.Split(strings.Repeat("x", 25))
	want := []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}
	if len(got) != len(want) {
		t.Fatalf("Expected %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSplitterCountsRunes(t *testing.T) {
	s, _ := NewSplitter(5, 0, UnitChars)
	got := s.Split("ééééé ààààà")
	if len(got) != 2 {
		t.Errorf("Expected 2 chunks of 5 runes, got %q", got)
	}
}

func TestSplitterTokens(t *testing.T) {
	s, err := NewSplitter(4, 0, UnitTokens)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}
	tok, err := DefaultTokenizer()
	if err != nil {
		t.Fatalf("DefaultTokenizer: %v", err)
	}
	got := s.Split("the quick brown fox jumps over the lazy dog again and again")
	if len(got) < 2 {
		t.Fatalf("Expected several chunks, got %q", got)
	}
	for _, c := range got {
		if n := tok.Count(c); n > 4 {
			t.Errorf("chunk %q has %d tokens, want at most 4", c, n)
		}
	}
}

func TestTokenizerCount(t *testing.T) {
	tok, err := DefaultTokenizer()
	if err != nil {
		t.Fatalf("DefaultTokenizer: %v", err)
	}
	if n := tok.Count(""); n != 0 {
		t.Errorf("Expected 0 tokens for empty text, got %d", n)
	}
	if n := tok.Count("hello world"); n != 2 {
		t.Errorf("Expected 2 tokens, got %d", n)
	}
}

func BenchmarkSplitter(b *testing.B) {
	s, _ := NewSplitter(1000, 200, UnitChars)
	text := strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit.\n", 500)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Split(text)
	}
}
