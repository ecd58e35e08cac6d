package index

import (
	"math"
	"testing"

	"github.com/seanblong/docchat/pkg/models"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
		{"45 degrees", []float32{1, 0}, []float32{1, 1}, 1 - 1/math.Sqrt2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDistance(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("CosineDistance(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestSortHits(t *testing.T) {
	hit := func(doc string, ord int, d float64) models.SearchHit {
		return models.SearchHit{Chunk: models.Chunk{DocumentID: doc, Ordinal: ord}, Distance: d}
	}
	hits := []models.SearchHit{
		hit("b", 0, 0.5),
		hit("a", 1, 0.1),
		hit("a", 0, 0.5),
		hit("c", 0, 0.9),
	}

	got := SortHits(hits, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(got))
	}
	want := []struct {
		doc string
		ord int
	}{{"a", 1}, {"a", 0}, {"b", 0}}
	for i, w := range want {
		if got[i].Chunk.DocumentID != w.doc || got[i].Chunk.Ordinal != w.ord {
			t.Errorf("position %d: got %s/%d, want %s/%d", i,
				got[i].Chunk.DocumentID, got[i].Chunk.Ordinal, w.doc, w.ord)
		}
	}
}

func TestSortDocuments(t *testing.T) {
	docs := []models.Document{
		{ID: "2", Name: "b.pdf"},
		{ID: "9", Name: "a.pdf"},
		{ID: "1", Name: "b.pdf"},
	}
	SortDocuments(docs)
	order := []string{"9", "1", "2"}
	for i, id := range order {
		if docs[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, docs[i].ID, id)
		}
	}
}
