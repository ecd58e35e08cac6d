// Package index defines the vector index contract shared by the storage
// backends and the distance math they agree on.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/seanblong/docchat/pkg/models"
)

// Index stores embedded chunks and answers nearest-neighbour queries.
//
// Insert replaces every stored chunk of the documents named in the batch and
// makes the batch visible all at once or not at all. Query returns at most k
// hits ordered by ascending cosine distance (1 - cosine similarity) across
// every document; a query vector whose length differs from the stored
// embeddings fails with ErrDimension. DeleteDocument reports how many chunks it removed.
// Documents lists one entry per document id ordered by name, then id.
type Index interface {
	Insert(ctx context.Context, chunks []models.Chunk) error
	Query(ctx context.Context, vec []float32, k int) ([]models.SearchHit, error)
	DeleteDocument(ctx context.Context, documentID string) (int, error)
	Documents(ctx context.Context) ([]models.Document, error)
	Reset(ctx context.Context) error
	Close() error
}

// ErrDimension is returned when vectors of different lengths are compared.
var ErrDimension = errors.New("embedding dimension mismatch")

// DocumentIDs returns the distinct document ids of chunks in first-seen order.
func DocumentIDs(chunks []models.Chunk) []string {
	seen := make(map[string]struct{}, 1)
	var ids []string
	for _, c := range chunks {
		if _, ok := seen[c.DocumentID]; ok {
			continue
		}
		seen[c.DocumentID] = struct{}{}
		ids = append(ids, c.DocumentID)
	}
	return ids
}

// CheckDimension reports ErrDimension unless a and b have the same length.
func CheckDimension(a, b []float32) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: query has %d, stored has %d", ErrDimension, len(a), len(b))
	}
	return nil
}

// CosineDistance returns 1 - cos(a, b). A zero vector is treated as
// orthogonal to everything, giving distance 1. Callers must check lengths
// with CheckDimension first.
func CosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	if d < 0 {
		// rounding on identical vectors
		return 0
	}
	return d
}

// SortHits orders hits by ascending distance, breaking ties by document id
// and ordinal so results are stable, and truncates to k.
func SortHits(hits []models.SearchHit, k int) []models.SearchHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		if hits[i].Chunk.DocumentID != hits[j].Chunk.DocumentID {
			return hits[i].Chunk.DocumentID < hits[j].Chunk.DocumentID
		}
		return hits[i].Chunk.Ordinal < hits[j].Chunk.Ordinal
	})
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// SortDocuments orders documents by name, then id.
func SortDocuments(docs []models.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Name != docs[j].Name {
			return docs[i].Name < docs[j].Name
		}
		return docs[i].ID < docs[j].ID
	})
}
