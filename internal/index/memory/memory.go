// Package memory is an in-process index.Index used for tests and
// throwaway runs. Nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"github.com/seanblong/docchat/internal/index"
	"github.com/seanblong/docchat/pkg/models"
)

type Index struct {
	mu     sync.RWMutex
	chunks []models.Chunk
}

func New() *Index {
	return &Index{}
}

// Insert copies the batch in under the write lock so readers never see a
// partial batch or a mix of old and new chunks of one document.
func (m *Index) Insert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		c.Embedding = append([]float32(nil), c.Embedding...)
		batch[i] = c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	replaced := make(map[string]struct{})
	for _, id := range index.DocumentIDs(batch) {
		replaced[id] = struct{}{}
	}
	kept := m.chunks[:0:0]
	for _, c := range m.chunks {
		if _, ok := replaced[c.DocumentID]; !ok {
			kept = append(kept, c)
		}
	}
	m.chunks = append(kept, batch...)
	return nil
}

func (m *Index) Query(ctx context.Context, vec []float32, k int) ([]models.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits := make([]models.SearchHit, 0, len(m.chunks))
	for _, c := range m.chunks {
		if err := index.CheckDimension(vec, c.Embedding); err != nil {
			return nil, err
		}
		hits = append(hits, models.SearchHit{Chunk: c, Distance: index.CosineDistance(vec, c.Embedding)})
	}
	return index.SortHits(hits, k), nil
}

func (m *Index) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.chunks[:0:0]
	for _, c := range m.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	removed := len(m.chunks) - len(kept)
	m.chunks = kept
	return removed, nil
}

func (m *Index) Documents(ctx context.Context) ([]models.Document, error) {
	m.mu.RLock()
	byID := make(map[string]*models.Document)
	for _, c := range m.chunks {
		d, ok := byID[c.DocumentID]
		if !ok {
			d = &models.Document{ID: c.DocumentID, Name: c.DocumentName}
			byID[c.DocumentID] = d
		}
		d.ChunkCount++
	}
	m.mu.RUnlock()

	docs := make([]models.Document, 0, len(byID))
	for _, d := range byID {
		docs = append(docs, *d)
	}
	index.SortDocuments(docs)
	return docs, nil
}

func (m *Index) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.chunks = nil
	m.mu.Unlock()
	return nil
}

func (m *Index) Close() error { return nil }
