// Package store implements the chunk store: it embeds chunk text and keeps
// the resulting vectors in an index.Index.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/docchat/internal/ai"
	"github.com/seanblong/docchat/internal/index"
	"github.com/seanblong/docchat/pkg/models"
)

var (
	// ErrIndex wraps any failure reported by the underlying index.
	ErrIndex = errors.New("index failure")

	// ErrInvalidChunk is returned by Add for an empty document id or an
	// empty chunk text. Nothing is embedded or stored.
	ErrInvalidChunk = errors.New("invalid chunk")
)

// ChunkStore embeds chunks on the way in and queries on the way out,
// always with the same embedder.
type ChunkStore struct {
	embedder ai.Embedder
	index    index.Index
	now      func() time.Time
}

// New creates a ChunkStore over idx.
func New(embedder ai.Embedder, idx index.Index) *ChunkStore {
	return &ChunkStore{embedder: embedder, index: idx, now: time.Now}
}

// ChunkID is the id of the chunk at ordinal within a document.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s_%d", documentID, ordinal)
}

// Add embeds texts in one batch and stores them as chunks 0..n-1 of the
// document. Either every chunk is stored or none is.
func (s *ChunkStore) Add(ctx context.Context, documentID, documentName string, texts []string) (int, error) {
	if len(texts) == 0 {
		return 0, nil
	}
	if strings.TrimSpace(documentID) == "" {
		return 0, fmt.Errorf("%w: empty document id", ErrInvalidChunk)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return 0, fmt.Errorf("%w: chunk %d of %s is empty", ErrInvalidChunk, i, documentID)
		}
	}

	start := time.Now()
	vecs, err := s.embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	created := s.now().UTC()
	chunks := make([]models.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = models.Chunk{
			ID:           ChunkID(documentID, i),
			DocumentID:   documentID,
			DocumentName: documentName,
			Ordinal:      i,
			ChunkCount:   len(texts),
			Text:         t,
			Embedding:    vecs[i],
			CreatedAt:    created,
		}
	}
	if err := s.index.Insert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("%w: insert: %w", ErrIndex, err)
	}

	log.Info().
		Str("document_id", documentID).
		Str("document_name", documentName).
		Int("chunks", len(chunks)).
		Dur("dur", time.Since(start)).
		Msg("added document chunks")
	return len(chunks), nil
}

// Search returns up to k chunks nearest to query across every document,
// ordered by ascending distance. An empty index yields an empty slice.
func (s *ChunkStore) Search(ctx context.Context, query string, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		return []models.SearchHit{}, nil
	}
	start := time.Now()
	vecs, err := s.embed(ai.WithQueryEmbedding(ctx), []string{query})
	if err != nil {
		return nil, err
	}
	hits, err := s.index.Query(ctx, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrIndex, err)
	}
	if hits == nil {
		hits = []models.SearchHit{}
	}

	log.Debug().
		Int("k", k).
		Int("hits", len(hits)).
		Dur("dur", time.Since(start)).
		Msg("searched chunks")
	return hits, nil
}

// DeleteDocument removes every chunk of the document. It reports false
// when the document had no chunks.
func (s *ChunkStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	n, err := s.index.DeleteDocument(ctx, documentID)
	if err != nil {
		return false, fmt.Errorf("%w: delete %s: %w", ErrIndex, documentID, err)
	}
	if n > 0 {
		log.Info().Str("document_id", documentID).Int("chunks", n).Msg("deleted document")
	}
	return n > 0, nil
}

// ListDocuments returns one entry per stored document.
func (s *ChunkStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	docs, err := s.index.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %w", ErrIndex, err)
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

// ClearAll removes every chunk. Clearing an empty store succeeds.
func (s *ChunkStore) ClearAll(ctx context.Context) error {
	if err := s.index.Reset(ctx); err != nil {
		return fmt.Errorf("%w: reset: %w", ErrIndex, err)
	}
	log.Info().Msg("cleared all documents")
	return nil
}

// Close releases the underlying index.
func (s *ChunkStore) Close() error {
	return s.index.Close()
}

// embed checks that exactly one vector of the embedder's dimension came
// back per text.
func (s *ChunkStore) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		if errors.Is(err, ai.ErrEmbedding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ai.ErrEmbedding, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ai.ErrEmbedding, len(vecs), len(texts))
	}
	if dim := s.embedder.Dim(); dim > 0 {
		for i, v := range vecs {
			if len(v) != dim {
				return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ai.ErrEmbedding, i, len(v), dim)
			}
		}
	}
	return vecs, nil
}
