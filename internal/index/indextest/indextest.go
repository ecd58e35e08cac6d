// Package indextest holds a behavioural suite every index.Index backend
// must pass.
package indextest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanblong/docchat/internal/index"
	"github.com/seanblong/docchat/pkg/models"
)

// Dim is the vector size used by the suite. Backends that fix their
// dimension at construction time must be built with it.
const Dim = 4

// Factory returns an empty index. It is called once per subtest.
type Factory func(t *testing.T) index.Index

// Chunks builds a document of n chunks whose embeddings point along the
// given axes in turn.
func Chunks(docID, name string, axes ...int) []models.Chunk {
	out := make([]models.Chunk, len(axes))
	for i, axis := range axes {
		vec := make([]float32, Dim)
		vec[axis%Dim] = 1
		out[i] = models.Chunk{
			ID:           fmt.Sprintf("%s_%d", docID, i),
			DocumentID:   docID,
			DocumentName: name,
			Ordinal:      i,
			ChunkCount:   len(axes),
			Text:         fmt.Sprintf("%s chunk %d", name, i),
			Embedding:    vec,
			CreatedAt:    time.Now().UTC(),
		}
	}
	return out
}

func axis(i int) []float32 {
	v := make([]float32, Dim)
	v[i] = 1
	return v
}

// Run exercises the Index contract against fresh instances from newIndex.
func Run(t *testing.T, newIndex Factory) {
	ctx := context.Background()

	t.Run("empty index query", func(t *testing.T) {
		idx := newIndex(t)
		hits, err := idx.Query(ctx, axis(0), 5)
		require.NoError(t, err)
		assert.Empty(t, hits)

		docs, err := idx.Documents(ctx)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("insert and query ranks ascending", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Insert(ctx, Chunks("doc-a", "a.pdf", 0, 1, 2)))
		require.NoError(t, idx.Insert(ctx, Chunks("doc-b", "b.pdf", 1, 3)))

		q := []float32{0.1, 1, 0.2, 0}
		hits, err := idx.Query(ctx, q, 10)
		require.NoError(t, err)
		require.Len(t, hits, 5)
		for i := 1; i < len(hits); i++ {
			assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance, "hits must be non-decreasing in distance")
		}
		for _, h := range hits {
			assert.GreaterOrEqual(t, h.Distance, 0.0)
		}
		top := hits[0].Chunk
		assert.Contains(t, []string{"doc-a_1", "doc-b_0"}, top.ID, "chunks along the query axis rank first")

		hits, err = idx.Query(ctx, q, 2)
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})

	t.Run("query returns chunk fields", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Insert(ctx, Chunks("doc-a", "policy.pdf", 0, 1, 2)))

		hits, err := idx.Query(ctx, axis(1), 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		c := hits[0].Chunk
		assert.Equal(t, "doc-a_1", c.ID)
		assert.Equal(t, "doc-a", c.DocumentID)
		assert.Equal(t, "policy.pdf", c.DocumentName)
		assert.Equal(t, 1, c.Ordinal)
		assert.Equal(t, 3, c.ChunkCount)
		assert.Equal(t, "policy.pdf chunk 1", c.Text)
		assert.InDelta(t, 0, hits[0].Distance, 1e-5)
	})

	t.Run("documents lists one entry per document", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Insert(ctx, Chunks("doc-b", "b.pdf", 0, 1)))
		require.NoError(t, idx.Insert(ctx, Chunks("doc-a", "a.pdf", 0, 1, 2)))

		docs, err := idx.Documents(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.Document{
			{ID: "doc-a", Name: "a.pdf", ChunkCount: 3},
			{ID: "doc-b", Name: "b.pdf", ChunkCount: 2},
		}, docs)
	})

	t.Run("delete cascades", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Insert(ctx, Chunks("doc-a", "a.pdf", 0, 1, 2)))
		require.NoError(t, idx.Insert(ctx, Chunks("doc-b", "b.pdf", 0, 1)))

		n, err := idx.DeleteDocument(ctx, "doc-a")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		for i := 0; i < Dim; i++ {
			hits, err := idx.Query(ctx, axis(i), 10)
			require.NoError(t, err)
			for _, h := range hits {
				assert.NotEqual(t, "doc-a", h.Chunk.DocumentID)
			}
		}
		docs, err := idx.Documents(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "doc-b", docs[0].ID)
	})

	t.Run("delete missing document", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Insert(ctx, Chunks("doc-a", "a.pdf", 0)))

		n, err := idx.DeleteDocument(ctx, "missing-id")
		require.NoError(t, err)
		assert.Zero(t, n)

		docs, err := idx.Documents(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("reinsert replaces the whole document", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Insert(ctx, Chunks("doc-a", "a.pdf", 0, 1, 2)))
		require.NoError(t, idx.Insert(ctx, Chunks("doc-b", "b.pdf", 1)))
		require.NoError(t, idx.Insert(ctx, Chunks("doc-a", "a.pdf", 3)))

		hits, err := idx.Query(ctx, axis(0), 10)
		require.NoError(t, err)
		require.Len(t, hits, 2, "only the new chunk of doc-a and doc-b remain")
		var got []models.Chunk
		for _, h := range hits {
			if h.Chunk.DocumentID == "doc-a" {
				got = append(got, h.Chunk)
			}
		}
		require.Len(t, got, 1)
		assert.Equal(t, "doc-a_0", got[0].ID)
		assert.Equal(t, 0, got[0].Ordinal)
		assert.Equal(t, 1, got[0].ChunkCount)

		docs, err := idx.Documents(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.Document{
			{ID: "doc-a", Name: "a.pdf", ChunkCount: 1},
			{ID: "doc-b", Name: "b.pdf", ChunkCount: 1},
		}, docs)
	})

	t.Run("query with wrong dimension fails", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Insert(ctx, Chunks("doc-a", "a.pdf", 0, 1)))

		_, err := idx.Query(ctx, []float32{1, 0}, 5)
		require.Error(t, err)
	})

	t.Run("reset is idempotent", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Insert(ctx, Chunks("doc-a", "a.pdf", 0, 1)))

		require.NoError(t, idx.Reset(ctx))
		require.NoError(t, idx.Reset(ctx))

		hits, err := idx.Query(ctx, axis(0), 5)
		require.NoError(t, err)
		assert.Empty(t, hits)

		require.NoError(t, idx.Insert(ctx, Chunks("doc-c", "c.pdf", 2)))
		docs, err := idx.Documents(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})
}
