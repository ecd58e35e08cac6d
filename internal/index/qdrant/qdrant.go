// Package qdrant is the index.Index backed by a Qdrant collection using
// cosine distance. Chunk fields live in the point payload.
package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/docchat/internal/index"
	"github.com/seanblong/docchat/pkg/models"
)

const (
	fieldDocumentID   = "document_id"
	fieldDocumentName = "document_name"
	fieldOrdinal      = "ordinal"
	fieldChunkCount   = "chunk_count"
	fieldText         = "text"
	fieldChunkID      = "chunk_id"
	fieldCreatedAt    = "created_at"
)

// pointNamespace scopes the name-based UUIDs derived from chunk ids.
var pointNamespace = uuid.MustParse("6f1c2a3e-9b7d-4e0a-8c55-3d2b1f0e9a71")

// Config selects the Qdrant instance and collection.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

type Index struct {
	client     *qdrant.Client
	collection string
	dim        uint64
}

// New connects and makes sure the collection exists with the given vector size.
func New(ctx context.Context, cfg Config, dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	if cfg.Collection == "" {
		cfg.Collection = "docchat_chunks"
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	idx := &Index{client: client, collection: cfg.Collection, dim: uint64(dim)}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

func (q *Index) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", q.collection, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", q.collection, err)
	}
	log.Info().Str("collection", q.collection).Uint64("dim", q.dim).Msg("created qdrant collection")
	return nil
}

func (q *Index) Close() error { return q.client.Close() }

// PointID maps a chunk id onto the UUID Qdrant requires.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func (q *Index) Insert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		created := c.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(c.ID)),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				fieldChunkID:      c.ID,
				fieldDocumentID:   c.DocumentID,
				fieldDocumentName: c.DocumentName,
				fieldOrdinal:      c.Ordinal,
				fieldChunkCount:   c.ChunkCount,
				fieldText:         c.Text,
				fieldCreatedAt:    created.UnixNano(),
			}),
		}
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return q.dropStale(ctx, chunks)
}

// dropStale removes points left over from an earlier, longer version of a
// document in the batch. Qdrant has no transactions, so the new points are
// written first and the document is never missing from search.
func (q *Index) dropStale(ctx context.Context, chunks []models.Chunk) error {
	next := make(map[string]int)
	for _, c := range chunks {
		if c.Ordinal+1 > next[c.DocumentID] {
			next[c.DocumentID] = c.Ordinal + 1
		}
	}
	wait := true
	for _, id := range index.DocumentIDs(chunks) {
		from := float64(next[id])
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.collection,
			Wait:           &wait,
			Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
				Must: []*qdrant.Condition{
					qdrant.NewMatch(fieldDocumentID, id),
					qdrant.NewRange(fieldOrdinal, &qdrant.Range{Gte: &from}),
				},
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to drop stale chunks of %s: %w", id, err)
		}
	}
	return nil
}

func (q *Index) Query(ctx context.Context, vec []float32, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		return []models.SearchHit{}, nil
	}
	limit := uint64(k)
	res, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query qdrant: %w", err)
	}

	hits := make([]models.SearchHit, 0, len(res))
	for _, p := range res {
		d := 1 - float64(p.GetScore())
		if d < 0 {
			d = 0
		}
		hits = append(hits, models.SearchHit{Chunk: chunkFromPayload(p.GetPayload()), Distance: d})
	}
	return index.SortHits(hits, k), nil
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(fieldDocumentID, documentID)},
	}
}

func (q *Index) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Filter:         documentFilter(documentID),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count document points: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	wait := true
	_, err = q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete document points: %w", err)
	}
	return int(n), nil
}

// Documents reads the first chunk of every document; chunk_count on it
// carries the size of the whole document.
func (q *Index) Documents(ctx context.Context) ([]models.Document, error) {
	first := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchInt(fieldOrdinal, 0)},
	}
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Filter:         first,
		Exact:          &exact,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	docs := []models.Document{}
	if n == 0 {
		return docs, nil
	}

	limit := uint32(n)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Filter:         first,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll documents: %w", err)
	}
	for _, p := range points {
		c := chunkFromPayload(p.GetPayload())
		docs = append(docs, models.Document{ID: c.DocumentID, Name: c.DocumentName, ChunkCount: c.ChunkCount})
	}
	index.SortDocuments(docs)
	return docs, nil
}

// Reset drops and recreates the collection.
func (q *Index) Reset(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", q.collection, err)
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
			return fmt.Errorf("failed to delete collection %s: %w", q.collection, err)
		}
	}
	return q.ensureCollection(ctx)
}

func chunkFromPayload(p map[string]*qdrant.Value) models.Chunk {
	return models.Chunk{
		ID:           stringValue(p[fieldChunkID]),
		DocumentID:   stringValue(p[fieldDocumentID]),
		DocumentName: stringValue(p[fieldDocumentName]),
		Ordinal:      int(intValue(p[fieldOrdinal])),
		ChunkCount:   int(intValue(p[fieldChunkCount])),
		Text:         stringValue(p[fieldText]),
		CreatedAt:    time.Unix(0, intValue(p[fieldCreatedAt])).UTC(),
	}
}

func stringValue(v *qdrant.Value) string {
	if v == nil {
		return ""
	}
	return v.GetStringValue()
}

func intValue(v *qdrant.Value) int64 {
	if v == nil {
		return 0
	}
	if i := v.GetIntegerValue(); i != 0 {
		return i
	}
	return int64(v.GetDoubleValue())
}
