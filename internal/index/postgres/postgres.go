// Package postgres is the pgvector backed index.Index.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/docchat/internal/index"
	"github.com/seanblong/docchat/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	if dim <= 0 {
		return errors.New("embedding dimension must be positive")
	}
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  id            TEXT PRIMARY KEY,
  document_id   TEXT NOT NULL,
  document_name TEXT NOT NULL,
  ordinal       INT NOT NULL,
  chunk_count   INT NOT NULL,
  text          TEXT NOT NULL,
  embedding     vector(%d) NOT NULL,
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS chunks_document_ordinal_uidx
  ON chunks (document_id, ordinal);

CREATE INDEX IF NOT EXISTS chunks_embedding_hnsw
  ON chunks USING hnsw (embedding vector_cosine_ops);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// Insert replaces the batch's documents in one transaction.
func (s *Store) Insert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	const q = `
		INSERT INTO chunks (id, document_id, document_name, ordinal, chunk_count, text, embedding, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, COALESCE($8, now()))
		ON CONFLICT (id) DO UPDATE SET
			document_id   = EXCLUDED.document_id,
			document_name = EXCLUDED.document_name,
			ordinal       = EXCLUDED.ordinal,
			chunk_count   = EXCLUDED.chunk_count,
			text          = EXCLUDED.text,
			embedding     = EXCLUDED.embedding;`

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, id := range index.DocumentIDs(chunks) {
			if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
				return fmt.Errorf("clear document %s: %w", id, err)
			}
		}

		batch := &pgx.Batch{}
		for _, c := range chunks {
			var created *time.Time
			if !c.CreatedAt.IsZero() {
				t := c.CreatedAt
				created = &t
			}
			batch.Queue(q, c.ID, c.DocumentID, c.DocumentName, c.Ordinal, c.ChunkCount, c.Text,
				pgvector.NewVector(c.Embedding), created)
		}
		br := tx.SendBatch(ctx, batch)
		for _, c := range chunks {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert chunk %s: %w", c.ID, err)
			}
		}
		return br.Close()
	})
}

// Query orders by the pgvector cosine distance operator.
func (s *Store) Query(ctx context.Context, vec []float32, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		return []models.SearchHit{}, nil
	}

	const q = `
		SELECT id, document_id, document_name, ordinal, chunk_count, text, created_at,
		       embedding <=> $1 AS distance
		FROM chunks
		ORDER BY distance, document_id, ordinal
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.SearchHit{}
	for rows.Next() {
		var c models.Chunk
		var distance float64
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.DocumentName, &c.Ordinal, &c.ChunkCount, &c.Text, &c.CreatedAt,
			&distance,
		); err != nil {
			return nil, err
		}
		if distance < 0 {
			distance = 0
		}
		out = append(out, models.SearchHit{Chunk: c, Distance: distance})
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Documents returns one entry per document id.
func (s *Store) Documents(ctx context.Context) ([]models.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT document_id, MIN(document_name), COUNT(*)
		FROM chunks
		GROUP BY document_id
		ORDER BY MIN(document_name), document_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Name, &d.ChunkCount); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE chunks`)
	if err != nil {
		log.Error().Err(err).Msg("failed to truncate chunks")
	}
	return err
}
