package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/docchat/internal/index"
	"github.com/seanblong/docchat/internal/index/memory"
	"github.com/seanblong/docchat/internal/index/postgres"
	"github.com/seanblong/docchat/internal/index/qdrant"
	"github.com/seanblong/docchat/internal/index/sqlite"
)

// Backend names accepted by OpenIndex.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendQdrant   = "qdrant"
	BackendMemory   = "memory"
)

// BackendConfig selects and configures an index backend.
type BackendConfig struct {
	Backend    string
	SQLitePath string
	Database   string
	Qdrant     qdrant.Config
	// Dim is the embedding dimension; postgres and qdrant fix it in their schema.
	Dim int
}

// OpenIndex opens the configured backend, creating schema or collections
// as needed.
func OpenIndex(ctx context.Context, cfg BackendConfig) (index.Index, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		path := cfg.SQLitePath
		if path == "" {
			path = "data/docchat.db"
		}
		idx, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("backend", BackendSQLite).Str("path", path).Msg("index opened")
		return idx, nil

	case BackendPostgres:
		if cfg.Database == "" {
			return nil, fmt.Errorf("postgres backend requires a database URL")
		}
		s, err := postgres.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if err := s.Migrate(ctx, cfg.Dim); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Str("backend", BackendPostgres).Int("dim", cfg.Dim).Msg("index opened")
		return s, nil

	case BackendQdrant:
		idx, err := qdrant.New(ctx, cfg.Qdrant, cfg.Dim)
		if err != nil {
			return nil, err
		}
		log.Info().Str("backend", BackendQdrant).Str("collection", cfg.Qdrant.Collection).Msg("index opened")
		return idx, nil

	case BackendMemory:
		log.Warn().Msg("using in-memory index; documents will not survive a restart")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}
