package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/docchat/internal/ai"
	"github.com/seanblong/docchat/internal/config"
	"github.com/seanblong/docchat/internal/index/qdrant"
	"github.com/seanblong/docchat/internal/ingest"
	"github.com/seanblong/docchat/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("docchat-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zlog.Logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	provider, err := ai.ParseProvider(cfg.Provider)
	if err != nil {
		log.Fatal(err)
	}
	zlog.Info().Str("provider", string(provider)).Str("root", cfg.DocsRoot).Msg("starting docchat indexer")

	c, err := ai.NewClient(&ai.ClientConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		EmbedModel: cfg.EmbedModel,
		ChatModel:  cfg.ChatModel,
		Dim:        cfg.Dim,
		ProjectID:  cfg.ProjectID,
		Location:   cfg.Location,
		Provider:   provider,
	})
	if err != nil {
		log.Fatal(err)
	}
	client := ai.NewGuard(c, ai.GuardConfig{
		EmbedTimeout: cfg.EmbedTimeout,
		RPS:          cfg.RPS,
	})
	if client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx, err := store.OpenIndex(ctx, store.BackendConfig{
		Backend:    strings.ToLower(cfg.Backend),
		SQLitePath: cfg.SQLitePath,
		Database:   cfg.Database,
		Qdrant: qdrant.Config{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Qdrant.Collection,
		},
		Dim: client.Dim(),
	})
	if err != nil {
		log.Fatal(err)
	}
	chunks := store.New(client, idx)

	splitter, err := ingest.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, cfg.ChunkUnit)
	if err != nil {
		log.Fatal(err)
	}
	ix := ingest.New(chunks, splitter)
	ix.Workers = cfg.Workers

	runErr := ix.Run(ctx, cfg.DocsRoot)
	if err := chunks.Close(); err != nil {
		zlog.Error().Err(err).Msg("failed to close index")
	}
	if runErr != nil {
		stop()
		zlog.Error().Err(runErr).Msg("indexing failed")
		os.Exit(1)
	}
}
