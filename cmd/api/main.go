package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/docchat/internal/ai"
	"github.com/seanblong/docchat/internal/api"
	"github.com/seanblong/docchat/internal/config"
	"github.com/seanblong/docchat/internal/index/qdrant"
	"github.com/seanblong/docchat/internal/ingest"
	"github.com/seanblong/docchat/internal/rag"
	"github.com/seanblong/docchat/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("docchat-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("backend", cfg.Backend).Str("log_level", cfg.LogLevel).Msg("starting docchat api")

	provider, err := ai.ParseProvider(cfg.Provider)
	if err != nil {
		log.Fatal(err)
	}
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
		log.Fatalf("Failed to create AI client: %v", err)
	}
	client := ai.NewGuard(c, ai.GuardConfig{
		EmbedTimeout:    cfg.EmbedTimeout,
		GenerateTimeout: cfg.GenerateTimeout,
		RPS:             cfg.RPS,
	})
	logger.Info().Int("embedding_dim", client.Dim()).Msg("AI client initialized")

	ctx := context.Background()
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
		log.Fatalf("Failed to open index: %v", err)
	}
	chunks := store.New(client, idx)
	defer func() {
		if err := chunks.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close index")
		}
	}()

	splitter, err := ingest.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, cfg.ChunkUnit)
	if err != nil {
		log.Fatalf("Invalid chunking settings: %v", err)
	}
	ix := ingest.New(chunks, splitter)

	svc := rag.NewService(chunks, client, rag.Options{
		TopK:           cfg.TopK,
		SummaryTopK:    cfg.SummaryTopK,
		ComparisonTopK: cfg.ComparisonTopK,
		HistoryWindow:  cfg.HistoryWindow,
	})

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("Failed to create upload dir: %v", err)
	}
	srv := api.New(svc, chunks, ix, api.Config{
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Provider:       string(provider),
	})

	s := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server failed")
		return
	}
	<-done
}
