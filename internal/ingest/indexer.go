// Package ingest turns PDF files into stored chunks: extract text, split
// it and hand the pieces to the chunk store.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// ChunkAdder stores the chunks of one document.
type ChunkAdder interface {
	Add(ctx context.Context, documentID, documentName string, texts []string) (int, error)
}

// Result describes one ingested document.
type Result struct {
	DocumentID    string `json:"file_id"`
	FileName      string `json:"file_name"`
	NumChunks     int    `json:"num_chunks"`
	NumCharacters int    `json:"num_characters"`
	NumTokens     int    `json:"num_tokens"`
}

// Indexer handles ingestion of PDF documents.
type Indexer struct {
	Store     ChunkAdder
	Splitter  *Splitter
	Extractor TextExtractor
	Walker    FileSystemWalker
	// Workers bounds concurrent files in Run; zero means min(NumCPU, 8).
	Workers int
	NewID   func() string
}

// New creates a new Indexer instance.
func New(s ChunkAdder, splitter *Splitter) *Indexer {
	return &Indexer{
		Store:     s,
		Splitter:  splitter,
		Extractor: PDFExtractor{},
		Walker:    &DefaultFileSystemWalker{},
		NewID:     uuid.NewString,
	}
}

// IngestFile ingests the PDF at path under a fresh document id.
func (ix *Indexer) IngestFile(ctx context.Context, path, name string) (Result, error) {
	return ix.IngestDocument(ctx, ix.NewID(), path, name)
}

// IngestDocument ingests the PDF at path as documentID. Nothing is stored
// when the PDF has no text or any step fails.
func (ix *Indexer) IngestDocument(ctx context.Context, documentID, path, name string) (Result, error) {
	if name == "" {
		name = filepath.Base(path)
	}
	text, err := ix.Extractor.ExtractText(path)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrNoText
	}
	chunks := ix.Splitter.Split(text)
	if len(chunks) == 0 {
		return Result{}, ErrNoText
	}

	n, err := ix.Store.Add(ctx, documentID, name, chunks)
	if err != nil {
		return Result{}, fmt.Errorf("store %s: %w", name, err)
	}

	res := Result{
		DocumentID:    documentID,
		FileName:      name,
		NumChunks:     n,
		NumCharacters: len([]rune(text)),
	}
	if tok, err := DefaultTokenizer(); err == nil {
		res.NumTokens = tok.Count(text)
	} else {
		log.Warn().Err(err).Msg("tokenizer unavailable, skipping token count")
	}
	return res, nil
}

// Run ingests every PDF under root with a bounded worker pool. A file
// that fails is logged and skipped; only a walk error is returned.
func (ix *Indexer) Run(ctx context.Context, root string) error {
	numWorkers := ix.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
		if numWorkers > 8 {
			numWorkers = 8 // Cap at 8 to avoid overwhelming the AI API
		}
	}

	log.Info().Int("workers", numWorkers).Str("root", root).Msg("starting concurrent ingestion")
	start := time.Now()

	workChan := make(chan string, numWorkers*2)
	var ingested, failed, chunks atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")

			for path := range workChan {
				res, err := ix.IngestFile(ctx, path, filepath.Base(path))
				if err != nil {
					failed.Add(1)
					log.Error().Err(err).Str("path", path).Msg("ingest failed")
					continue
				}
				ingested.Add(1)
				chunks.Add(int64(res.NumChunks))
				log.Info().Str("path", path).
					Str("document_id", res.DocumentID).
					Int("chunks", res.NumChunks).
					Msg("ingested document")
			}

			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	walkErr := ix.Walker.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			// de is nil when driven by a test walker
			if de != nil && de.IsDir() {
				if shouldSkipDir(path) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !isPDF(path) {
				return nil
			}

			select {
			case workChan <- path:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	close(workChan)
	wg.Wait()

	log.Info().
		Int64("ingested", ingested.Load()).
		Int64("failed", failed.Load()).
		Int64("chunks", chunks.Load()).
		Dur("dur", time.Since(start)).
		Msg("ingestion finished")
	return walkErr
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// shouldSkipDir returns true for hidden and tool directories.
func shouldSkipDir(path string) bool {
	base := filepath.Base(path)
	if len(base) > 1 && strings.HasPrefix(base, ".") {
		return true
	}
	switch base {
	case "node_modules", "vendor", "__pycache__", "venv":
		return true
	}
	return false
}
