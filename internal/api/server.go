// Package api is the HTTP surface: PDF upload, chat, document and history
// management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/docchat/internal/ingest"
	"github.com/seanblong/docchat/internal/rag"
	"github.com/seanblong/docchat/pkg/models"
)

const version = "1.0.0"

// multipart framing allowance on top of the file size limit
const formOverhead = 1 << 20

// Chatter answers questions and owns the conversation.
type Chatter interface {
	Chat(ctx context.Context, req rag.Request) models.ChatResponse
	History() *rag.History
}

// DocumentStore manages indexed documents.
type DocumentStore interface {
	ListDocuments(ctx context.Context) ([]models.Document, error)
	DeleteDocument(ctx context.Context, documentID string) (bool, error)
	ClearAll(ctx context.Context) error
}

// Ingester turns a saved PDF into indexed chunks.
type Ingester interface {
	IngestDocument(ctx context.Context, documentID, path, name string) (ingest.Result, error)
}

type Config struct {
	UploadDir      string
	MaxUploadBytes int64
	Provider       string
}

type Server struct {
	chat     Chatter
	docs     DocumentStore
	ingester Ingester
	cfg      Config

	// ValidatePDF rejects uploads that are not readable PDFs.
	ValidatePDF func(path string) bool
	NewID       func() string
	Now         func() time.Time
}

func New(chat Chatter, docs DocumentStore, ingester Ingester, cfg Config) *Server {
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &Server{
		chat:        chat,
		docs:        docs,
		ingester:    ingester,
		cfg:         cfg,
		ValidatePDF: ingest.ValidatePDF,
		NewID:       func() string { return uuid.NewString() },
		Now:         time.Now,
	}
}

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /documents/{file_id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /clear", s.handleClearHistory)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("DELETE /clear-all", s.handleClearAll)
	return mux
}

// Handler wraps Routes with CORS and request logging.
func (s *Server) Handler(logger zerolog.Logger) http.Handler {
	return hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(cors(s.Routes())),
	)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to the PDF document chat API",
		"version": version,
		"endpoints": map[string]string{
			"upload":    "/upload - Upload a PDF document",
			"chat":      "/chat - Chat with the uploaded documents",
			"documents": "/documents - List all uploaded documents",
			"delete":    "/documents/{file_id} - Delete a specific document",
			"clear":     "/clear - Clear chat history",
			"history":   "/history - Get chat history",
			"clear-all": "/clear-all - Clear all documents and chat history",
			"health":    "/health - Check API health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.Now().Format(time.RFC3339),
		"provider":  s.cfg.Provider,
	})
}

type uploadResponse struct {
	Message       string `json:"message"`
	FileID        string `json:"file_id"`
	FileName      string `json:"file_name"`
	NumChunks     int    `json:"num_chunks"`
	NumCharacters int    `json:"num_characters"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+formOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Missing file upload")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		writeError(w, http.StatusBadRequest, "Only PDF files are allowed")
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	id := s.NewID()
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error processing PDF: %v", err))
		return
	}
	path := filepath.Join(s.cfg.UploadDir, id+"_"+name)
	if err := saveFile(path, file); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error processing PDF: %v", err))
		return
	}

	if !s.ValidatePDF(path) {
		removeFile(r, path)
		writeError(w, http.StatusBadRequest, "Invalid PDF file")
		return
	}

	res, err := s.ingester.IngestDocument(r.Context(), id, path, name)
	if err != nil {
		removeFile(r, path)
		if errors.Is(err, ingest.ErrNoText) {
			writeError(w, http.StatusBadRequest, "No text could be extracted from the PDF")
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error processing PDF: %v", err))
		return
	}

	hlog.FromRequest(r).Info().Str("document_id", id).Str("file", name).Int("chunks", res.NumChunks).Msg("uploaded")
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:       "PDF uploaded and processed successfully",
		FileID:        res.DocumentID,
		FileName:      res.FileName,
		NumChunks:     res.NumChunks,
		NumCharacters: res.NumCharacters,
	})
}

func saveFile(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return err
	}
	return dst.Close()
}

func removeFile(r *http.Request, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		hlog.FromRequest(r).Warn().Err(err).Str("path", path).Msg("failed to remove upload")
	}
}

type chatRequest struct {
	Query      string `json:"query"`
	UseAgentic *bool  `json:"use_agentic"`
	UseHistory *bool  `json:"use_history"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "Query cannot be empty")
		return
	}

	resp := s.chat.Chat(r.Context(), rag.Request{
		Query:      req.Query,
		Adaptive:   boolOr(req.UseAgentic, true),
		UseHistory: boolOr(req.UseHistory, true),
	})
	if resp.Error != nil {
		writeError(w, http.StatusInternalServerError, *resp.Error)
		return
	}
	if resp.Sources == nil {
		resp.Sources = []models.Source{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.docs.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error listing documents: %v", err))
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("file_id")
	found, err := s.docs.DeleteDocument(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error deleting document: %v", err))
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Document not found")
		return
	}

	s.removeUploads(r, func(name string) bool { return strings.HasPrefix(name, id+"_") })
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Document deleted successfully",
		"file_id": id,
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.chat.History().Clear()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat history cleared successfully"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]models.Turn{"history": s.chat.History().All()})
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.docs.ClearAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error clearing data: %v", err))
		return
	}
	s.chat.History().Clear()
	s.removeUploads(r, func(string) bool { return true })
	writeJSON(w, http.StatusOK, map[string]string{"message": "All data cleared successfully"})
}

// removeUploads deletes regular files in the upload dir whose name matches.
// Failures are logged only.
func (s *Server) removeUploads(r *http.Request, match func(name string) bool) {
	entries, err := os.ReadDir(s.cfg.UploadDir)
	if err != nil {
		if !os.IsNotExist(err) {
			hlog.FromRequest(r).Warn().Err(err).Msg("failed to read upload dir")
		}
		return
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || !match(e.Name()) {
			continue
		}
		removeFile(r, filepath.Join(s.cfg.UploadDir, e.Name()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
