package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanblong/docchat/internal/ingest"
	"github.com/seanblong/docchat/internal/rag"
	"github.com/seanblong/docchat/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

type MockChatter struct {
	ChatFunc func(ctx context.Context, req rag.Request) models.ChatResponse
	history  *rag.History
	requests []rag.Request
}

func (m *MockChatter) Chat(ctx context.Context, req rag.Request) models.ChatResponse {
	m.requests = append(m.requests, req)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	answer := "an answer"
	return models.ChatResponse{Answer: &answer, Sources: []models.Source{}}
}

func (m *MockChatter) History() *rag.History {
	if m.history == nil {
		m.history = rag.NewHistory()
	}
	return m.history
}

type MockDocumentStore struct {
	ListFunc   func(ctx context.Context) ([]models.Document, error)
	DeleteFunc func(ctx context.Context, id string) (bool, error)
	ClearFunc  func(ctx context.Context) error
	deleted    []string
	cleared    int
}

func (m *MockDocumentStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *MockDocumentStore) DeleteDocument(ctx context.Context, id string) (bool, error) {
	m.deleted = append(m.deleted, id)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return true, nil
}

func (m *MockDocumentStore) ClearAll(ctx context.Context) error {
	m.cleared++
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx)
	}
	return nil
}

type MockIngester struct {
	IngestFunc func(ctx context.Context, id, path, name string) (ingest.Result, error)
}

func (m *MockIngester) IngestDocument(ctx context.Context, id, path, name string) (ingest.Result, error) {
	if m.IngestFunc != nil {
		return m.IngestFunc(ctx, id, path, name)
	}
	return ingest.Result{DocumentID: id, FileName: name, NumChunks: 3, NumCharacters: 2500}, nil
}

type fixture struct {
	server   *Server
	chat     *MockChatter
	docs     *MockDocumentStore
	ingester *MockIngester
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		chat:     &MockChatter{},
		docs:     &MockDocumentStore{},
		ingester: &MockIngester{},
		dir:      t.TempDir(),
	}
	f.server = New(f.chat, f.docs, f.ingester, Config{
		UploadDir:      f.dir,
		MaxUploadBytes: 1024,
		Provider:       "stub",
	})
	f.server.ValidatePDF = func(string) bool { return true }
	f.server.NewID = func() string { return "doc-1" }
	f.server.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into), rec.Body.String())
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decode(t, rec, &body)
	return body["detail"]
}

func uploadRequest(t *testing.T, field, name string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRoot(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Version   string            `json:"version"`
		Endpoints map[string]string `json:"endpoints"`
	}
	decode(t, rec, &body)
	assert.Equal(t, version, body.Version)
	assert.Contains(t, body.Endpoints, "upload")
	assert.Contains(t, body.Endpoints, "chat")

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "2024-05-01T12:00:00Z", body["timestamp"])
	assert.Equal(t, "stub", body["provider"])
}

func TestChat(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		chatFunc     func(ctx context.Context, req rag.Request) models.ChatResponse
		expectStatus int
		expectDetail string
		expectReq    *rag.Request
	}{
		{
			name:         "invalid json",
			body:         `{"query":`,
			expectStatus: http.StatusBadRequest,
			expectDetail: "Invalid request body",
		},
		{
			name:         "empty query",
			body:         `{"query":"   "}`,
			expectStatus: http.StatusBadRequest,
			expectDetail: "Query cannot be empty",
		},
		{
			name:         "defaults to adaptive with history",
			body:         `{"query":"What is the refund window?"}`,
			expectStatus: http.StatusOK,
			expectReq:    &rag.Request{Query: "What is the refund window?", Adaptive: true, UseHistory: true},
		},
		{
			name:         "plain mode without history",
			body:         `{"query":"hi","use_agentic":false,"use_history":false}`,
			expectStatus: http.StatusOK,
			expectReq:    &rag.Request{Query: "hi", Adaptive: false, UseHistory: false},
		},
		{
			name: "orchestrator error",
			body: `{"query":"hi"}`,
			chatFunc: func(ctx context.Context, req rag.Request) models.ChatResponse {
				msg := "Error generating response: generation failure: boom"
				return models.ChatResponse{Sources: []models.Source{}, Error: &msg}
			},
			expectStatus: http.StatusInternalServerError,
			expectDetail: "Error generating response: generation failure: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.chat.ChatFunc = tt.chatFunc

			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := f.do(t, req)

			require.Equal(t, tt.expectStatus, rec.Code, rec.Body.String())
			if tt.expectDetail != "" {
				assert.Equal(t, tt.expectDetail, detail(t, rec))
			}
			if tt.expectReq != nil {
				require.Len(t, f.chat.requests, 1)
				assert.Equal(t, *tt.expectReq, f.chat.requests[0])
			}
		})
	}
}

func TestChatResponseBody(t *testing.T) {
	f := newFixture(t)
	f.chat.ChatFunc = func(ctx context.Context, req rag.Request) models.ChatResponse {
		answer := "Refunds are accepted within 30 days."
		return models.ChatResponse{
			Answer:  &answer,
			Sources: []models.Source{{FileName: "policy.pdf", ChunkIndex: 0, RelevanceScore: 0.9}},
			Intent:  "FACTUAL_QUESTION",
		}
	}

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"query":"refund?"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "Refunds are accepted within 30 days.", body["answer"])
	assert.Equal(t, "FACTUAL_QUESTION", body["intent"])
	assert.Nil(t, body["error"])
	sources, ok := body["sources"].([]any)
	require.True(t, ok)
	require.Len(t, sources, 1)
	assert.Equal(t, "policy.pdf", sources[0].(map[string]any)["file_name"])
}

func TestChatNilSourcesEncodeAsEmptyList(t *testing.T) {
	f := newFixture(t)
	f.chat.ChatFunc = func(ctx context.Context, req rag.Request) models.ChatResponse {
		answer := rag.NoDocumentsAnswer
		return models.ChatResponse{Answer: &answer}
	}

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"query":"anything"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sources":[]`)
}

func TestUpload(t *testing.T) {
	pdf := []byte("%PDF-1.4 fake")

	tests := []struct {
		name         string
		field        string
		fileName     string
		content      []byte
		valid        bool
		ingestErr    error
		expectStatus int
		expectDetail string
		expectFile   bool
	}{
		{
			name:         "success",
			field:        "file",
			fileName:     "policy.pdf",
			content:      pdf,
			valid:        true,
			expectStatus: http.StatusOK,
			expectFile:   true,
		},
		{
			name:         "upper case extension",
			field:        "file",
			fileName:     "POLICY.PDF",
			content:      pdf,
			valid:        true,
			expectStatus: http.StatusOK,
			expectFile:   true,
		},
		{
			name:         "not a pdf name",
			field:        "file",
			fileName:     "notes.txt",
			content:      []byte("hello"),
			valid:        true,
			expectStatus: http.StatusBadRequest,
			expectDetail: "Only PDF files are allowed",
		},
		{
			name:         "missing file field",
			field:        "document",
			fileName:     "policy.pdf",
			content:      pdf,
			valid:        true,
			expectStatus: http.StatusBadRequest,
			expectDetail: "Missing file upload",
		},
		{
			name:         "too large",
			field:        "file",
			fileName:     "big.pdf",
			content:      bytes.Repeat([]byte("a"), 2048),
			valid:        true,
			expectStatus: http.StatusRequestEntityTooLarge,
			expectDetail: "File too large",
		},
		{
			name:         "invalid pdf",
			field:        "file",
			fileName:     "broken.pdf",
			content:      []byte("not a pdf"),
			valid:        false,
			expectStatus: http.StatusBadRequest,
			expectDetail: "Invalid PDF file",
		},
		{
			name:         "no text",
			field:        "file",
			fileName:     "scan.pdf",
			content:      pdf,
			valid:        true,
			ingestErr:    fmt.Errorf("extract scan.pdf: %w", ingest.ErrNoText),
			expectStatus: http.StatusBadRequest,
			expectDetail: "No text could be extracted from the PDF",
		},
		{
			name:         "ingestion failure",
			field:        "file",
			fileName:     "policy.pdf",
			content:      pdf,
			valid:        true,
			ingestErr:    errors.New("embedding failure: quota"),
			expectStatus: http.StatusInternalServerError,
			expectDetail: "Error processing PDF: embedding failure: quota",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.server.ValidatePDF = func(string) bool { return tt.valid }
			var ingestedPath string
			f.ingester.IngestFunc = func(ctx context.Context, id, path, name string) (ingest.Result, error) {
				ingestedPath = path
				if tt.ingestErr != nil {
					return ingest.Result{}, tt.ingestErr
				}
				return ingest.Result{DocumentID: id, FileName: name, NumChunks: 3, NumCharacters: 2500}, nil
			}

			rec := f.do(t, uploadRequest(t, tt.field, tt.fileName, tt.content))
			require.Equal(t, tt.expectStatus, rec.Code, rec.Body.String())

			if tt.expectDetail != "" {
				assert.Equal(t, tt.expectDetail, detail(t, rec))
			}

			saved := filepath.Join(f.dir, "doc-1_"+tt.fileName)
			if tt.expectFile {
				assert.FileExists(t, saved)
				assert.Equal(t, saved, ingestedPath)

				var body uploadResponse
				decode(t, rec, &body)
				assert.Equal(t, "PDF uploaded and processed successfully", body.Message)
				assert.Equal(t, "doc-1", body.FileID)
				assert.Equal(t, tt.fileName, body.FileName)
				assert.Equal(t, 3, body.NumChunks)
				assert.Equal(t, 2500, body.NumCharacters)
			} else {
				assert.NoFileExists(t, saved)
			}
		})
	}
}

func TestUploadStripsDirectoryFromFileName(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, uploadRequest(t, "file", "../../etc/policy.pdf", []byte("%PDF-1.4")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.FileExists(t, filepath.Join(f.dir, "doc-1_policy.pdf"))
}

func TestUploadRealPDF(t *testing.T) {
	f := newFixture(t)
	f.server.ValidatePDF = ingest.ValidatePDF

	rec := f.do(t, uploadRequest(t, "file", "broken.pdf", []byte("definitely not a pdf")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid PDF file", detail(t, rec))
}

func TestListDocuments(t *testing.T) {
	t.Run("empty index returns empty list", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, httptest.NewRequest(http.MethodGet, "/documents", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("documents", func(t *testing.T) {
		f := newFixture(t)
		f.docs.ListFunc = func(ctx context.Context) ([]models.Document, error) {
			return []models.Document{{ID: "a", Name: "alpha.pdf", ChunkCount: 2}}, nil
		}
		rec := f.do(t, httptest.NewRequest(http.MethodGet, "/documents", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[{"file_id":"a","file_name":"alpha.pdf","chunk_count":2}]`, rec.Body.String())
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t)
		f.docs.ListFunc = func(ctx context.Context) ([]models.Document, error) {
			return nil, errors.New("index failure")
		}
		rec := f.do(t, httptest.NewRequest(http.MethodGet, "/documents", nil))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Error listing documents: index failure", detail(t, rec))
	})
}

func TestDeleteDocument(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		f.docs.DeleteFunc = func(ctx context.Context, id string) (bool, error) { return false, nil }

		rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/documents/missing", nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Document not found", detail(t, rec))
		assert.Equal(t, []string{"missing"}, f.docs.deleted)
	})

	t.Run("removes matching uploads only", func(t *testing.T) {
		f := newFixture(t)
		keep := filepath.Join(f.dir, "other_b.pdf")
		longerID := filepath.Join(f.dir, "abcd_c.pdf")
		drop := filepath.Join(f.dir, "abc_a.pdf")
		require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))
		require.NoError(t, os.WriteFile(longerID, []byte("x"), 0o644))
		require.NoError(t, os.WriteFile(drop, []byte("x"), 0o644))

		rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/documents/abc", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		decode(t, rec, &body)
		assert.Equal(t, "abc", body["file_id"])
		assert.NoFileExists(t, drop)
		assert.FileExists(t, keep)
		assert.FileExists(t, longerID, "an id sharing a prefix is a different document")
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t)
		f.docs.DeleteFunc = func(ctx context.Context, id string) (bool, error) {
			return false, errors.New("index failure")
		}
		rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/documents/abc", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHistoryEndpoints(t *testing.T) {
	f := newFixture(t)
	f.chat.History().AppendExchange("What is the refund window?", "30 days.")

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"history":[
		{"role":"user","content":"What is the refund window?"},
		{"role":"assistant","content":"30 days."}
	]}`, rec.Body.String())

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/clear", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.chat.History().Len())

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"history":[]}`, rec.Body.String())
}

func TestClearAll(t *testing.T) {
	t.Run("clears index history and uploads", func(t *testing.T) {
		f := newFixture(t)
		f.chat.History().AppendExchange("q", "a")
		upload := filepath.Join(f.dir, "abc_a.pdf")
		require.NoError(t, os.WriteFile(upload, []byte("x"), 0o644))
		require.NoError(t, os.Mkdir(filepath.Join(f.dir, "keepdir"), 0o755))

		rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/clear-all", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, 1, f.docs.cleared)
		assert.Equal(t, 0, f.chat.History().Len())
		assert.NoFileExists(t, upload)
		assert.DirExists(t, filepath.Join(f.dir, "keepdir"))
	})

	t.Run("missing upload dir", func(t *testing.T) {
		f := newFixture(t)
		f.server.cfg.UploadDir = filepath.Join(f.dir, "never-created")

		rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/clear-all", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("store failure keeps history", func(t *testing.T) {
		f := newFixture(t)
		f.chat.History().AppendExchange("q", "a")
		f.docs.ClearFunc = func(ctx context.Context) error { return errors.New("index failure") }

		rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/clear-all", nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Error clearing data: index failure", detail(t, rec))
		assert.Equal(t, 2, f.chat.History().Len())
	})
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlerCORS(t *testing.T) {
	f := newFixture(t)
	h := f.server.Handler(zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewDefaults(t *testing.T) {
	s := New(&MockChatter{}, &MockDocumentStore{}, &MockIngester{}, Config{})
	assert.Equal(t, "uploads", s.cfg.UploadDir)
	assert.Equal(t, int64(10<<20), s.cfg.MaxUploadBytes)
	assert.NotEmpty(t, s.NewID())
	assert.NotEqual(t, s.NewID(), s.NewID())
}
