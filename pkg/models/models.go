package models

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Chunk is one indexed span of a document. Embedding is set once at
// ingestion time and never modified afterwards.
type Chunk struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Ordinal      int       `json:"ordinal"`
	ChunkCount   int       `json:"chunk_count"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Document is derived from the distinct document ids present in the index.
type Document struct {
	ID         string `json:"file_id"`
	Name       string `json:"file_name"`
	ChunkCount int    `json:"chunk_count"`
}

// SearchHit is a chunk returned by a similarity query. Distance is
// non-negative, lower means more similar.
type SearchHit struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float64 `json:"distance"`
}

// Turn is one entry of the conversation log.
type Turn struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	Sequence int    `json:"-"`
}

// Source cites a chunk used to ground an answer.
type Source struct {
	FileName       string  `json:"file_name"`
	ChunkIndex     int     `json:"chunk_index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ChatResponse is the outcome of one question. Answer and Error are nil
// when absent so they serialize as JSON null.
type ChatResponse struct {
	Answer  *string  `json:"answer"`
	Sources []Source `json:"sources"`
	Intent  string   `json:"intent,omitempty"`
	Error   *string  `json:"error"`
}
