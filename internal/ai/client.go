package ai

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder turns texts into vectors, one per input and in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

type queryEmbeddingKey struct{}

// WithQueryEmbedding marks ctx so that Embed treats its texts as search
// queries. Providers with asymmetric retrieval models embed queries and
// documents differently; the rest ignore the mark.
func WithQueryEmbedding(ctx context.Context) context.Context {
	return context.WithValue(ctx, queryEmbeddingKey{}, true)
}

// IsQueryEmbedding reports whether ctx was marked by WithQueryEmbedding.
func IsQueryEmbedding(ctx context.Context) bool {
	v, _ := ctx.Value(queryEmbeddingKey{}).(bool)
	return v
}

// Generator produces a completion for a single prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client provides both embedding and generation capabilities
type Client interface {
	Embedder
	Generator
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderGemini   Provider = "gemini"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ParseProvider maps a configured provider name onto a Provider.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return ProviderOpenAI, nil
	case "gemini":
		return ProviderGemini, nil
	case "vertexai", "google":
		return ProviderVertexAI, nil
	case "stub":
		return ProviderStub, nil
	default:
		return "", fmt.Errorf("unsupported provider: %s", s)
	}
}

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	ChatModel  string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
}

// NewClient creates a new AI client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	ctx := context.Background()
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderGemini, ProviderVertexAI:
		return NewGeminiClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubDim is the embedding size used by StubClient when none is configured.
const StubDim = 384

// StubClient is an offline Client. Embeddings are hashed bags of words, so
// texts sharing vocabulary land close together; generation echoes the prompt.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = StubDim
	}
	return &StubClient{dim: dim}
}

// Embed implements the embedding functionality
func (s *StubClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.embedOne(t)
	}
	return out, nil
}

func (s *StubClient) embedOne(text string) []float32 {
	vec := make([]float32, s.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum32()
		idx := int(sum % uint32(s.dim))
		if sum&(1<<31) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// Generate answers with the last non-empty line of the prompt.
func (s *StubClient) Generate(ctx context.Context, prompt string) (string, error) {
	lines := strings.Split(prompt, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > 240 {
			line = line[:240]
		}
		return "stub response: " + line, nil
	}
	return "stub response", nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
