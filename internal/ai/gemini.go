package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient talks to Gemini either through the Gemini API (API key) or
// through Vertex AI (project and location).
type GeminiClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewGeminiClient creates a new client for the Google Gemini API.
func NewGeminiClient(ctx context.Context, config *ClientConfig) (*GeminiClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	cc := genai.ClientConfig{}
	switch config.Provider {
	case ProviderVertexAI:
		if strings.TrimSpace(config.ProjectID) == "" && strings.TrimSpace(config.APIKey) == "" {
			return nil, errors.New("vertexai requires a project ID or API key")
		}
		if config.EmbedModel == "" {
			config.EmbedModel = "text-embedding-005"
		}
		if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
			config.Location = "us-central1"
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = strings.TrimSpace(config.ProjectID)
		cc.Location = strings.TrimSpace(config.Location)
	default:
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, errors.New("PROVIDER_API_KEY unset")
		}
		if config.EmbedModel == "" {
			config.EmbedModel = "text-embedding-004"
		}
		cc.Backend = genai.BackendGeminiAPI
	}
	if config.ChatModel == "" {
		config.ChatModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		config: config,
		client: client,
	}, nil
}

// Embed implements the embedding functionality using the Gemini API
func (c *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	cfg := genai.EmbedContentConfig{
		TaskType: embedTaskType(ctx),
	}
	if c.config.Dim > 0 {
		dim := int32(c.config.Dim)
		cfg.OutputDimensionality = &dim
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, errors.New("embedding count does not match input count")
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("empty embedding for input %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

func embedTaskType(ctx context.Context) string {
	if IsQueryEmbedding(ctx) {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

// Generate implements the generation functionality using the Gemini API
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	temp := float32(0.2)
	cfg := genai.GenerateContentConfig{
		Temperature: &temp,
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.ChatModel, genai.Text(prompt), &cfg)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no candidates returned")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *GeminiClient) Dim() int {
	return c.config.Dim
}
