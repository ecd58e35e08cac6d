// Package rag answers questions over the indexed documents: retrieve, build
// a grounded prompt, generate, and keep the conversation.
package rag

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/docchat/internal/ai"
	"github.com/seanblong/docchat/pkg/models"
)

// NoDocumentsAnswer is returned without calling the model when retrieval
// finds nothing.
const NoDocumentsAnswer = "I don't have any documents uploaded yet. Please upload a PDF document first so I can answer your questions about it."

// Retriever is the part of the chunk store the orchestrator needs.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]models.SearchHit, error)
}

// Options sets retrieval breadth and prompt history size.
type Options struct {
	TopK           int
	SummaryTopK    int
	ComparisonTopK int
	HistoryWindow  int
}

// DefaultOptions returns the breadths used when none are configured.
func DefaultOptions() Options {
	return Options{TopK: 5, SummaryTopK: 10, ComparisonTopK: 8, HistoryWindow: 5}
}

// Request is one question from the presentation layer.
type Request struct {
	Query      string
	Adaptive   bool
	UseHistory bool
}

// Service is the RAG orchestrator. It owns the conversation history.
type Service struct {
	retriever  Retriever
	gen        ai.Generator
	classifier *Classifier
	history    *History
	opts       Options
}

// NewService wires the orchestrator. Zero option fields take defaults.
func NewService(retriever Retriever, gen ai.Generator, opts Options) *Service {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.SummaryTopK <= 0 {
		opts.SummaryTopK = def.SummaryTopK
	}
	if opts.ComparisonTopK <= 0 {
		opts.ComparisonTopK = def.ComparisonTopK
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = def.HistoryWindow
	}
	return &Service{
		retriever:  retriever,
		gen:        gen,
		classifier: NewClassifier(gen),
		history:    NewHistory(),
		opts:       opts,
	}
}

// History exposes the conversation for listing and clearing.
func (s *Service) History() *History {
	return s.history
}

// BreadthFor returns how many chunks to retrieve for an intent.
func (s *Service) BreadthFor(in Intent) int {
	switch in {
	case IntentSummarization:
		return s.opts.SummaryTopK
	case IntentComparison:
		return s.opts.ComparisonTopK
	default:
		return s.opts.TopK
	}
}

// Chat answers req. Failures never surface as a Go error; they come back in
// the response's Error field.
func (s *Service) Chat(ctx context.Context, req Request) models.ChatResponse {
	start := time.Now()
	if req.Adaptive {
		a := s.tryAdaptive(ctx, req)
		if a.outcome == adaptiveAnswered {
			log.Info().Str("intent", a.resp.Intent).Int("sources", len(a.resp.Sources)).
				Dur("dur", time.Since(start)).Msg("adaptive chat answered")
			return a.resp
		}
		log.Warn().Err(a.err).Msg("adaptive chat failed, falling back to plain mode")
	}

	resp, err := s.answer(ctx, req.Query, s.opts.TopK, req.UseHistory, "")
	if err != nil {
		log.Error().Err(err).Dur("dur", time.Since(start)).Msg("chat failed")
		msg := fmt.Sprintf("Error generating response: %v", err)
		return models.ChatResponse{Sources: []models.Source{}, Error: &msg}
	}
	log.Info().Int("sources", len(resp.Sources)).Dur("dur", time.Since(start)).Msg("chat answered")
	return resp
}

type adaptiveOutcome int

const (
	adaptiveAnswered adaptiveOutcome = iota
	adaptiveFallback
)

// adaptiveAttempt is the result of the classify-then-answer path. On
// fallback, err says why and resp is unset.
type adaptiveAttempt struct {
	outcome adaptiveOutcome
	resp    models.ChatResponse
	err     error
}

func (s *Service) tryAdaptive(ctx context.Context, req Request) adaptiveAttempt {
	cls, err := s.classifier.Classify(ctx, req.Query)
	if err != nil {
		return adaptiveAttempt{outcome: adaptiveFallback, err: err}
	}
	k := s.BreadthFor(cls.Intent)
	log.Debug().Str("intent", cls.Label).Int("k", k).Msg("classified query")

	resp, err := s.answer(ctx, req.Query, k, req.UseHistory, cls.Label)
	if err != nil {
		return adaptiveAttempt{outcome: adaptiveFallback, err: err}
	}
	resp.Intent = cls.Label
	return adaptiveAttempt{outcome: adaptiveAnswered, resp: resp}
}

// answer runs retrieve, assemble, generate and record. intent is only
// used for the prompt's style note.
func (s *Service) answer(ctx context.Context, query string, k int, useHistory bool, intent string) (models.ChatResponse, error) {
	hits, err := s.retriever.Search(ctx, query, k)
	if err != nil {
		return models.ChatResponse{}, err
	}
	if len(hits) == 0 {
		answer := NoDocumentsAnswer
		return models.ChatResponse{Answer: &answer, Sources: []models.Source{}}, nil
	}

	var turns []models.Turn
	if useHistory {
		turns = s.history.Recent(s.opts.HistoryWindow)
	}
	prompt := BuildPrompt(query, BuildContext(hits), turns, intent)

	answer, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return models.ChatResponse{}, err
	}
	if answer == "" {
		return models.ChatResponse{}, fmt.Errorf("%w: empty output", ai.ErrGeneration)
	}

	s.history.AppendExchange(query, answer)
	return models.ChatResponse{Answer: &answer, Sources: Sources(hits)}, nil
}

// Sources cites hits in rank order.
func Sources(hits []models.SearchHit) []models.Source {
	out := make([]models.Source, len(hits))
	for i, h := range hits {
		out[i] = models.Source{
			FileName:       h.Chunk.DocumentName,
			ChunkIndex:     h.Chunk.Ordinal,
			RelevanceScore: RelevanceScore(h.Distance),
		}
	}
	return out
}

// RelevanceScore is 1 - distance rounded to three decimals. It is a rough
// similarity proxy, not a probability.
func RelevanceScore(distance float64) float64 {
	return math.Round((1-distance)*1000) / 1000
}
