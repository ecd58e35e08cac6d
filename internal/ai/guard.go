package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// GuardConfig bounds calls made through a Guard.
type GuardConfig struct {
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
	// RPS limits calls per second across both operations. Zero disables limiting.
	RPS   float64
	Burst int
}

// Guard decorates a Client with timeouts, rate limiting and an empty-output
// check on generation.
// Every failure it returns wraps ErrEmbedding or ErrGeneration.
type Guard struct {
	next    Client
	cfg     GuardConfig
	limiter *rate.Limiter
}

// NewGuard wraps next.
func NewGuard(next Client, cfg GuardConfig) *Guard {
	g := &Guard{next: next, cfg: cfg}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return g
}

func (g *Guard) Dim() int {
	return g.next.Dim()
}

// Embed forwards to the wrapped client. Callers that index into the result
// check its shape themselves.
func (g *Guard) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	ctx, cancel := withTimeout(ctx, g.cfg.EmbedTimeout)
	defer cancel()

	if err := g.wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	vecs, err := g.next.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return vecs, nil
}

// Generate forwards to the wrapped client. Blank output is a failure.
func (g *Guard) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, g.cfg.GenerateTimeout)
	defer cancel()

	if err := g.wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	out, err := g.next.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: %w", ErrGeneration, errEmptyOutput)
	}
	return out, nil
}

var errEmptyOutput = errors.New("empty output")

func (g *Guard) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
