// Package embed turns document chunks and queries into vectors. Cloud
// embedders (Gemini, OpenAI) are preferred; a deterministic local embedder
// is the always-available last resort so ingestion never hard-fails on
// missing keys.
package embed

import (
	"context"
	"fmt"
	"log/slog"

	simplychat "github.com/simplyai/simplychat"
)

// Embedder produces one vector per input text.
type Embedder interface {
	// Name returns the provider name ("gemini", "openai", "local").
	Name() string
	// Model returns the embedding model identifier.
	Model() string
	// Dimension returns the vector width.
	Dimension() int
	// Embed returns vectors in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Chain tries embedders in order, falling back on failure. Queries and
// documents must use the same embedder for vectors to be comparable, so the
// chain reports which embedder produced the result.
type Chain struct {
	embedders []Embedder
	log       *slog.Logger
}

// NewChain builds a fallback chain. The last embedder should be one that
// cannot fail (the local embedder).
func NewChain(embedders ...Embedder) *Chain {
	return &Chain{
		embedders: embedders,
		log:       slog.With("component", "embed"),
	}
}

// Embed runs the first embedder that succeeds and returns its vectors along
// with the embedder used.
func (c *Chain) Embed(ctx context.Context, texts []string) ([][]float32, Embedder, error) {
	if len(texts) == 0 {
		return nil, nil, fmt.Errorf("%w: no texts", simplychat.ErrEmbeddingFailed)
	}

	var lastErr error
	for _, e := range c.embedders {
		vectors, err := e.Embed(ctx, texts)
		if err == nil {
			return vectors, e, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		lastErr = err
		c.log.Warn("embedder failed, falling back",
			"provider", e.Name(),
			"model", e.Model(),
			"error", err,
		)
	}
	return nil, nil, fmt.Errorf("%w: %v", simplychat.ErrEmbeddingFailed, lastErr)
}

// ByName returns the chain member with the given provider name.
func (c *Chain) ByName(name string) (Embedder, bool) {
	for _, e := range c.embedders {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}
