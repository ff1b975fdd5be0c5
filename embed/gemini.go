package embed

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
)

const (
	// GeminiModel is the Gemini embedding model.
	GeminiModel = "gemini-embedding-001"
	// GeminiDimension is the vector width of GeminiModel.
	GeminiDimension = 3072

	geminiBatchSize   = 64
	geminiConcurrency = 4
)

// GeminiEmbedder embeds with the Gemini API.
type GeminiEmbedder struct {
	apiKey string
}

// NewGemini returns a Gemini embedder. The key is validated on first use.
func NewGemini(apiKey string) *GeminiEmbedder {
	return &GeminiEmbedder{apiKey: apiKey}
}

func (e *GeminiEmbedder) Name() string   { return "gemini" }
func (e *GeminiEmbedder) Model() string  { return GeminiModel }
func (e *GeminiEmbedder) Dimension() int { return GeminiDimension }

func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("gemini embed: no API key configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  e.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(geminiConcurrency)

	for start := 0; start < len(texts); start += geminiBatchSize {
		start := start
		end := start + geminiBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			contents := make([]*genai.Content, 0, end-start)
			for _, t := range texts[start:end] {
				contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
			}

			resp, err := client.Models.EmbedContent(gctx, GeminiModel, contents, nil)
			if err != nil {
				return fmt.Errorf("gemini embed: %w", err)
			}
			if len(resp.Embeddings) != end-start {
				return fmt.Errorf("gemini embed: got %d embeddings for %d texts", len(resp.Embeddings), end-start)
			}
			for i, emb := range resp.Embeddings {
				out[start+i] = emb.Values
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
