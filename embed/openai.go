package embed

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/simplyai/simplychat/llm"
)

const (
	// OpenAIModel is the OpenAI embedding model.
	OpenAIModel = "text-embedding-3-small"
	// OpenAIDimension is the vector width of OpenAIModel.
	OpenAIDimension = 1536

	openAIBatchSize   = 100
	openAIConcurrency = 4
)

// OpenAIEmbedder embeds with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *llm.CompatClient
	apiKey string
}

// NewOpenAI returns an OpenAI embedder. The key is validated on first use.
func NewOpenAI(apiKey string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: llm.NewCompatClient("https://api.openai.com/v1", apiKey),
		apiKey: apiKey,
	}
}

func (e *OpenAIEmbedder) Name() string   { return "openai" }
func (e *OpenAIEmbedder) Model() string  { return OpenAIModel }
func (e *OpenAIEmbedder) Dimension() int { return OpenAIDimension }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("openai embed: no API key configured")
	}

	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(openAIConcurrency)

	for start := 0; start < len(texts); start += openAIBatchSize {
		start := start
		end := start + openAIBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vectors, err := e.client.Embeddings(gctx, OpenAIModel, texts[start:end])
			if err != nil {
				return fmt.Errorf("openai embed: %w", err)
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
