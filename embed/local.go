package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalDimension is the vector width of the local embedder.
const LocalDimension = 384

// LocalEmbedder is a deterministic in-process embedder used when no cloud
// provider is available. It hashes word unigrams and bigrams into a fixed
// vector and L2-normalizes. Retrieval quality is far below a learned model,
// but it keeps ingestion and search working offline and never fails.
type LocalEmbedder struct{}

// NewLocal returns the local embedder.
func NewLocal() *LocalEmbedder {
	return &LocalEmbedder{}
}

func (e *LocalEmbedder) Name() string   { return "local" }
func (e *LocalEmbedder) Model() string  { return "feature-hash-384" }
func (e *LocalEmbedder) Dimension() int { return LocalDimension }

func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = hashEmbed(t)
	}
	return out, nil
}

func hashEmbed(text string) []float32 {
	vec := make([]float32, LocalDimension)
	words := tokenize(text)

	addFeature := func(feature string) {
		h := fnv.New32a()
		h.Write([]byte(feature))
		sum := h.Sum32()
		idx := int(sum % LocalDimension)
		sign := float32(1)
		// Use a high bit for the sign so idx and sign are independent
		if sum&0x80000000 != 0 {
			sign = -1
		}
		vec[idx] += sign
	}

	for i, w := range words {
		addFeature(w)
		if i+1 < len(words) {
			addFeature(w + " " + words[i+1])
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
