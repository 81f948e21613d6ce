package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEngine is the default embedder: it hashes token bigrams (and unigrams)
// into a fixed-length vector. No external service, fully deterministic, and
// good enough for the retrieval quality the engine depends on. Vectors are
// L2-normalized so cosine similarity reduces to a dot product.
type HashEngine struct {
	dims int
}

// NewHashEngine creates a hash embedder with the given dimensionality.
func NewHashEngine(dims int) *HashEngine {
	return &HashEngine{dims: dims}
}

// Embed generates a deterministic embedding for the text.
func (e *HashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	tokens := tokenize(text)

	for _, tok := range tokens {
		vec[e.bucket(tok)] += 1.0
	}
	for i := 0; i+1 < len(tokens); i++ {
		vec[e.bucket(tokens[i]+" "+tokens[i+1])] += 1.0
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the configured vector length.
func (e *HashEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *HashEngine) Name() string { return "hash-bigram" }

func (e *HashEngine) bucket(feature string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	return int(h.Sum32() % uint32(e.dims))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
}
