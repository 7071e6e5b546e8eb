package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
)

const defaultHashDimensions = 256

// HashEmbedder is a deterministic bag-of-words embedder. Each token is hashed
// into a bucket, so texts sharing words get a positive cosine similarity.
// It needs no network and is used for tests and offline deployments.
type HashEmbedder struct {
	dimensions int
}

var _ embedding.Embedder = (*HashEmbedder)(nil)

func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = defaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

func (e *HashEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *HashEmbedder) embed(text string) []float64 {
	vec := make([]float64, e.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dimensions] += 1
	}
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum > 0 {
		norm := 1 / math.Sqrt(sum)
		for i := range vec {
			vec[i] *= norm
		}
	}
	return vec
}
