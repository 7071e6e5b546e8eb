// Package vector stores passage embeddings per client collection and serves similarity search.
package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"agentrag/internal/models"
)

// Store persists passages with their embeddings and returns the most similar ones.
type Store interface {
	Upsert(ctx context.Context, clientID, collection string, passages []*models.Passage, vectors [][]float64) error
	Search(ctx context.Context, clientID, collection string, vector []float64, topK int) ([]*models.Document, error)
	Count(ctx context.Context, clientID, collection string) (int, error)
	Close() error
}

var errLengthMismatch = errors.New("passages and vectors length mismatch")

func checkUpsert(passages []*models.Passage, vectors [][]float64) error {
	if len(passages) != len(vectors) {
		return errLengthMismatch
	}
	for i, p := range passages {
		if p == nil || p.ID == "" {
			return fmt.Errorf("passage %d has no id", i)
		}
		if len(vectors[i]) == 0 {
			return fmt.Errorf("passage %s has an empty vector", p.ID)
		}
	}
	return nil
}

// cosine returns the cosine similarity of a and b, or 0 when dimensions differ.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type scored struct {
	passage *models.Passage
	score   float64
}

// topDocuments sorts candidates by descending score and converts the best k.
func topDocuments(candidates []scored, k int) []*models.Document {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]*models.Document, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].passage.ToDocument(candidates[i].score)
	}
	return out
}

func float32SliceToBytes(s []float64) []byte {
	buf := make([]byte, len(s)*4)
	for i, v := range s {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	return buf
}

func bytesToFloat64Slice(b []byte) []float64 {
	out := make([]float64, len(b)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
	}
	return out
}
