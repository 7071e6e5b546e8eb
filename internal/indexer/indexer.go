// Package indexer stores pre-chunked passages in the vector store and keyword index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentrag/internal/models"
	"agentrag/internal/vector"
)

const defaultBatchSize = 64

// ErrInvalidPassages reports a request the indexer cannot store.
var ErrInvalidPassages = errors.New("invalid passages")

// KeywordIndexer receives passages for full-text search.
type KeywordIndexer interface {
	Index(ctx context.Context, clientID, collection string, passages []*models.Passage) error
}

// Indexer embeds passages and writes them to the configured stores.
type Indexer struct {
	embedder  embedding.Embedder
	store     vector.Store
	keyword   KeywordIndexer
	batchSize int
	logger    *zap.Logger
}

// NewIndexer creates an indexer. keyword may be nil.
func NewIndexer(embedder embedding.Embedder, store vector.Store, keyword KeywordIndexer, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		embedder:  embedder,
		store:     store,
		keyword:   keyword,
		batchSize: defaultBatchSize,
		logger:    logger,
	}
}

// AddPassages stores passages for the client's collection and returns their ids.
// Passages without an id get a generated one.
func (idx *Indexer) AddPassages(ctx context.Context, client models.Client, passages []*models.Passage) ([]string, error) {
	if err := client.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPassages, err)
	}
	if len(passages) == 0 {
		return nil, fmt.Errorf("%w: no passages to index", ErrInvalidPassages)
	}
	collection := client.CollectionOrDefault()

	prepared := make([]*models.Passage, 0, len(passages))
	for i, p := range passages {
		if p == nil || strings.TrimSpace(p.Content) == "" {
			return nil, fmt.Errorf("%w: passage %d has no content", ErrInvalidPassages, i)
		}
		pc := *p
		if pc.ID == "" {
			pc.ID = uuid.NewString()
		}
		prepared = append(prepared, &pc)
	}

	for start := 0; start < len(prepared); start += idx.batchSize {
		end := min(start+idx.batchSize, len(prepared))
		batch := prepared[start:end]
		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Content
		}
		vectors, err := idx.embedder.EmbedStrings(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed passages: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embed passages: got %d vectors for %d texts", len(vectors), len(batch))
		}
		if err := idx.store.Upsert(ctx, client.ID, collection, batch, vectors); err != nil {
			return nil, fmt.Errorf("store passages: %w", err)
		}
		if idx.keyword != nil {
			if err := idx.keyword.Index(ctx, client.ID, collection, batch); err != nil {
				return nil, fmt.Errorf("keyword index: %w", err)
			}
		}
	}

	ids := make([]string, len(prepared))
	for i, p := range prepared {
		ids[i] = p.ID
	}
	idx.logger.Info("passages indexed",
		zap.String("client_id", client.ID),
		zap.String("collection", collection),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}
