package indexer

import (
	"context"
	"errors"
	"testing"

	"agentrag/internal/embedding"
	"agentrag/internal/keyword"
	"agentrag/internal/models"
	"agentrag/internal/vector"
)

func TestAddPassagesWritesBothStores(t *testing.T) {
	ctx := context.Background()
	store := vector.NewMemoryStore()
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer kw.Close()

	idx := NewIndexer(embedding.NewHashEmbedder(64), store, kw, nil)
	idx.batchSize = 2
	client := models.Client{ID: "acme", Collection: "manuals"}

	ids, err := idx.AddPassages(ctx, client, []*models.Passage{
		{ID: "fixed", Content: "pump pressure limits"},
		{Content: "valve inspection schedule"},
		{Content: "pipe corrosion"},
	})
	if err != nil {
		t.Fatalf("AddPassages error: %v", err)
	}
	if len(ids) != 3 || ids[0] != "fixed" || ids[1] == "" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	n, _ := store.Count(ctx, "acme", "manuals")
	if n != 3 {
		t.Fatalf("expected 3 stored passages, got %d", n)
	}
	hits, err := kw.Search(ctx, "acme", "manuals", "corrosion", 5)
	if err != nil || len(hits) != 1 || hits[0].ID != ids[2] {
		t.Fatalf("keyword index not updated: %+v %v", hits, err)
	}
}

func TestAddPassagesValidation(t *testing.T) {
	idx := NewIndexer(embedding.NewHashEmbedder(8), vector.NewMemoryStore(), nil, nil)
	ctx := context.Background()
	if _, err := idx.AddPassages(ctx, models.Client{}, []*models.Passage{{Content: "x"}}); !errors.Is(err, ErrInvalidPassages) {
		t.Fatalf("expected ErrInvalidPassages for missing client, got %v", err)
	}
	if _, err := idx.AddPassages(ctx, models.Client{ID: "acme"}, nil); !errors.Is(err, ErrInvalidPassages) {
		t.Fatalf("expected ErrInvalidPassages for no passages, got %v", err)
	}
	if _, err := idx.AddPassages(ctx, models.Client{ID: "acme"}, []*models.Passage{{Content: "  "}}); !errors.Is(err, ErrInvalidPassages) {
		t.Fatalf("expected ErrInvalidPassages for blank passage, got %v", err)
	}
}
