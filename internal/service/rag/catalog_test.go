package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/embedding"

	"agentrag/internal/models"
)

func TestBuildRetrievalToolsNaming(t *testing.T) {
	tests := []struct {
		name        string
		collections []string
		want        []string
	}{
		{"default collection", nil, []string{"search_documents"}},
		{"single collection", []string{"manuals"}, []string{"search_documents"}},
		{"several collections", []string{"manuals", "contracts"}, []string{"search_manuals", "search_contracts"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog, err := BuildRetrievalTools(&fakeEmbedder{}, &fakeRetriever{}, testClient,
				&models.RagConfig{Retrieval: models.RetrievalConfig{Collections: tt.collections}})
			if err != nil {
				t.Fatalf("BuildRetrievalTools error: %v", err)
			}
			infos := catalog.Infos()
			if len(infos) != len(tt.want) {
				t.Fatalf("expected %d tools, got %d", len(tt.want), len(infos))
			}
			for i, info := range infos {
				if info.Name != tt.want[i] {
					t.Fatalf("tool %d named %s, want %s", i, info.Name, tt.want[i])
				}
			}
		})
	}
}

func TestBuildRetrievalToolsErrors(t *testing.T) {
	tests := []struct {
		name      string
		embedder  embedding.Embedder
		retriever Retriever
		client    models.Client
		cfg       *models.RagConfig
	}{
		{"missing client", &fakeEmbedder{}, &fakeRetriever{}, models.Client{}, nil},
		{"missing embedder", nil, &fakeRetriever{}, testClient, nil},
		{"bad collection", &fakeEmbedder{}, &fakeRetriever{}, testClient,
			&models.RagConfig{Retrieval: models.RetrievalConfig{Collections: []string{"../etc"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRetrievalTools(tt.embedder, tt.retriever, tt.client, tt.cfg)
			if !errors.Is(err, ErrToolCatalog) {
				t.Fatalf("expected ErrToolCatalog, got %v", err)
			}
		})
	}
}

func TestBuildToolsDisabledRetrieval(t *testing.T) {
	b := &ToolBuilder{}
	catalog, err := b.BuildTools(context.Background(), testClient,
		&models.RagConfig{Retrieval: models.RetrievalConfig{Disabled: true}})
	if err != nil {
		t.Fatalf("BuildTools error: %v", err)
	}
	if catalog.Len() != 0 {
		t.Fatalf("expected empty catalog, got %d tools", catalog.Len())
	}
}

func TestKeywordSearchAcrossCollections(t *testing.T) {
	kw := &fakeKeyword{docs: docs("k", 1)}
	b := &ToolBuilder{Embedder: &fakeEmbedder{}, Retriever: &fakeRetriever{}, Keyword: kw}
	catalog, err := b.BuildTools(context.Background(), models.Client{ID: "acme"}, &models.RagConfig{
		Retrieval: models.RetrievalConfig{KeywordSearch: true, Collections: []string{"manuals", "reports"}},
	})
	if err != nil {
		t.Fatalf("BuildTools error: %v", err)
	}
	search, ok := catalog.Lookup("keyword_search")
	if !ok {
		t.Fatalf("keyword tool missing")
	}
	if !strings.Contains(search.Info.Desc, `"manuals"`) {
		t.Fatalf("description should name the default collection: %q", search.Info.Desc)
	}

	tests := []struct {
		args    string
		want    string
		wantErr bool
	}{
		{args: `{"query":"P-101"}`, want: "manuals"},
		{args: `{"query":"P-101","collection":"reports"}`, want: "reports"},
		{args: `{"query":"P-101","collection":"secrets"}`, wantErr: true},
	}
	for _, tt := range tests {
		kw.lastColl = ""
		_, err := search.retrieve(context.Background(), tt.args)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.args)
			}
			continue
		}
		if err != nil || kw.lastColl != tt.want {
			t.Fatalf("%s: searched %q err=%v, want %q", tt.args, kw.lastColl, err, tt.want)
		}
	}
}

func TestBuildToolsKeywordAndGeneric(t *testing.T) {
	retriever := &fakeRetriever{docs: docs("v", 1)}
	b := &ToolBuilder{
		Embedder:    &fakeEmbedder{},
		Retriever:   retriever,
		Keyword:     &fakeKeyword{docs: docs("k", 1)},
		DefaultTopK: 4,
	}
	catalog, err := b.BuildTools(context.Background(), models.Client{ID: "acme", Collection: "manuals"},
		&models.RagConfig{Retrieval: models.RetrievalConfig{KeywordSearch: true}})
	if err != nil {
		t.Fatalf("BuildTools error: %v", err)
	}
	if catalog.Len() != 2 {
		t.Fatalf("expected vector and keyword tools, got %d", catalog.Len())
	}
	if _, ok := catalog.Lookup("keyword_search"); !ok {
		t.Fatalf("keyword tool missing")
	}

	search, _ := catalog.Lookup("search_documents")
	got, err := search.retrieve(context.Background(), `{"query":"pump","top_k":50}`)
	if err != nil || len(got) != 1 {
		t.Fatalf("retrieve: docs=%v err=%v", got, err)
	}
	if retriever.lastClient != "acme" || retriever.lastColl != "manuals" || retriever.lastTopK != MaxTopK {
		t.Fatalf("retriever called with %s/%s top_k=%d", retriever.lastClient, retriever.lastColl, retriever.lastTopK)
	}
	if _, err := search.retrieve(context.Background(), `{"top_k":3}`); err == nil {
		t.Fatalf("expected error for missing query")
	}
	if _, err := search.retrieve(context.Background(), `{"query":"pump"}`); err != nil || retriever.lastTopK != 4 {
		t.Fatalf("default top_k not applied: %d err=%v", retriever.lastTopK, err)
	}
}

func TestBuildToolsAppendsExtra(t *testing.T) {
	b := &ToolBuilder{
		Embedder:  &fakeEmbedder{},
		Retriever: &fakeRetriever{},
		Extra:     []*Tool{searchTool("web_search", nil)},
	}
	catalog, err := b.BuildTools(context.Background(), models.Client{ID: "acme"}, nil)
	if err != nil {
		t.Fatalf("BuildTools error: %v", err)
	}
	infos := catalog.Infos()
	if len(infos) != 2 || infos[0].Name != "search_documents" || infos[1].Name != "web_search" {
		t.Fatalf("unexpected catalog order: %+v", infos)
	}

	b.Extra = append(b.Extra, searchTool("search_documents", nil))
	if _, err := b.BuildTools(context.Background(), models.Client{ID: "acme"}, nil); !errors.Is(err, ErrToolCatalog) {
		t.Fatalf("extra tool clashing with a search tool should be rejected, got %v", err)
	}
}

func TestVectorSearchMinScore(t *testing.T) {
	found := docs("v", 3)
	found[0].Score, found[1].Score, found[2].Score = 0.9, 0.2, 0.6
	vs := &vectorSearch{embedder: &fakeEmbedder{}, retriever: &fakeRetriever{docs: found}, clientID: "acme", collection: "documents", topK: 3, minScore: 0.5}
	got, err := vs.run(context.Background(), `{"query":"q"}`)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "v-0" || got[1].ID != "v-2" {
		t.Fatalf("unexpected filtered docs: %+v", got)
	}
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	a := searchTool("dup", nil)
	b := searchTool("dup", nil)
	if _, err := NewCatalog(a, b); !errors.Is(err, ErrToolCatalog) {
		t.Fatalf("expected ErrToolCatalog, got %v", err)
	}
}
