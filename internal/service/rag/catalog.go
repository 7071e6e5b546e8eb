package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"agentrag/internal/models"
)

// ToolKind tags how the dispatcher interprets a tool's output.
type ToolKind int

const (
	// ToolKindGeneric tools return plain text that is passed to the model unchanged.
	ToolKindGeneric ToolKind = iota
	// ToolKindRetrieval tools return documents that are flattened for the model and kept as evidence.
	ToolKindRetrieval
)

func (k ToolKind) String() string {
	switch k {
	case ToolKindRetrieval:
		return "retrieval"
	case ToolKindGeneric:
		return "generic"
	}
	return fmt.Sprintf("ToolKind(%d)", int(k))
}

const (
	MaxTopK = 20

	singleCollectionToolName = "search_documents"
	keywordToolName          = "keyword_search"
)

// RetrieveFunc runs a retrieval tool with the raw JSON arguments produced by the model.
type RetrieveFunc func(ctx context.Context, arguments string) ([]*models.Document, error)

// Tool is one entry of a run's catalog.
type Tool struct {
	Kind     ToolKind
	Info     *schema.ToolInfo
	invoke   tool.InvokableTool
	retrieve RetrieveFunc
}

func (t *Tool) Name() string {
	return t.Info.Name
}

// NewRetrievalTool wraps fn as a retrieval tool described by info.
func NewRetrievalTool(info *schema.ToolInfo, fn RetrieveFunc) *Tool {
	return &Tool{Kind: ToolKindRetrieval, Info: info, retrieve: fn}
}

// NewGenericTool wraps an eino tool whose text output is returned to the model as is.
func NewGenericTool(ctx context.Context, t tool.InvokableTool) (*Tool, error) {
	info, err := t.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("read tool info: %w", err)
	}
	if info == nil || info.Name == "" {
		return nil, errors.New("tool info has no name")
	}
	return &Tool{Kind: ToolKindGeneric, Info: info, invoke: t}, nil
}

// Catalog is the ordered, immutable set of tools offered to the model during one run.
type Catalog struct {
	tools  []*Tool
	byName map[string]*Tool
}

// NewCatalog builds a catalog, rejecting duplicate or unnamed tools.
func NewCatalog(tools ...*Tool) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if t == nil || t.Info == nil || t.Info.Name == "" {
			return nil, fmt.Errorf("%w: tool without a name", ErrToolCatalog)
		}
		if _, dup := c.byName[t.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate tool name %q", ErrToolCatalog, t.Name())
		}
		c.byName[t.Name()] = t
		c.tools = append(c.tools, t)
	}
	return c, nil
}

// Infos returns the tool descriptors in catalog order.
func (c *Catalog) Infos() []*schema.ToolInfo {
	if c == nil {
		return nil
	}
	infos := make([]*schema.ToolInfo, 0, len(c.tools))
	for _, t := range c.tools {
		infos = append(infos, t.Info)
	}
	return infos
}

func (c *Catalog) Lookup(name string) (*Tool, bool) {
	if c == nil {
		return nil, false
	}
	t, ok := c.byName[name]
	return t, ok
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tools)
}

// Retriever searches stored passages by embedding similarity.
type Retriever interface {
	Search(ctx context.Context, clientID, collection string, vector []float64, topK int) ([]*models.Document, error)
}

// KeywordSearcher searches stored passages by full-text match.
type KeywordSearcher interface {
	Search(ctx context.Context, clientID, collection, query string, topK int) ([]*models.Document, error)
}

// CatalogBuilder produces the tool catalog for one run.
type CatalogBuilder interface {
	BuildTools(ctx context.Context, client models.Client, cfg *models.RagConfig) (*Catalog, error)
}

// ToolBuilder binds the retrieval capabilities and optional generic tools into per-run catalogs.
type ToolBuilder struct {
	Embedder    embedding.Embedder
	Retriever   Retriever
	Keyword     KeywordSearcher
	Generic     []tool.InvokableTool
	Extra       []*Tool // prebuilt tools shared by every run, appended last
	DefaultTopK int
}

var _ CatalogBuilder = (*ToolBuilder)(nil)

// BuildTools returns the retrieval tools for client followed by the generic and extra tools.
func (b *ToolBuilder) BuildTools(ctx context.Context, client models.Client, cfg *models.RagConfig) (*Catalog, error) {
	if cfg == nil {
		cfg = &models.RagConfig{}
	}
	tools, err := retrievalTools(b.Embedder, b.Retriever, client, cfg.Retrieval, b.DefaultTopK)
	if err != nil {
		return nil, err
	}
	if !cfg.Retrieval.Disabled && cfg.Retrieval.KeywordSearch && b.Keyword != nil {
		tools = append(tools, keywordTool(b.Keyword, client, cfg.Retrieval, b.DefaultTopK))
	}
	for _, g := range b.Generic {
		t, err := NewGenericTool(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrToolCatalog, err)
		}
		tools = append(tools, t)
	}
	tools = append(tools, b.Extra...)
	return NewCatalog(tools...)
}

// BuildRetrievalTools returns a catalog holding only the vector retrieval tools for client.
func BuildRetrievalTools(embedder embedding.Embedder, retriever Retriever, client models.Client, cfg *models.RagConfig) (*Catalog, error) {
	if cfg == nil {
		cfg = &models.RagConfig{}
	}
	tools, err := retrievalTools(embedder, retriever, client, cfg.Retrieval, 0)
	if err != nil {
		return nil, err
	}
	return NewCatalog(tools...)
}

func retrievalTools(embedder embedding.Embedder, retriever Retriever, client models.Client, rc models.RetrievalConfig, defaultTopK int) ([]*Tool, error) {
	if err := client.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolCatalog, err)
	}
	if rc.Disabled {
		return nil, nil
	}
	if embedder == nil || retriever == nil {
		return nil, fmt.Errorf("%w: retrieval requires an embedder and a retriever", ErrToolCatalog)
	}
	collections := rc.Collections
	if len(collections) == 0 {
		collections = []string{client.CollectionOrDefault()}
	}
	topK := resolveTopK(rc.TopK, defaultTopK)

	tools := make([]*Tool, 0, len(collections))
	for _, collection := range collections {
		if !models.ValidCollection(collection) {
			return nil, fmt.Errorf("%w: invalid collection name %q", ErrToolCatalog, collection)
		}
		name := singleCollectionToolName
		if len(collections) > 1 {
			name = "search_" + collection
		}
		vs := &vectorSearch{
			embedder:   embedder,
			retriever:  retriever,
			clientID:   client.ID,
			collection: collection,
			topK:       topK,
			minScore:   rc.MinScore,
		}
		tools = append(tools, NewRetrievalTool(searchToolInfo(name, fmt.Sprintf(
			"Search the %q document collection by meaning. Returns the passages most relevant to the query.", collection),
			topK), vs.run))
	}
	return tools, nil
}

func keywordTool(searcher KeywordSearcher, client models.Client, rc models.RetrievalConfig, defaultTopK int) *Tool {
	topK := resolveTopK(rc.TopK, defaultTopK)
	collections := rc.Collections
	if len(collections) == 0 {
		collections = []string{client.CollectionOrDefault()}
	}
	info := searchToolInfo(keywordToolName, fmt.Sprintf(
		"Search the documents for exact words or phrases such as names, codes or identifiers. Searches the %q collection unless another is given.",
		collections[0]), topK)
	if len(collections) > 1 {
		info.ParamsOneOf = schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": searchQueryParam,
			"top_k": topKParam(topK),
			"collection": {
				Desc:     "Collection to search.",
				Type:     schema.String,
				Enum:     collections,
				Required: false,
			},
		})
	}
	return NewRetrievalTool(info, func(ctx context.Context, arguments string) ([]*models.Document, error) {
		params, err := parseSearchParams(arguments, topK)
		if err != nil {
			return nil, err
		}
		collection := collections[0]
		if params.Collection != "" {
			if !slices.Contains(collections, params.Collection) {
				return nil, fmt.Errorf("unknown collection %q", params.Collection)
			}
			collection = params.Collection
		}
		return searcher.Search(ctx, client.ID, collection, params.Query, params.TopK)
	})
}

var searchQueryParam = &schema.ParameterInfo{
	Desc:     "What to search for, phrased as a question or keywords.",
	Type:     schema.String,
	Required: true,
}

func topKParam(topK int) *schema.ParameterInfo {
	return &schema.ParameterInfo{
		Desc:     fmt.Sprintf("Number of passages to return (1-%d, default %d).", MaxTopK, topK),
		Type:     schema.Integer,
		Required: false,
	}
}

func searchToolInfo(name, desc string, topK int) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: name,
		Desc: desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": searchQueryParam,
			"top_k": topKParam(topK),
		}),
	}
}

type searchParams struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k,omitempty"`
	Collection string `json:"collection,omitempty"`
}

func parseSearchParams(arguments string, defaultTopK int) (*searchParams, error) {
	var params searchParams
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &params); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	params.Query = strings.TrimSpace(params.Query)
	if params.Query == "" {
		return nil, errors.New("query must not be empty")
	}
	params.TopK = resolveTopK(params.TopK, defaultTopK)
	return &params, nil
}

func resolveTopK(requested, fallback int) int {
	k := requested
	if k <= 0 {
		k = fallback
	}
	if k <= 0 {
		k = 5
	}
	if k > MaxTopK {
		k = MaxTopK
	}
	return k
}

type vectorSearch struct {
	embedder   embedding.Embedder
	retriever  Retriever
	clientID   string
	collection string
	topK       int
	minScore   float64
}

func (v *vectorSearch) run(ctx context.Context, arguments string) ([]*models.Document, error) {
	params, err := parseSearchParams(arguments, v.topK)
	if err != nil {
		return nil, err
	}
	vectors, err := v.embedder.EmbedStrings(ctx, []string{params.Query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("embed query: no vector returned")
	}
	docs, err := v.retriever.Search(ctx, v.clientID, v.collection, vectors[0], params.TopK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", v.collection, err)
	}
	if v.minScore <= 0 {
		return docs, nil
	}
	kept := docs[:0:0]
	for _, d := range docs {
		if d != nil && d.Score >= v.minScore {
			kept = append(kept, d)
		}
	}
	return kept, nil
}
