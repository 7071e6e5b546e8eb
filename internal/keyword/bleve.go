// Package keyword provides the full-text passage index behind the keyword_search tool.
package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"agentrag/internal/models"
)

const titleBoost = 2.0

// BleveIndex is a Bleve index of passages partitioned by client and collection.
type BleveIndex struct {
	index bleve.Index
}

type indexedPassage struct {
	Namespace  string `json:"namespace"`
	PassageID  string `json:"passage_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	FilePath   string `json:"file_path"`
	PageNumber int    `json:"page_number"`
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// standard analyzer lowercases and tokenizes without stemming so identifiers match exactly
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("namespace", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("passage_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("file_path", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("page_number", bleve.NewNumericFieldMapping())

	im.AddDocumentMapping("passage", docMapping)
	im.DefaultType = "passage"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex opens or creates a Bleve index at path. An empty path keeps the index in memory.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := newMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func namespace(clientID, collection string) string {
	return clientID + "/" + collection
}

// Index adds or replaces passages in the client's collection.
func (b *BleveIndex) Index(ctx context.Context, clientID, collection string, passages []*models.Passage) error {
	ns := namespace(clientID, collection)
	batch := b.index.NewBatch()
	for _, p := range passages {
		if p == nil {
			continue
		}
		doc := indexedPassage{
			Namespace:  ns,
			PassageID:  p.ID,
			Title:      p.FileName,
			Content:    p.Content,
			FilePath:   p.FilePath,
			PageNumber: p.PageNumber,
		}
		if err := batch.Index(ns+"/"+p.ID, doc); err != nil {
			return fmt.Errorf("index passage %s: %w", p.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Search runs a match query over content and title inside one client collection.
func (b *BleveIndex) Search(ctx context.Context, clientID, collection, query string, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		return nil, nil
	}
	ns := bleve.NewTermQuery(namespace(clientID, collection))
	ns.SetField("namespace")

	content := bleve.NewMatchQuery(query)
	content.SetField("content")
	title := bleve.NewMatchQuery(query)
	title.SetField("title")
	title.SetBoost(titleBoost)

	q := bleve.NewConjunctionQuery(ns, bleve.NewDisjunctionQuery(content, title))
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"passage_id", "title", "content", "file_path", "page_number"}

	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*models.Document, 0, len(results.Hits))
	for _, hit := range results.Hits {
		out = append(out, &models.Document{
			ID:         stringField(hit.Fields, "passage_id"),
			Content:    stringField(hit.Fields, "content"),
			FileName:   stringField(hit.Fields, "title"),
			FilePath:   stringField(hit.Fields, "file_path"),
			PageNumber: intField(hit.Fields, "page_number"),
			Score:      hit.Score,
		})
	}
	return out, nil
}

// DocCount returns the number of indexed passages across all clients.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

func (b *BleveIndex) Close() error {
	return b.index.Close()
}

func stringField(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

func intField(fields map[string]interface{}, name string) int {
	if v, ok := fields[name].(float64); ok {
		return int(v)
	}
	return 0
}
