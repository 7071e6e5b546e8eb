package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"

	"agentrag/internal/models"
)

type scriptedChat struct {
	mu      sync.Mutex
	turns   []*Completion
	err     error
	errAt   int
	calls   int
	tools   [][]*schema.ToolInfo
	history [][]*schema.Message
}

func (s *scriptedChat) ChatCompletion(ctx context.Context, cfg models.LLMConfig, messages []*schema.Message, tools []*schema.ToolInfo) (*Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	s.tools = append(s.tools, tools)
	s.history = append(s.history, append([]*schema.Message(nil), messages...))
	if s.err != nil && idx == s.errAt {
		return nil, s.err
	}
	if idx < len(s.turns) {
		return s.turns[idx], nil
	}
	return s.turns[len(s.turns)-1], nil
}

func toolCall(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}}
}

type staticCatalog struct {
	tools []*Tool
	err   error
}

func (s *staticCatalog) BuildTools(ctx context.Context, client models.Client, cfg *models.RagConfig) (*Catalog, error) {
	if s.err != nil {
		return nil, s.err
	}
	return NewCatalog(s.tools...)
}

func searchTool(name string, fn RetrieveFunc) *Tool {
	return NewRetrievalTool(searchToolInfo(name, "test search", 5), fn)
}

func docs(prefix string, n int) []*models.Document {
	out := make([]*models.Document, n)
	for i := range out {
		out[i] = &models.Document{
			ID:         fmt.Sprintf("%s-%d", prefix, i),
			Content:    fmt.Sprintf("%s passage %d", prefix, i),
			FileName:   prefix + ".pdf",
			FilePath:   "/docs/" + prefix + ".pdf",
			PageNumber: i + 1,
		}
	}
	return out
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len(t))}
	}
	return out, nil
}

type fakeRetriever struct {
	mu         sync.Mutex
	docs       []*models.Document
	lastClient string
	lastColl   string
	lastTopK   int
}

func (f *fakeRetriever) Search(ctx context.Context, clientID, collection string, vector []float64, topK int) ([]*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastClient, f.lastColl, f.lastTopK = clientID, collection, topK
	if len(vector) == 0 {
		return nil, errors.New("empty vector")
	}
	return f.docs, nil
}

type fakeKeyword struct {
	docs     []*models.Document
	lastColl string
}

func (f *fakeKeyword) Search(ctx context.Context, clientID, collection, query string, topK int) ([]*models.Document, error) {
	f.lastColl = collection
	return f.docs, nil
}

var testClient = models.Client{ID: "acme"}

func userMessages(q string) []*models.Message {
	return []*models.Message{{Role: models.RoleUser, Content: q}}
}
