package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"agentrag/internal/models"
)

type echoParams struct {
	Text string `json:"text"`
}

func echoTool(t *testing.T) *Tool {
	t.Helper()
	info := &schema.ToolInfo{
		Name: "echo",
		Desc: "echo text",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"text": {Type: schema.String, Required: true},
		}),
	}
	generic, err := NewGenericTool(context.Background(), utils.NewTool(info, func(ctx context.Context, p *echoParams) (string, error) {
		return "echo: " + p.Text, nil
	}))
	if err != nil {
		t.Fatalf("NewGenericTool error: %v", err)
	}
	return generic
}

func TestDispatcherResponsesAreIndexAligned(t *testing.T) {
	slow := searchTool("slow", func(ctx context.Context, args string) ([]*models.Document, error) {
		time.Sleep(30 * time.Millisecond)
		return docs("slow", 1), nil
	})
	fast := searchTool("fast", func(ctx context.Context, args string) ([]*models.Document, error) {
		return docs("fast", 2), nil
	})
	broken := searchTool("broken", func(ctx context.Context, args string) ([]*models.Document, error) {
		return nil, errors.New("boom")
	})
	catalog, err := NewCatalog(slow, fast, broken, echoTool(t))
	if err != nil {
		t.Fatalf("NewCatalog error: %v", err)
	}
	calls := []schema.ToolCall{
		toolCall("1", "slow", `{"query":"q"}`),
		toolCall("2", "broken", `{"query":"q"}`),
		toolCall("3", "missing", `{}`),
		toolCall("4", "echo", `{"text":"hi"}`),
		toolCall("5", "fast", `{"query":"q"}`),
	}

	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			d := NewDispatcher(0, nil)
			responses, evidence, err := d.Execute(context.Background(), calls, catalog, parallel)
			if err != nil {
				t.Fatalf("Execute error: %v", err)
			}
			if len(responses) != len(calls) {
				t.Fatalf("expected %d responses, got %d", len(calls), len(responses))
			}
			for i, r := range responses {
				if r.ToolCallID != calls[i].ID {
					t.Fatalf("response %d has id %s, want %s", i, r.ToolCallID, calls[i].ID)
				}
			}
			if responses[0].Content != "slow passage 0" {
				t.Fatalf("unexpected slow content %q", responses[0].Content)
			}
			if responses[1].Err == nil || !strings.Contains(responses[1].Content, "boom") {
				t.Fatalf("expected error payload, got %q", responses[1].Content)
			}
			if !strings.Contains(responses[2].Content, "unknown tool") {
				t.Fatalf("expected unknown tool payload, got %q", responses[2].Content)
			}
			if responses[3].Content != "echo: hi" || responses[3].Documents != nil {
				t.Fatalf("generic tool output should pass through: %+v", responses[3])
			}
			if len(evidence) != 3 || evidence[0].ID != "slow-0" || evidence[1].ID != "fast-0" {
				t.Fatalf("evidence not in call order: %+v", evidence)
			}
		})
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	panicky := searchTool("panicky", func(ctx context.Context, args string) ([]*models.Document, error) {
		panic("nil map")
	})
	catalog, _ := NewCatalog(panicky)
	responses, _, err := NewDispatcher(0, nil).Execute(context.Background(),
		[]schema.ToolCall{toolCall("1", "panicky", `{}`)}, catalog, true)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if responses[0].Err == nil || !strings.Contains(responses[0].Content, "panic") {
		t.Fatalf("panic not converted to payload: %+v", responses[0])
	}
}

func TestDispatcherToolTimeout(t *testing.T) {
	stuck := searchTool("stuck", func(ctx context.Context, args string) ([]*models.Document, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	catalog, _ := NewCatalog(stuck)
	responses, _, err := NewDispatcher(10*time.Millisecond, nil).Execute(context.Background(),
		[]schema.ToolCall{toolCall("1", "stuck", `{}`)}, catalog, false)
	if err != nil {
		t.Fatalf("a tool timeout must stay local, got %v", err)
	}
	if !errors.Is(responses[0].Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", responses[0].Err)
	}
}

func TestDispatcherCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	catalog, _ := NewCatalog()
	_, _, err := NewDispatcher(0, nil).Execute(ctx, []schema.ToolCall{toolCall("1", "x", `{}`)}, catalog, false)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}

func TestFlattenDocumentsEmpty(t *testing.T) {
	if got := flattenDocuments(nil); got != noDocumentsNotice {
		t.Fatalf("unexpected empty flatten: %q", got)
	}
}
