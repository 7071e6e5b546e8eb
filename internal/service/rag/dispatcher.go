package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"agentrag/internal/models"
)

const (
	documentSeparator = "\n\n"
	noDocumentsNotice = "No matching documents were found."
)

// ToolCallResponse is the outcome of one tool call. Content is what the model
// sees; Documents holds the structured evidence of retrieval calls.
type ToolCallResponse struct {
	ToolCallID string
	Name       string
	Content    string
	Documents  []*models.Document
	Err        error
}

// Message renders the response as a tool-role history message.
func (r *ToolCallResponse) Message() *schema.Message {
	return &schema.Message{
		Role:       schema.Tool,
		Content:    r.Content,
		ToolCallID: r.ToolCallID,
		ToolName:   r.Name,
	}
}

// Dispatcher executes the tool calls of one model turn.
type Dispatcher struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher. A positive timeout bounds each tool call.
func NewDispatcher(timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{timeout: timeout, logger: logger}
}

// Execute runs calls against catalog and returns one response per call, index
// aligned with calls, plus the documents of all retrieval calls in call order.
// Individual failures become error payloads; an error is returned only when ctx ends.
func (d *Dispatcher) Execute(ctx context.Context, calls []schema.ToolCall, catalog *Catalog, parallel bool) ([]*ToolCallResponse, []*models.Document, error) {
	responses := make([]*ToolCallResponse, len(calls))

	if parallel && len(calls) > 1 {
		var wg sync.WaitGroup
		for i := range calls {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				responses[i] = d.run(ctx, calls[i], catalog)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range calls {
			if err := ctx.Err(); err != nil {
				return nil, nil, fmt.Errorf("%w: %w", ErrCanceled, err)
			}
			responses[i] = d.run(ctx, calls[i], catalog)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCanceled, err)
	}

	var evidence []*models.Document
	for _, r := range responses {
		evidence = append(evidence, r.Documents...)
	}
	return responses, evidence, nil
}

func (d *Dispatcher) run(ctx context.Context, call schema.ToolCall, catalog *Catalog) (resp *ToolCallResponse) {
	name := call.Function.Name
	resp = &ToolCallResponse{ToolCallID: call.ID, Name: name}

	defer func() {
		if r := recover(); r != nil {
			resp.Documents = nil
			resp.Err = fmt.Errorf("panic: %v", r)
			resp.Content = failurePayload(name, resp.Err)
			d.logger.Error("tool panicked", zap.String("tool", name), zap.String("tool_call_id", call.ID), zap.Any("panic", r))
		}
	}()

	t, ok := catalog.Lookup(name)
	if !ok {
		resp.Err = fmt.Errorf("unknown tool %q", name)
		resp.Content = failurePayload(name, resp.Err)
		d.logger.Warn("model requested unknown tool", zap.String("tool", name), zap.String("tool_call_id", call.ID))
		return resp
	}

	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	switch t.Kind {
	case ToolKindRetrieval:
		docs, err := t.retrieve(callCtx, call.Function.Arguments)
		if err != nil {
			resp.Err = err
			break
		}
		resp.Documents = docs
		resp.Content = flattenDocuments(docs)
	default:
		out, err := t.invoke.InvokableRun(callCtx, call.Function.Arguments)
		if err != nil {
			resp.Err = err
			break
		}
		resp.Content = out
	}

	if resp.Err != nil {
		resp.Content = failurePayload(name, resp.Err)
		d.logger.Warn("tool call failed",
			zap.String("tool", name),
			zap.String("tool_call_id", call.ID),
			zap.Error(resp.Err),
		)
	}
	return resp
}

func flattenDocuments(docs []*models.Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc != nil {
			parts = append(parts, doc.Content)
		}
	}
	if len(parts) == 0 {
		return noDocumentsNotice
	}
	return strings.Join(parts, documentSeparator)
}

func failurePayload(name string, err error) string {
	return fmt.Sprintf("Tool %s failed: %v", name, err)
}
