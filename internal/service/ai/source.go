package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"agentrag/internal/service/rag"
)

const (
	SourceChunkSizeDefault = 1000
	SourceChunkSizeMin     = 500
	SourceChunkSizeMax     = 2000
	SourceReadRateLimit    = 5
	SourceReadRateWindow   = time.Minute
)

// sourceReader lets the model read more of a cited file than the passage it was given.
type sourceReader struct {
	root    string
	loader  *file.FileLoader
	limiter *clientLimiter
	logger  *zap.Logger
}

type sourceReaderParams struct {
	Path       string `json:"path"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
	ChunkSize  int    `json:"chunk_size,omitempty"`
}

// NewSourceReader returns the read_source tool serving files under root.
func NewSourceReader(ctx context.Context, root string, logger *zap.Logger) (tool.InvokableTool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve source dir: %w", err)
	}
	st, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("source dir: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("source dir %s is not a directory", absRoot)
	}
	extParser, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      extParser,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	reader := &sourceReader{
		root:    absRoot,
		loader:  loader,
		limiter: newClientLimiter(SourceReadRateLimit, SourceReadRateWindow),
		logger:  logger,
	}
	info := &schema.ToolInfo{
		Name: "read_source",
		Desc: fmt.Sprintf("Read a cited source file in chunks. Pass the file_path of a citation; "+
			"limit %d calls per minute per client.", SourceReadRateLimit),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"path": {
				Desc:     "Path of the file relative to the source directory, or its cited file_path.",
				Type:     schema.String,
				Required: true,
			},
			"chunk_index": {
				Desc: "Zero-based chunk index to read, default 0.",
				Type: schema.Integer,
			},
			"chunk_size": {
				Desc: fmt.Sprintf("Characters per chunk (%d-%d, default %d).", SourceChunkSizeMin, SourceChunkSizeMax, SourceChunkSizeDefault),
				Type: schema.Integer,
			},
		}),
	}
	return utils.NewTool(info, reader.run), nil
}

func (t *sourceReader) run(ctx context.Context, params *sourceReaderParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Path) == "" {
		return "", errors.New("path is required")
	}
	target, err := t.resolve(params.Path)
	if err != nil {
		return "", err
	}
	key := "path:" + target
	if client, ok := rag.ClientFromContext(ctx); ok {
		key = "client:" + client.ID
	}
	if !t.limiter.allow(key) {
		return "", errors.New("read_source rate limit exceeded, please retry in a minute")
	}

	docs, err := t.loader.Load(ctx, document.Source{URI: target})
	if err != nil {
		return "", fmt.Errorf("load file: %w", err)
	}
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if content := strings.TrimSpace(doc.Content); content != "" {
			parts = append(parts, content)
		}
	}
	if len(parts) == 0 {
		return "", errors.New("file has no readable text content")
	}

	c := chunkOf(strings.Join(parts, "\n\n"), params.ChunkIndex, params.ChunkSize)
	t.logger.Debug("read_source", zap.String("path", target), zap.Int("chunk", c.index), zap.Int("chunks", c.total))
	return fmt.Sprintf("File: %s\nChunk %d/%d\n\n%s", filepath.Base(target), c.index+1, c.total, c.text), nil
}

// resolve maps a requested path into the root, rejecting anything outside it.
func (t *sourceReader) resolve(requested string) (string, error) {
	candidate := filepath.Clean(requested)
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(t.root, candidate)
	}
	rel, err := filepath.Rel(t.root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("path is outside the source directory")
	}
	st, err := os.Stat(candidate)
	if err != nil {
		return "", errors.New("file not found")
	}
	if st.IsDir() {
		return "", errors.New("path is a directory")
	}
	return candidate, nil
}

type chunk struct {
	text  string
	index int
	total int
}

// chunkOf returns one rune-based chunk of text. The size is clamped to the allowed range
// and the index to the last chunk.
func chunkOf(text string, index, size int) chunk {
	switch {
	case size <= 0:
		size = SourceChunkSizeDefault
	case size < SourceChunkSizeMin:
		size = SourceChunkSizeMin
	case size > SourceChunkSizeMax:
		size = SourceChunkSizeMax
	}
	runes := []rune(text)
	total := (len(runes) + size - 1) / size
	if total == 0 {
		return chunk{}
	}
	index = max(0, min(index, total-1))
	start := index * size
	end := min(start+size, len(runes))
	return chunk{text: string(runes[start:end]), index: index, total: total}
}

// clientLimiter allows limit calls per key in each fixed window.
type clientLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*callWindow
	now     func() time.Time
}

type callWindow struct {
	start time.Time
	calls int
}

func newClientLimiter(limit int, window time.Duration) *clientLimiter {
	return &clientLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*callWindow),
		now:     time.Now,
	}
}

func (l *clientLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[key] = &callWindow{start: now, calls: 1}
		return true
	}
	if w.calls >= l.limit {
		return false
	}
	w.calls++
	return true
}
