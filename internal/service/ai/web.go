package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"agentrag/internal/models"
	"agentrag/internal/service/rag"
)

const (
	webSearchToolName   = "web_search"
	webSearchMaxResults = 5
	webFetchTimeout     = 10 * time.Second
	webPageMaxBytes     = 512 * 1024
	webPageMaxRunes     = 4000
)

// webSearch turns search results and fetched pages into cited documents.
type webSearch struct {
	backends   []SearchBackend
	httpClient *http.Client
	logger     *zap.Logger
}

type webSearchParams struct {
	Query string `json:"query"`
}

// NewWebSearchTool returns the web_search retrieval tool over backends.
func NewWebSearchTool(backends []SearchBackend, logger *zap.Logger) *rag.Tool {
	if logger == nil {
		logger = zap.NewNop()
	}
	ws := &webSearch{
		backends:   backends,
		httpClient: &http.Client{Timeout: webFetchTimeout},
		logger:     logger,
	}
	info := &schema.ToolInfo{
		Name: webSearchToolName,
		Desc: "Search the web for information not found in the documents. " +
			"Accepts a natural language query, or a URL whose page should be read.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or an http(s) URL.",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return rag.NewRetrievalTool(info, ws.retrieve)
}

func (w *webSearch) retrieve(ctx context.Context, arguments string) ([]*models.Document, error) {
	var params webSearchParams
	if err := json.Unmarshal([]byte(arguments), &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}

	if looksLikeURL(query) {
		doc, err := w.fetchPage(ctx, query)
		if err == nil {
			return []*models.Document{doc}, nil
		}
		w.logger.Warn("web page fetch failed", zap.String("url", query), zap.Error(err))
	}

	payload, err := json.Marshal(webSearchParams{Query: query})
	if err != nil {
		return nil, fmt.Errorf("marshal search params: %w", err)
	}
	for _, b := range w.backends {
		raw, err := b.Tool.InvokableRun(ctx, string(payload))
		if err != nil {
			w.logger.Warn("web search backend failed", zap.String("backend", b.Name), zap.Error(err))
			continue
		}
		docs := parseSearchResults(raw, webSearchMaxResults)
		if len(docs) == 0 && strings.TrimSpace(raw) != "" {
			docs = []*models.Document{{
				ID:       b.Name + ":" + query,
				Content:  raw,
				FileName: b.Name + " results",
				FilePath: b.Name,
				Metadata: map[string]string{"source": "web", "query": query},
			}}
		}
		return docs, nil
	}
	return nil, errors.New("no search provider succeeded")
}

// fetchPage downloads an http(s) page and keeps its visible text.
func (w *webSearch) fetchPage(ctx context.Context, target string) (*models.Document, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("unsupported url scheme")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "agentrag-web-search/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch url: %s", resp.Status)
	}

	page, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, webPageMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	page.Find("script, style, noscript").Remove()
	title := strings.TrimSpace(page.Find("title").First().Text())
	text := collapseSpace(page.Find("body").Text())
	if text == "" {
		text = collapseSpace(page.Text())
	}
	if text == "" {
		return nil, errors.New("page has no readable text")
	}
	if title == "" {
		title = parsed.Host
	}
	return &models.Document{
		ID:       parsed.String(),
		Content:  truncateRunes(text, webPageMaxRunes),
		FileName: title,
		FilePath: parsed.String(),
		Metadata: map[string]string{"source": "web"},
	}, nil
}

// parseSearchResults extracts {title, url, snippet} objects from a provider's JSON output,
// whatever the enclosing shape.
func parseSearchResults(raw string, limit int) []*models.Document {
	if !gjson.Valid(raw) {
		return nil
	}
	var docs []*models.Document
	seen := make(map[string]bool)
	var walk func(r gjson.Result) bool
	walk = func(r gjson.Result) bool {
		if len(docs) >= limit {
			return false
		}
		if r.IsObject() {
			if doc := resultDocument(r); doc != nil {
				if !seen[doc.FilePath] {
					seen[doc.FilePath] = true
					docs = append(docs, doc)
				}
				return len(docs) < limit
			}
		}
		if r.IsObject() || r.IsArray() {
			r.ForEach(func(_, value gjson.Result) bool {
				return walk(value)
			})
		}
		return len(docs) < limit
	}
	walk(gjson.Parse(raw))
	return docs
}

func resultDocument(r gjson.Result) *models.Document {
	link := firstString(r, "url", "link", "href")
	if !looksLikeURL(link) {
		return nil
	}
	title := firstString(r, "title", "name")
	snippet := firstString(r, "summary", "snippet", "desc", "description", "content", "body")
	if title == "" && snippet == "" {
		return nil
	}
	content := snippet
	if content == "" {
		content = title
	}
	return &models.Document{
		ID:       link,
		Content:  content,
		FileName: title,
		FilePath: link,
		Metadata: map[string]string{"source": "web"},
	}
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
			return strings.TrimSpace(v.Str)
		}
	}
	return ""
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
