package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agentrag/internal/auth"
	"agentrag/internal/indexer"
	"agentrag/internal/models"
	"agentrag/internal/service/llm"
	"agentrag/internal/service/rag"
	"agentrag/internal/worker"
)

// Generator runs the retrieval loop for one request.
type Generator interface {
	GenerateResponse(ctx context.Context, messages []*models.Message, client models.Client, cfg *models.RagConfig) (*models.RagResponse, error)
	GenerateResponseAsync(ctx context.Context, messages []*models.Message, client models.Client, cfg *models.RagConfig) <-chan rag.Result
}

// TaskManager queues background generations.
type TaskManager interface {
	Submit(ctx context.Context, req models.GenerateRequest) (*models.Task, error)
	Task(ctx context.Context, id string) (*models.Task, error)
	Stats() worker.Stats
}

type PassageIndexer interface {
	AddPassages(ctx context.Context, client models.Client, passages []*models.Passage) ([]string, error)
}

type ProviderLister interface {
	Providers() []llm.ProviderInfo
}

// Handler wires HTTP routes to the generation core and its supporting services.
type Handler struct {
	generator Generator
	tasks     TaskManager
	indexer   PassageIndexer
	providers ProviderLister
	auth      *auth.Service
	logger    *zap.Logger
}

// NewHandler constructs a Handler. authService may be nil to serve without API keys.
func NewHandler(generator Generator, tasks TaskManager, idx PassageIndexer, providers ProviderLister, authService *auth.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		generator: generator,
		tasks:     tasks,
		indexer:   idx,
		providers: providers,
		auth:      authService,
		logger:    logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api/v1")
	if h.auth != nil {
		api.Use(h.auth.Middleware())
	}
	api.POST("/generate_response", h.generateResponse)
	api.POST("/generate_response_async", h.generateResponseAsync)
	api.POST("/generate_response_background", h.generateResponseBackground)
	api.GET("/tasks/:id", h.getTask)
	api.POST("/passages", h.addPassages)
	api.GET("/llm_configs", h.listLLMConfigs)
}

func (h *Handler) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.tasks != nil {
		body["background"] = h.tasks.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// authorizedClient checks the authenticated key belongs to the client named in the body.
func (h *Handler) authorizedClient(c *gin.Context, clientID string) bool {
	if h.auth == nil {
		return true
	}
	authID, ok := auth.ClientIDFromContext(c)
	if !ok || authID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return false
	}
	if authID != strings.TrimSpace(clientID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "client mismatch"})
		return false
	}
	return true
}

func (h *Handler) bindGenerateRequest(c *gin.Context) (*models.GenerateRequest, bool) {
	var req models.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err, ""))
		return nil, false
	}
	if !h.authorizedClient(c, req.Client.ID) {
		return nil, false
	}
	return &req, true
}

// errorBody keeps the RagResponse shape on failures so callers always see a flag.
type errorResponse struct {
	*models.RagResponse
	Error string `json:"error"`
}

func errorBody(err error, runID string) errorResponse {
	return errorResponse{RagResponse: models.ErrorResponse(runID, 0), Error: err.Error()}
}

func generationStatus(err error) int {
	switch {
	case errors.Is(err, rag.ErrInvalidRequest), errors.Is(err, rag.ErrToolCatalog):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrModelCall):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeGeneration(c *gin.Context, resp *models.RagResponse, err error) {
	if err != nil {
		if resp == nil {
			resp = models.ErrorResponse("", 0)
		}
		h.logger.Warn("generation failed",
			zap.String("run_id", resp.RunID),
			zap.Error(err),
		)
		c.JSON(generationStatus(err), errorResponse{RagResponse: resp, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) generateResponse(c *gin.Context) {
	req, ok := h.bindGenerateRequest(c)
	if !ok {
		return
	}
	resp, err := h.generator.GenerateResponse(c.Request.Context(), req.Messages, req.Client, &req.RagConfig)
	h.writeGeneration(c, resp, err)
}

func (h *Handler) generateResponseAsync(c *gin.Context) {
	req, ok := h.bindGenerateRequest(c)
	if !ok {
		return
	}
	select {
	case res := <-h.generator.GenerateResponseAsync(c.Request.Context(), req.Messages, req.Client, &req.RagConfig):
		h.writeGeneration(c, res.Response, res.Err)
	case <-c.Request.Context().Done():
		h.writeGeneration(c, nil, c.Request.Context().Err())
	}
}

func (h *Handler) generateResponseBackground(c *gin.Context) {
	req, ok := h.bindGenerateRequest(c)
	if !ok {
		return
	}
	task, err := h.tasks.Submit(c.Request.Context(), *req)
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrQueueFull):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
		case errors.Is(err, rag.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (h *Handler) getTask(c *gin.Context) {
	task, err := h.tasks.Task(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, worker.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h.auth != nil {
		// do not reveal other clients' tasks
		if authID, _ := auth.ClientIDFromContext(c); authID != task.ClientID {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
	}
	c.JSON(http.StatusOK, task)
}

type passagesRequest struct {
	Client   models.Client     `json:"client"`
	Passages []*models.Passage `json:"passages"`
}

func (h *Handler) addPassages(c *gin.Context) {
	var req passagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !h.authorizedClient(c, req.Client.ID) {
		return
	}
	if h.indexer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "indexing not configured"})
		return
	}
	ids, err := h.indexer.AddPassages(c.Request.Context(), req.Client, req.Passages)
	if err != nil {
		if errors.Is(err, indexer.ErrInvalidPassages) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("index passages", zap.String("client_id", req.Client.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"collection": req.Client.CollectionOrDefault(),
		"ids":        ids,
	})
}

func (h *Handler) listLLMConfigs(c *gin.Context) {
	list := make([]llm.ProviderInfo, 0)
	if h.providers != nil {
		list = append(list, h.providers.Providers()...)
	}
	c.JSON(http.StatusOK, gin.H{"llm_configs": list})
}
