// Package rag implements the agentic retrieval loop: it alternates language
// model turns with tool dispatch, accumulates retrieved evidence and returns a
// grounded answer with citations.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentrag/internal/config"
	"agentrag/internal/models"
)

// State is a step of the orchestration state machine.
type State string

const (
	StateIterate          State = "ITERATE"
	StateAwaitModel       State = "AWAIT_MODEL"
	StateDispatchTools    State = "DISPATCH_TOOLS"
	StateTerminateNoTools State = "TERMINATE_NO_TOOLS"
	StateTerminateMaxIter State = "TERMINATE_MAX_ITER"
	StateTerminateError   State = "TERMINATE_ERROR"
)

// MaxIterationsLimit bounds per-request overrides of the iteration cap.
const MaxIterationsLimit = 10

// Completion is one language-model turn.
type Completion struct {
	Text      string
	ToolCalls []schema.ToolCall
}

// ChatCompleter performs a single language-model turn.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, cfg models.LLMConfig, messages []*schema.Message, tools []*schema.ToolInfo) (*Completion, error)
}

// Options are the server-side defaults of a run. Request values override them when set.
type Options struct {
	MaxIterations         int
	ParallelToolCalls     bool
	ToolTimeout           time.Duration
	ModelTimeout          time.Duration
	FinalTurnWithoutTools bool
	DeduplicateCitations  bool
}

// OptionsFromConfig maps the rag config section to orchestrator options.
func OptionsFromConfig(cfg config.RagConfig) Options {
	return Options{
		MaxIterations:         cfg.MaxIterations,
		ParallelToolCalls:     cfg.ParallelToolCalls,
		ToolTimeout:           time.Duration(cfg.ToolTimeout) * time.Second,
		ModelTimeout:          time.Duration(cfg.ModelTimeout) * time.Second,
		FinalTurnWithoutTools: cfg.FinalTurnWithoutTools,
		DeduplicateCitations:  cfg.DeduplicateCitations,
	}
}

type Orchestrator struct {
	chat       ChatCompleter
	tools      CatalogBuilder
	dispatcher *Dispatcher
	opts       Options
	logger     *zap.Logger
}

func NewOrchestrator(chat ChatCompleter, tools CatalogBuilder, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = config.DefaultMaxIterations
	}
	return &Orchestrator{
		chat:       chat,
		tools:      tools,
		dispatcher: NewDispatcher(opts.ToolTimeout, logger),
		opts:       opts,
		logger:     logger,
	}
}

type runSettings struct {
	maxIterations         int
	parallel              bool
	finalTurnWithoutTools bool
	dedup                 bool
}

func (o *Orchestrator) settings(cfg *models.RagConfig) runSettings {
	s := runSettings{
		maxIterations:         o.opts.MaxIterations,
		parallel:              o.opts.ParallelToolCalls,
		finalTurnWithoutTools: o.opts.FinalTurnWithoutTools,
		dedup:                 o.opts.DeduplicateCitations,
	}
	if cfg.MaxIterations > 0 {
		s.maxIterations = min(cfg.MaxIterations, MaxIterationsLimit)
	}
	if cfg.ParallelToolCalls != nil {
		s.parallel = *cfg.ParallelToolCalls
	}
	if cfg.FinalTurnWithoutTools != nil {
		s.finalTurnWithoutTools = *cfg.FinalTurnWithoutTools
	}
	if cfg.DeduplicateCitations != nil {
		s.dedup = *cfg.DeduplicateCitations
	}
	return s
}

// GenerateResponse runs the bounded retrieval loop for one question. The
// returned response is never nil; on error it carries flag 2 and no answer.
func (o *Orchestrator) GenerateResponse(ctx context.Context, messages []*models.Message, client models.Client, cfg *models.RagConfig) (*models.RagResponse, error) {
	runID := RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
	}
	log := o.logger.With(zap.String("run_id", runID), zap.String("client_id", client.ID))

	if cfg == nil {
		cfg = &models.RagConfig{}
	}
	if err := models.ValidateMessages(messages); err != nil {
		return o.fail(log, runID, 0, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}
	if err := client.Validate(); err != nil {
		return o.fail(log, runID, 0, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}
	ctx = ContextWithClient(ctx, client)
	s := o.settings(cfg)

	catalog, err := o.tools.BuildTools(ctx, client, cfg)
	if err != nil {
		if !errors.Is(err, ErrToolCatalog) {
			err = fmt.Errorf("%w: %w", ErrToolCatalog, err)
		}
		return o.fail(log, runID, 0, err)
	}

	history := ToSchemaMessages(messages)
	var (
		text       string
		evidence   []*models.Document
		iterations int
		state      = StateTerminateMaxIter
	)

	for i := 0; i < s.maxIterations; i++ {
		log.Debug("state", zap.Int("iteration", i), zap.String("state", string(StateIterate)))

		infos := catalog.Infos()
		withheld := s.finalTurnWithoutTools && i == s.maxIterations-1
		if withheld {
			infos = nil
		}

		log.Debug("state", zap.Int("iteration", i), zap.String("state", string(StateAwaitModel)), zap.Int("tools", len(infos)))
		completion, err := o.complete(ctx, cfg.LLMConfig, history, infos)
		iterations++
		if err != nil {
			return o.fail(log, runID, iterations, err)
		}
		text = completion.Text

		if len(completion.ToolCalls) == 0 {
			state = StateTerminateNoTools
			break
		}
		if withheld {
			// no tools were offered on this turn, so its calls are not run
			log.Warn("dropping tool calls on a turn without tools", zap.Int("tool_calls", len(completion.ToolCalls)))
			state = StateTerminateNoTools
			break
		}

		log.Debug("state", zap.Int("iteration", i), zap.String("state", string(StateDispatchTools)), zap.Int("tool_calls", len(completion.ToolCalls)))
		responses, docs, err := o.dispatcher.Execute(ctx, completion.ToolCalls, catalog, s.parallel)
		if err != nil {
			return o.fail(log, runID, iterations, err)
		}
		history = append(history, schema.AssistantMessage(text, completion.ToolCalls))
		for _, r := range responses {
			history = append(history, r.Message())
		}
		evidence = append(evidence, docs...)
	}

	resp := &models.RagResponse{
		Answer:     text,
		Citations:  BuildCitations(evidence, s.dedup),
		Flag:       models.FlagSuccess,
		StopReason: models.StopMaxIterations,
		Iterations: iterations,
		RunID:      runID,
	}
	if state == StateTerminateNoTools {
		resp.StopReason = models.StopNoToolCalls
		if strings.TrimSpace(text) == "" {
			resp.Flag = models.FlagNoAnswer
		}
	}
	log.Info("generation finished",
		zap.String("state", string(state)),
		zap.Int("iterations", iterations),
		zap.Int("documents", len(evidence)),
		zap.Int("flag", int(resp.Flag)),
	)
	return resp, nil
}

// Result is the outcome delivered by GenerateResponseAsync.
type Result struct {
	Response *models.RagResponse
	Err      error
}

// GenerateResponseAsync runs GenerateResponse in a goroutine. The channel
// receives exactly one Result and is then closed.
func (o *Orchestrator) GenerateResponseAsync(ctx context.Context, messages []*models.Message, client models.Client, cfg *models.RagConfig) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		resp, err := o.GenerateResponse(ctx, messages, client, cfg)
		out <- Result{Response: resp, Err: err}
	}()
	return out
}

func (o *Orchestrator) complete(ctx context.Context, cfg models.LLMConfig, history []*schema.Message, tools []*schema.ToolInfo) (*Completion, error) {
	if o.opts.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.ModelTimeout)
		defer cancel()
	}
	completion, err := o.chat.ChatCompletion(ctx, cfg, history, tools)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelCall, err)
	}
	if completion == nil {
		return nil, fmt.Errorf("%w: empty completion", ErrModelCall)
	}
	return completion, nil
}

func (o *Orchestrator) fail(log *zap.Logger, runID string, iterations int, err error) (*models.RagResponse, error) {
	log.Error("generation failed",
		zap.String("state", string(StateTerminateError)),
		zap.Int("iterations", iterations),
		zap.Error(err),
	)
	return models.ErrorResponse(runID, iterations), err
}
