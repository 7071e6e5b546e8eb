package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentrag/internal/models"
	"agentrag/internal/service/rag"
)

const defaultTaskTTL = time.Hour

// Generator runs one generation to completion.
type Generator interface {
	GenerateResponse(ctx context.Context, messages []*models.Message, client models.Client, cfg *models.RagConfig) (*models.RagResponse, error)
}

type Options struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	TaskTTL     time.Duration
}

// Manager accepts background generation requests and tracks their state.
type Manager struct {
	generator  Generator
	store      TaskStore
	dispatcher *Dispatcher
	ttl        time.Duration
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func NewManager(generator Generator, store TaskStore, opts Options, logger *zap.Logger) *Manager {
	if store == nil {
		store = NewMemoryTaskStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.TaskTTL
	if ttl <= 0 {
		ttl = defaultTaskTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		generator: generator,
		store:     store,
		ttl:       ttl,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	m.dispatcher = NewDispatcher(opts.MinWorkers, opts.MaxWorkers, opts.QueueSize, m, opts.IdleTimeout)
	return m
}

// Submit records a pending task and queues it. The request context only bounds the submission.
func (m *Manager) Submit(ctx context.Context, req models.GenerateRequest) (*models.Task, error) {
	if err := req.Client.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrInvalidRequest, err)
	}
	if err := models.ValidateMessages(req.Messages); err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrInvalidRequest, err)
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:        uuid.NewString(),
		ClientID:  req.Client.ID,
		Status:    models.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Save(ctx, task, m.ttl); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}

	job := Job{Type: Generate, Task: &generateTask{ctx: m.ctx, taskID: task.ID, req: req}}
	if err := m.dispatcher.Submit(job); err != nil {
		// the caller never learns this id, so do not keep the task
		if delErr := m.store.Delete(context.WithoutCancel(ctx), task.ID); delErr != nil {
			m.logger.Warn("drop rejected task", zap.String("task_id", task.ID), zap.Error(delErr))
		}
		return nil, err
	}
	m.logger.Debug("task queued", zap.String("task_id", task.ID), zap.String("client_id", task.ClientID))
	return task, nil
}

// Task returns the current state of a task.
func (m *Manager) Task(ctx context.Context, id string) (*models.Task, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) Stats() Stats {
	return m.dispatcher.Stats()
}

// CancelClient fails every queued task of the client. Running tasks are not interrupted.
func (m *Manager) CancelClient(clientID string) int {
	dropped := m.dispatcher.CancelClient(clientID)
	for _, job := range dropped {
		m.failQueued(job, rag.ErrCanceled)
	}
	return len(dropped)
}

// Close stops dispatching, cancels running generations and fails queued tasks.
func (m *Manager) Close() {
	m.once.Do(func() {
		m.cancel()
		for _, job := range m.dispatcher.Stop() {
			m.failQueued(job, rag.ErrCanceled)
		}
	})
}

func (m *Manager) failQueued(job Job, cause error) {
	if job.Task == nil {
		return
	}
	task, err := m.store.Get(context.Background(), job.Task.taskID)
	if err != nil {
		return
	}
	m.finish(task, nil, cause)
}

func (m *Manager) handleGenerate(gt *generateTask) {
	if gt == nil {
		return
	}
	log := m.logger.With(zap.String("task_id", gt.taskID), zap.String("client_id", gt.req.Client.ID))

	task, err := m.store.Get(gt.ctx, gt.taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			log.Warn("task expired before running")
			return
		}
		task = &models.Task{ID: gt.taskID, ClientID: gt.req.Client.ID, CreatedAt: time.Now().UTC()}
	}
	task.Status = models.TaskRunning
	task.UpdatedAt = time.Now().UTC()
	if err := m.store.Save(gt.ctx, task, m.ttl); err != nil {
		log.Warn("update task", zap.Error(err))
	}

	ctx := rag.WithRunID(gt.ctx, gt.taskID)
	resp, genErr := m.generate(ctx, gt.req)
	m.finish(task, resp, genErr)
	log.Debug("task finished", zap.String("status", string(task.Status)))
}

func (m *Manager) generate(ctx context.Context, req models.GenerateRequest) (resp *models.RagResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("generation panicked", zap.Any("panic", r))
			resp = nil
			err = fmt.Errorf("generation panicked: %v", r)
		}
	}()
	return m.generator.GenerateResponse(ctx, req.Messages, req.Client, &req.RagConfig)
}

func (m *Manager) finish(task *models.Task, resp *models.RagResponse, err error) {
	task.Response = resp
	task.UpdatedAt = time.Now().UTC()
	if err != nil {
		task.Status = models.TaskFailed
		task.Error = err.Error()
	} else {
		task.Status = models.TaskSucceeded
		task.Error = ""
	}
	if saveErr := m.store.Save(context.Background(), task, m.ttl); saveErr != nil {
		m.logger.Warn("save task result", zap.String("task_id", task.ID), zap.Error(saveErr))
	}
}
