package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"agentrag/internal/models"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskStore persists background task state until it expires.
type TaskStore interface {
	Save(ctx context.Context, task *models.Task, ttl time.Duration) error
	Get(ctx context.Context, id string) (*models.Task, error)
	Delete(ctx context.Context, id string) error
}

type storedTask struct {
	task      models.Task
	expiresAt time.Time
}

// MemoryTaskStore keeps tasks in process memory.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]storedTask
	now   func() time.Time
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]storedTask),
		now:   time.Now,
	}
}

func (s *MemoryTaskStore) Save(_ context.Context, task *models.Task, ttl time.Duration) error {
	if task == nil || task.ID == "" {
		return errors.New("task id required")
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.tasks[task.ID] = storedTask{task: *task, expiresAt: expiresAt}
	s.evictExpiredLocked()
	s.mu.Unlock()
	return nil
}

func (s *MemoryTaskStore) Get(_ context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	entry, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok || s.expired(entry) {
		return nil, ErrTaskNotFound
	}
	task := entry.task
	return &task, nil
}

func (s *MemoryTaskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryTaskStore) expired(entry storedTask) bool {
	return !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt)
}

func (s *MemoryTaskStore) evictExpiredLocked() {
	for id, entry := range s.tasks {
		if s.expired(entry) {
			delete(s.tasks, id)
		}
	}
}
