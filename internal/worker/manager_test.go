package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"agentrag/internal/models"
	"agentrag/internal/service/rag"
)

type gatedGenerator struct {
	started chan string
	release chan struct{}
	err     error
}

func newGatedGenerator() *gatedGenerator {
	return &gatedGenerator{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (g *gatedGenerator) GenerateResponse(ctx context.Context, messages []*models.Message, client models.Client, cfg *models.RagConfig) (*models.RagResponse, error) {
	label := messages[len(messages)-1].Content
	g.started <- label
	select {
	case <-g.release:
	case <-ctx.Done():
		return models.ErrorResponse(rag.RunIDFromContext(ctx), 0), ctx.Err()
	}
	if g.err != nil {
		return models.ErrorResponse(rag.RunIDFromContext(ctx), 1), g.err
	}
	return &models.RagResponse{Answer: "answer to " + label, Flag: models.FlagSuccess, Iterations: 1, RunID: rag.RunIDFromContext(ctx)}, nil
}

func request(clientID, label string) models.GenerateRequest {
	return models.GenerateRequest{
		Client:   models.Client{ID: clientID},
		Messages: []*models.Message{{Role: models.RoleUser, Content: label}},
	}
}

func waitStarted(t *testing.T, g *gatedGenerator) string {
	t.Helper()
	select {
	case label := <-g.started:
		return label
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for generation to start")
		return ""
	}
}

func waitStatus(t *testing.T, m *Manager, id string, want models.TaskStatus) *models.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := m.Task(context.Background(), id)
		if err == nil && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, err := m.Task(context.Background(), id)
	t.Fatalf("task %s did not reach %s: task=%+v err=%v", id, want, task, err)
	return nil
}

func newTestManager(t *testing.T, gen Generator, opts Options) *Manager {
	t.Helper()
	m := NewManager(gen, NewMemoryTaskStore(), opts, zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func TestManagerRunsTaskToCompletion(t *testing.T) {
	gen := newGatedGenerator()
	m := newTestManager(t, gen, Options{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4})

	task, err := m.Submit(context.Background(), request("acme", "hello"))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if task.Status != models.TaskPending || task.ClientID != "acme" {
		t.Fatalf("unexpected submitted task: %+v", task)
	}
	if label := waitStarted(t, gen); label != "hello" {
		t.Fatalf("unexpected label %q", label)
	}
	waitStatus(t, m, task.ID, models.TaskRunning)
	gen.release <- struct{}{}

	done := waitStatus(t, m, task.ID, models.TaskSucceeded)
	if done.Response == nil || done.Response.Answer != "answer to hello" {
		t.Fatalf("unexpected response: %+v", done.Response)
	}
	if done.Response.RunID != task.ID {
		t.Fatalf("run id should be the task id, got %q", done.Response.RunID)
	}
}

func TestManagerRecordsFailure(t *testing.T) {
	gen := newGatedGenerator()
	gen.err = errors.New("provider down")
	m := newTestManager(t, gen, Options{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})

	task, err := m.Submit(context.Background(), request("acme", "q"))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	waitStarted(t, gen)
	gen.release <- struct{}{}

	failed := waitStatus(t, m, task.ID, models.TaskFailed)
	if failed.Error != "provider down" {
		t.Fatalf("unexpected error text %q", failed.Error)
	}
	if failed.Response == nil || failed.Response.Flag != models.FlagError {
		t.Fatalf("failed task should keep the error response: %+v", failed.Response)
	}
}

func TestManagerRejectsInvalidRequest(t *testing.T) {
	m := newTestManager(t, newGatedGenerator(), Options{})

	tests := []struct {
		name string
		req  models.GenerateRequest
	}{
		{"missing client", request("", "q")},
		{"no messages", models.GenerateRequest{Client: models.Client{ID: "acme"}}},
		{"bad role", models.GenerateRequest{Client: models.Client{ID: "acme"}, Messages: []*models.Message{{Role: "robot"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Submit(context.Background(), tt.req); !errors.Is(err, rag.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestDispatcherRotatesClients(t *testing.T) {
	gen := newGatedGenerator()
	m := newTestManager(t, gen, Options{MinWorkers: 1, MaxWorkers: 1, QueueSize: 16})
	ctx := context.Background()

	if _, err := m.Submit(ctx, request("a", "a1")); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if got := waitStarted(t, gen); got != "a1" {
		t.Fatalf("expected a1 first, got %s", got)
	}
	for _, req := range []models.GenerateRequest{request("a", "a2"), request("a", "a3"), request("b", "b1")} {
		if _, err := m.Submit(ctx, req); err != nil {
			t.Fatalf("Submit error: %v", err)
		}
	}

	var order []string
	for i := 0; i < 3; i++ {
		gen.release <- struct{}{}
		order = append(order, waitStarted(t, gen))
	}
	gen.release <- struct{}{}

	want := []string{"a2", "b1", "a3"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order mismatch: want %v got %v", want, order)
		}
	}
}

func TestManagerQueueFull(t *testing.T) {
	gen := newGatedGenerator()
	store := NewMemoryTaskStore()
	m := NewManager(gen, store, Options{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1}, zap.NewNop())
	t.Cleanup(m.Close)
	ctx := context.Background()

	if _, err := m.Submit(ctx, request("a", "first")); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	waitStarted(t, gen)

	accepted := 1
	var full bool
	for i := 0; i < 3; i++ {
		_, err := m.Submit(ctx, request("a", "more"))
		switch {
		case errors.Is(err, ErrQueueFull):
			full = true
		case err == nil:
			accepted++
		default:
			t.Fatalf("unexpected Submit error: %v", err)
		}
	}
	if !full {
		t.Fatalf("expected ErrQueueFull once the queue saturates")
	}
	store.mu.RLock()
	stored := len(store.tasks)
	store.mu.RUnlock()
	if stored != accepted {
		t.Fatalf("rejected tasks must not be stored: stored=%d accepted=%d", stored, accepted)
	}
	close(gen.release)
}

func TestManagerCancelClient(t *testing.T) {
	gen := newGatedGenerator()
	m := newTestManager(t, gen, Options{MinWorkers: 1, MaxWorkers: 1, QueueSize: 8})
	ctx := context.Background()

	running, err := m.Submit(ctx, request("a", "running"))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	waitStarted(t, gen)
	queued, err := m.Submit(ctx, request("a", "queued"))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if n := m.CancelClient("a"); n != 1 {
		t.Fatalf("expected one dropped job, got %d", n)
	}
	canceled := waitStatus(t, m, queued.ID, models.TaskFailed)
	if canceled.Error != rag.ErrCanceled.Error() {
		t.Fatalf("unexpected cancel error %q", canceled.Error)
	}

	gen.release <- struct{}{}
	waitStatus(t, m, running.ID, models.TaskSucceeded)
}

func TestManagerCloseCancelsRunning(t *testing.T) {
	gen := newGatedGenerator()
	m := NewManager(gen, NewMemoryTaskStore(), Options{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4}, zap.NewNop())

	task, err := m.Submit(context.Background(), request("a", "slow"))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	waitStarted(t, gen)
	m.Close()

	failed := waitStatus(t, m, task.ID, models.TaskFailed)
	if failed.Error != context.Canceled.Error() {
		t.Fatalf("unexpected error %q", failed.Error)
	}
	if _, err := m.Submit(context.Background(), request("a", "late")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("submit after close should fail, got %v", err)
	}
}

// blockingGenerator runs until its context is canceled.
type blockingGenerator struct{}

func (blockingGenerator) GenerateResponse(ctx context.Context, _ []*models.Message, _ models.Client, _ *models.RagConfig) (*models.RagResponse, error) {
	<-ctx.Done()
	return models.ErrorResponse(rag.RunIDFromContext(ctx), 0), ctx.Err()
}

func TestManagerCloseLeavesNoPendingTasks(t *testing.T) {
	for round := 0; round < 20; round++ {
		m := NewManager(blockingGenerator{}, NewMemoryTaskStore(), Options{MinWorkers: 1, MaxWorkers: 2, QueueSize: 64}, zap.NewNop())

		var (
			mu       sync.Mutex
			accepted []string
			wg       sync.WaitGroup
		)
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 8; i++ {
					task, err := m.Submit(context.Background(), request(string(rune('a'+g)), "job"))
					if err != nil {
						continue
					}
					mu.Lock()
					accepted = append(accepted, task.ID)
					mu.Unlock()
				}
			}(g)
		}
		m.Close()
		wg.Wait()

		for _, id := range accepted {
			waitStatus(t, m, id, models.TaskFailed)
		}
	}
}

func TestManagerUnknownTask(t *testing.T) {
	m := newTestManager(t, newGatedGenerator(), Options{})
	if _, err := m.Task(context.Background(), "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
