package worker

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"agentrag/internal/config"
	"agentrag/internal/models"
	"agentrag/internal/redis"
)

func TestMemoryTaskStoreExpiry(t *testing.T) {
	store := NewMemoryTaskStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	task := &models.Task{ID: "t1", ClientID: "acme", Status: models.TaskPending}
	if err := store.Save(ctx, task, time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	task.Status = models.TaskRunning // stored copy must not change

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != models.TaskPending {
		t.Fatalf("store should keep a copy, got status %s", got.Status)
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "t1"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected expired task to be gone, got %v", err)
	}
	if err := store.Save(ctx, &models.Task{ID: "t2"}, 0); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if len(store.tasks) != 1 {
		t.Fatalf("expired entries should be evicted on save, have %d", len(store.tasks))
	}
}

func TestMemoryTaskStoreDelete(t *testing.T) {
	store := NewMemoryTaskStore()
	ctx := context.Background()
	if err := store.Save(ctx, &models.Task{ID: "t1"}, time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := store.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := store.Get(ctx, "t1"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected deleted task to be gone, got %v", err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Fatalf("deleting a missing task should succeed, got %v", err)
	}
}

func TestMemoryTaskStoreRequiresID(t *testing.T) {
	if err := NewMemoryTaskStore().Save(context.Background(), &models.Task{}, time.Minute); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestRedisTaskStoreRoundTrip(t *testing.T) {
	client := newRedisTestClient(t)
	store := NewRedisTaskStore(client)
	ctx := context.Background()

	task := &models.Task{
		ID:       "redis-task",
		ClientID: "acme",
		Status:   models.TaskSucceeded,
		Response: &models.RagResponse{Answer: "42", Flag: models.FlagSuccess, Iterations: 1},
	}
	if err := store.Save(ctx, task, time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != models.TaskSucceeded || got.Response == nil || got.Response.Answer != "42" {
		t.Fatalf("unexpected task %+v", got)
	}
	ttl, err := client.TTL(ctx, taskKey(task.ID))
	if err != nil || ttl <= 0 {
		t.Fatalf("task key should carry a ttl: ttl=%v err=%v", ttl, err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if err := store.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := store.Get(ctx, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected deleted task to be gone, got %v", err)
	}
}

func newRedisTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed task tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewClient(context.Background(), config.RedisConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Del(context.Background(), taskKey("redis-task"))
		client.Close()
	})
	return client
}
