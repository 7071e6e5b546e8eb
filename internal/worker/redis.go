package worker

import (
	"context"
	"errors"
	"time"

	"agentrag/internal/models"
	"agentrag/internal/redis"
)

const taskKeyPrefix = "task:"

// RedisTaskStore keeps task state in redis so any instance can answer status queries.
type RedisTaskStore struct {
	client *redis.Client
}

func NewRedisTaskStore(client *redis.Client) *RedisTaskStore {
	return &RedisTaskStore{client: client}
}

func taskKey(id string) string {
	return taskKeyPrefix + id
}

func (s *RedisTaskStore) Save(ctx context.Context, task *models.Task, ttl time.Duration) error {
	if task == nil || task.ID == "" {
		return errors.New("task id required")
	}
	return s.client.SetJSON(ctx, taskKey(task.ID), task, ttl)
}

func (s *RedisTaskStore) Get(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.client.GetJSON(ctx, taskKey(id), &task); err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (s *RedisTaskStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, taskKey(id))
}
