package models

import "time"

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// GenerateRequest is the body of a generation request.
type GenerateRequest struct {
	Messages  []*Message `json:"messages"`
	Client    Client     `json:"client"`
	RagConfig RagConfig  `json:"rag_config"`
}

// Task tracks a background generation.
type Task struct {
	ID        string       `json:"id"`
	ClientID  string       `json:"client_id"`
	Status    TaskStatus   `json:"status"`
	Response  *RagResponse `json:"response,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
