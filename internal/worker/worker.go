package worker

import (
	"context"

	"agentrag/internal/models"
)

type JobType int

const (
	Generate JobType = iota
	Stop
)

// Job is the unit handed from the dispatcher to a worker.
type Job struct {
	Type JobType
	Task *generateTask
}

type generateTask struct {
	ctx    context.Context
	taskID string
	req    models.GenerateRequest
}

func (job Job) clientID() string {
	if job.Task == nil {
		return ""
	}
	return job.Task.req.Client.ID
}

type Worker struct {
	pool       *workerPool
	manager    *Manager
	jobChannel chan Job
}

func NewWorker(pool *workerPool, manager *Manager) *Worker {
	return &Worker{
		pool:       pool,
		manager:    manager,
		jobChannel: make(chan Job),
	}
}

// Start runs the worker loop: announce idle, take one job, repeat until told to stop.
func (w *Worker) Start() {
	go func() {
		for {
			if !w.pool.checkin(w.jobChannel) {
				w.pool.remove(w.jobChannel)
				return
			}
			job := <-w.jobChannel
			switch job.Type {
			case Generate:
				w.manager.handleGenerate(job.Task)
			case Stop:
				w.pool.remove(w.jobChannel)
				return
			}
		}
	}()
}
