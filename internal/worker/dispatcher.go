package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

var ErrQueueFull = errors.New("task queue full")

// Stats is a snapshot of background task load.
type Stats struct {
	Workers PoolStats `json:"workers"`
	Queued  int       `json:"queued"`
}

type clientQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher feeds workers one job at a time, rotating through clients so a
// client with a long backlog cannot starve the others.
type Dispatcher struct {
	pool     *workerPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher

	mu        sync.Mutex
	queues    map[string]*clientQueue // job queue for each client
	ready     *list.List              // LRU queue storing client IDs
	positions map[string]*list.Element

	stopped   bool // guarded by mu
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, manager *Manager, idleTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	pool := newWorkerPool(minWorkers, maxWorkers, idleTimeout, manager)

	d := &Dispatcher{
		queues:    make(map[string]*clientQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		pool:      pool,
		JobQueue:  make(chan Job, queueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	d.pool.warmUp()

	go d.run()
	return d
}

// Submit hands a job to the dispatcher without blocking.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrQueueFull
	}
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.drain()
		if !d.hasReady() {
			select {
			case job := <-d.JobQueue: // block until work arrives
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}

		// wait for a free worker before choosing, so jobs that arrived meanwhile take part in the rotation
		workerChan := d.pool.checkout()
		if workerChan == nil {
			return
		}
		select {
		case <-d.quit:
			workerChan <- Job{Type: Stop}
			return
		default:
		}
		d.drain()
		job, ok := d.next()
		if !ok {
			if !d.pool.checkin(workerChan) {
				workerChan <- Job{Type: Stop}
				return
			}
			continue
		}
		workerChan <- job
	}
}

// drain moves every pending job from JobQueue into the per-client queues.
func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

// Stats reports worker usage and the number of jobs waiting for a worker.
func (d *Dispatcher) Stats() Stats {
	st := Stats{Workers: d.pool.stats(), Queued: len(d.JobQueue)}
	d.mu.Lock()
	for _, q := range d.queues {
		st.Queued += len(q.jobs)
	}
	d.mu.Unlock()
	return st
}

func (d *Dispatcher) hasReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready.Len() > 0
}

// CancelClient drops every queued job of the client and returns them.
func (d *Dispatcher) CancelClient(clientID string) []Job {
	d.drain()

	d.mu.Lock()
	defer d.mu.Unlock()

	var dropped []Job
	if q, ok := d.queues[clientID]; ok {
		dropped = q.jobs
		delete(d.queues, clientID)
	}
	if elem, ok := d.positions[clientID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, clientID)
	}
	return dropped
}

func (d *Dispatcher) enqueueJob(job Job) {
	clientID := job.clientID()

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[clientID]
	if q == nil {
		q = &clientQueue{}
		d.queues[clientID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		// client already enqueue, skip
		return
	}
	// new client, enqueue
	q.enqueued = true
	elem := d.ready.PushBack(clientID)
	d.positions[clientID] = elem
}

// next pops one job of the client in front of the LRU queue
func (d *Dispatcher) next() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	clientID := elem.Value.(string)
	q := d.queues[clientID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		// client has no more jobs, quit queue
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, clientID)
		delete(d.queues, clientID)
	} else {
		// get to the back of queue
		d.ready.MoveToBack(elem)
	}
	return job, true
}

// Stop stops dispatching. Jobs still queued are returned to the caller, and
// no job submitted before Stop is left behind.
func (d *Dispatcher) Stop() []Job {
	var pending []Job
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()

		close(d.quit)
		d.pool.close()
		<-d.done

		d.drain()
		d.mu.Lock()
		for e := d.ready.Front(); e != nil; e = e.Next() {
			pending = append(pending, d.queues[e.Value.(string)].jobs...)
		}
		d.queues = make(map[string]*clientQueue)
		d.ready.Init()
		d.positions = make(map[string]*list.Element)
		d.mu.Unlock()
	})
	return pending
}
