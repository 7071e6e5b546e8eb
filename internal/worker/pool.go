package worker

import (
	"sync"
	"time"
)

const defaultWorkerIdle = 30 * time.Second

// workerSlot is the pool's view of one worker goroutine.
type workerSlot struct {
	jobs      chan Job
	idleSince time.Time
	parked    bool // waiting in the idle list
	retired   bool // told to stop, or already gone
}

// workerPool grows from min to max workers on demand and retires workers idle
// longer than idleTTL, never going below min.
type workerPool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*workerSlot
	slots   map[chan Job]*workerSlot
	min     int
	max     int
	live    int
	idleTTL time.Duration
	manager *Manager
	quit    chan struct{}
	closed  bool
}

// PoolStats is a snapshot of worker usage.
type PoolStats struct {
	Live int `json:"live"`
	Idle int `json:"idle"`
	Max  int `json:"max"`
}

func newWorkerPool(minWorkers, maxWorkers int, idleTTL time.Duration, manager *Manager) *workerPool {
	if idleTTL <= 0 {
		idleTTL = defaultWorkerIdle
	}
	minWorkers = max(minWorkers, 1)
	maxWorkers = max(maxWorkers, minWorkers)
	p := &workerPool{
		slots:   make(map[chan Job]*workerSlot),
		min:     minWorkers,
		max:     maxWorkers,
		idleTTL: idleTTL,
		manager: manager,
		quit:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.reapLoop()
	return p
}

// warmUp starts the minimum number of workers.
func (p *workerPool) warmUp() {
	for i := 0; i < p.min; i++ {
		p.mu.Lock()
		if p.live >= p.max {
			p.mu.Unlock()
			return
		}
		w := p.addWorkerLocked()
		p.mu.Unlock()
		w.Start()
	}
}

func (p *workerPool) addWorkerLocked() *Worker {
	w := NewWorker(p, p.manager)
	p.slots[w.jobChannel] = &workerSlot{jobs: w.jobChannel}
	p.live++
	return w
}

// checkout blocks until a worker is free, starting one when below max.
// It returns nil once the pool is closed.
func (p *workerPool) checkout() chan Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return nil
		}
		if slot := p.takeIdleLocked(); slot != nil {
			return slot.jobs
		}
		if p.live < p.max {
			// the new worker parks itself through checkin and wakes us
			w := p.addWorkerLocked()
			w.Start()
		}
		p.cond.Wait()
	}
}

// checkin parks a worker as idle. It reports false when the worker should exit.
func (p *workerPool) checkin(ch chan Job) bool {
	p.mu.Lock()
	slot, ok := p.slots[ch]
	if !ok || p.closed {
		p.mu.Unlock()
		return false
	}
	if slot.retired || slot.parked {
		p.mu.Unlock()
		return true
	}
	slot.parked = true
	slot.idleSince = time.Now()
	p.idle = append(p.idle, slot)
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

// remove forgets a worker that has stopped.
func (p *workerPool) remove(ch chan Job) {
	p.mu.Lock()
	if slot, ok := p.slots[ch]; ok {
		delete(p.slots, ch)
		slot.retired = true
		p.live = max(p.live-1, 0)
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *workerPool) takeIdleLocked() *workerSlot {
	for len(p.idle) > 0 {
		slot := p.idle[0]
		p.idle = p.idle[1:]
		if slot.retired {
			continue
		}
		slot.parked = false
		return slot
	}
	return nil
}

func (p *workerPool) stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Live: p.live, Idle: len(p.idle), Max: p.max}
}

func (p *workerPool) reapLoop() {
	ticker := time.NewTicker(p.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle(time.Now())
		case <-p.quit:
			return
		}
	}
}

// reapIdle stops workers idle for at least idleTTL while keeping min alive.
func (p *workerPool) reapIdle(now time.Time) {
	var expired []*workerSlot

	p.mu.Lock()
	kept := p.idle[:0]
	for _, slot := range p.idle {
		if slot.retired {
			continue
		}
		if now.Sub(slot.idleSince) >= p.idleTTL && p.live-len(expired) > p.min {
			slot.retired = true
			slot.parked = false
			expired = append(expired, slot)
			continue
		}
		kept = append(kept, slot)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, slot := range expired {
		slot.jobs <- Job{Type: Stop}
	}
}

// close stops reaping and every idle worker. Busy workers exit after their job.
func (p *workerPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	idle := p.idle
	p.idle = nil
	for _, slot := range idle {
		slot.retired = true
		slot.parked = false
	}
	p.mu.Unlock()
	p.cond.Broadcast()

	for _, slot := range idle {
		slot.jobs <- Job{Type: Stop}
	}
}
