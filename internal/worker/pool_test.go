package worker

import (
	"testing"
	"time"
)

func waitForStats(t *testing.T, p *workerPool, ok func(PoolStats) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ok(p.stats()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pool never reached expected state, last %+v", p.stats())
}

func liveIs(n int) func(PoolStats) bool {
	return func(st PoolStats) bool { return st.Live == n }
}

func idleIs(n int) func(PoolStats) bool {
	return func(st PoolStats) bool { return st.Idle == n }
}

func TestWorkerPoolGrowsAndReaps(t *testing.T) {
	p := newWorkerPool(1, 3, time.Hour, nil)
	p.warmUp()
	waitForStats(t, p, idleIs(1))

	first := p.checkout()
	second := p.checkout()
	if first == nil || second == nil || first == second {
		t.Fatalf("expected two distinct workers")
	}
	if st := p.stats(); st.Live != 2 || st.Idle != 0 || st.Max != 3 {
		t.Fatalf("unexpected stats after checkout %+v", st)
	}

	p.checkin(first)
	p.checkin(second)
	if st := p.stats(); st.Idle != 2 {
		t.Fatalf("expected two idle workers, got %+v", st)
	}

	p.reapIdle(time.Now().Add(2 * time.Hour))
	waitForStats(t, p, liveIs(1))
	if st := p.stats(); st.Idle != 1 {
		t.Fatalf("reap must keep the minimum idle worker, got %+v", st)
	}

	p.close()
	waitForStats(t, p, liveIs(0))
	if ch := p.checkout(); ch != nil {
		t.Fatalf("checkout after close must return nil")
	}
}

func TestWorkerPoolReapKeepsFreshWorkers(t *testing.T) {
	p := newWorkerPool(0, 2, time.Hour, nil)
	defer p.close()
	p.warmUp()
	waitForStats(t, p, idleIs(1))

	ch := p.checkout()
	p.checkin(ch)
	p.reapIdle(time.Now())
	if st := p.stats(); st.Live != 1 || st.Idle != 1 {
		t.Fatalf("fresh worker reaped: %+v", st)
	}
}
