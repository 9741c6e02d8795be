package pool

import (
	"context"
	"testing"
	"time"

	"code.cloudfoundry.org/clock"

	"Strato/internal/load"
)

func testEngine() *load.Engine {
	return load.NewEngine(load.Options{}, clock.NewClock(), testLogger())
}

func testPolicy() Policy {
	return Policy{
		Trigger:            TriggerQueueLength,
		MinWorkers:         2,
		MaxWorkers:         5,
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.2,
		Step:               1,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewPoolStartsAtMinWorkers(t *testing.T) {
	p := newPool("p", testPolicy(), testEngine(), clock.NewClock(), nil, testLogger())

	if got := p.WorkerCount(); got != 2 {
		t.Errorf("expected 2 workers at start, got %d", got)
	}
	st := p.Status()
	if st.BusyWorkers != 0 || st.IdleWorkers != 2 {
		t.Errorf("expected all workers idle, got %+v", st)
	}
}

func TestPoolExecutesQueuedTasks(t *testing.T) {
	p := newPool("p", testPolicy(), testEngine(), clock.NewClock(), nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	done := make(chan string, 3)
	for _, id := range []string{"a", "b", "c"} {
		id := id
		p.Enqueue(Task{ID: id, Type: "unit", Run: func(ctx context.Context) error {
			done <- id
			return nil
		}})
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-done:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for tasks, completed %d", i)
		}
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct tasks, got %v", seen)
	}

	waitFor(t, 2*time.Second, func() bool {
		st := p.Status()
		return st.CompletedTasks == 3 && st.QueueSize == 0 && st.BusyWorkers == 0
	})
}

func TestPoolQueuesBeyondCapacity(t *testing.T) {
	p := newPool("p", testPolicy(), testEngine(), clock.NewClock(), nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	release := make(chan struct{})
	blocker := func(ctx context.Context) error {
		<-release
		return nil
	}
	for i := 0; i < 5; i++ {
		p.Enqueue(Task{Type: "unit", Run: blocker})
	}

	// Two workers saturate; the other three tasks wait in FIFO order.
	waitFor(t, 2*time.Second, func() bool {
		st := p.Status()
		return st.BusyWorkers == 2 && st.QueueSize == 3
	})
	st := p.Status()
	if st.Utilization != 1.0 {
		t.Errorf("expected utilization 1.0 when saturated, got %f", st.Utilization)
	}

	close(release)
	waitFor(t, 2*time.Second, func() bool {
		return p.Status().CompletedTasks == 5
	})
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	p := newPool("p", testPolicy(), testEngine(), clock.NewClock(), nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Enqueue(Task{Type: "unit", Run: func(ctx context.Context) error {
		panic("task exploded")
	}})
	p.Enqueue(Task{Type: "unit", Run: func(ctx context.Context) error {
		return nil
	}})

	waitFor(t, 2*time.Second, func() bool {
		st := p.Status()
		return st.CompletedTasks == 2 && st.BusyWorkers == 0
	})
}

func TestResizeClampsToBounds(t *testing.T) {
	p := newPool("p", testPolicy(), testEngine(), clock.NewClock(), nil, testLogger())

	if got := p.Resize(10); got != 5 {
		t.Errorf("expected clamp to max=5, got %d", got)
	}
	if got := p.Resize(0); got != 2 {
		t.Errorf("expected clamp to min=2, got %d", got)
	}
}

func TestResizeShrinkKeepsBusyWorkers(t *testing.T) {
	policy := testPolicy()
	policy.MinWorkers = 1
	p := newPool("p", policy, testEngine(), clock.NewClock(), nil, testLogger())
	p.Resize(4)

	// Mark three workers busy; only the idle one may be removed.
	p.mu.Lock()
	marked := 0
	for _, w := range p.workers {
		if marked == 3 {
			break
		}
		w.Busy = true
		marked++
	}
	p.mu.Unlock()

	if got := p.Resize(1); got != 3 {
		t.Errorf("expected shrink to stall at 3 busy workers, got %d", got)
	}
}

func TestStopWaitsForInFlightTasks(t *testing.T) {
	p := newPool("p", testPolicy(), testEngine(), clock.NewClock(), nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	started := make(chan struct{})
	p.Enqueue(Task{Type: "unit", Run: func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return nil
	}})
	<-started

	if err := p.Stop(2 * time.Second); err != nil {
		t.Errorf("expected Stop to drain in-flight task, got %v", err)
	}
	if got := p.Status().CompletedTasks; got != 1 {
		t.Errorf("expected task completed before Stop returned, got %d", got)
	}
}
