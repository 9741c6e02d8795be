package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"Strato/internal/load"
	"Strato/internal/metrics"
)

// Task is one unit of work queued on a pool.
type Task struct {
	ID       string
	Type     string
	Priority load.Priority
	Run      func(ctx context.Context) error
}

// Worker is a single task executor. Created and destroyed only by its owning
// pool; all fields are guarded by the pool's lock.
type Worker struct {
	ID            string    `json:"id"`
	Busy          bool      `json:"busy"`
	LastTaskStart time.Time `json:"last_task_start"`
	LastTaskEnd   time.Time `json:"last_task_end"`
	Completed     int       `json:"completed_count"`
}

// Status is a point-in-time view of one pool.
type Status struct {
	Name           string         `json:"name"`
	WorkerCount    int            `json:"worker_count"`
	BusyWorkers    int            `json:"busy_workers"`
	IdleWorkers    int            `json:"idle_workers"`
	QueueSize      int            `json:"queue_size"`
	Utilization    float64        `json:"utilization"`
	CompletedTasks int            `json:"completed_tasks"`
	Policy         PolicySnapshot `json:"scaling_policy"`
}

// Pool owns a set of workers and an inbound FIFO task queue. Dispatch
// reserves an idle worker and a queued task atomically and executes the task
// on its own goroutine, so a slow task never stalls dispatch.
type Pool struct {
	name   string
	logger *slog.Logger
	clock  clock.Clock
	engine *load.Engine
	met    *metrics.Metrics

	// scaleMu serializes scaling actions (resize, policy update) so that at
	// most one executes at a time per pool. It is ordered before mu and is
	// never held across task execution.
	scaleMu sync.Mutex

	mu        sync.Mutex
	policy    Policy
	workers   map[string]*Worker
	queue     []Task
	completed int

	notify  chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup
}

func newPool(name string, policy Policy, engine *load.Engine, clk clock.Clock, met *metrics.Metrics, logger *slog.Logger) *Pool {
	p := &Pool{
		name:    name,
		logger:  logger.With("component", "worker-pool", "pool", name),
		clock:   clk,
		engine:  engine,
		met:     met,
		policy:  policy,
		workers: make(map[string]*Worker),
		queue:   make([]Task, 0),
		notify:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	for i := 0; i < policy.MinWorkers; i++ {
		p.addWorkerLocked()
	}
	p.publishGauges()
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// addWorkerLocked creates one idle worker. Caller holds the lock.
func (p *Pool) addWorkerLocked() string {
	id := fmt.Sprintf("%s-worker-%s", p.name, uuid.New().String()[:8])
	p.workers[id] = &Worker{ID: id}
	p.logger.Debug("worker added", "worker", id)
	return id
}

// Enqueue appends a task to the FIFO queue. Never blocks.
func (p *Pool) Enqueue(task Task) {
	p.mu.Lock()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	p.queue = append(p.queue, task)
	depth := len(p.queue)
	p.mu.Unlock()

	p.engine.UpdateQueueLength(p.name, depth)
	p.publishGauges()
	p.signal()
}

// QueueSize returns the current queue depth.
func (p *Pool) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run drives dispatch until ctx is cancelled. It reacts to enqueue and
// task-completion signals rather than polling.
func (p *Pool) Run(ctx context.Context) {
	defer close(p.stopped)
	p.logger.Info("pool started", "workers", p.WorkerCount())

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pool dispatch stopped")
			return
		case <-p.notify:
			p.dispatch(ctx)
		}
	}
}

// Stop waits for in-flight tasks to finish, up to the given timeout.
func (p *Pool) Stop(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := p.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C():
		return fmt.Errorf("pool %s: timed out waiting for in-flight tasks", p.name)
	}
}

// dispatch pairs queued tasks with idle workers. Reservation is atomic:
// the worker is marked busy in the same critical section that pops the task.
func (p *Pool) dispatch(ctx context.Context) {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		var reserved *Worker
		for _, w := range p.workers {
			if !w.Busy {
				reserved = w
				break
			}
		}
		if reserved == nil {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		depth := len(p.queue)
		reserved.Busy = true
		reserved.LastTaskStart = p.clock.Now()
		p.mu.Unlock()

		p.engine.UpdateQueueLength(p.name, depth)
		p.publishGauges()

		p.wg.Add(1)
		go p.execute(ctx, reserved.ID, task)
	}
}

// execute runs one task off the dispatch path and releases the worker.
func (p *Pool) execute(ctx context.Context, workerID string, task Task) {
	defer p.wg.Done()

	start := p.clock.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("task panicked", "worker", workerID, "task", task.ID, "panic", r)
			}
		}()
		if task.Run != nil {
			if err := task.Run(ctx); err != nil {
				p.logger.Error("task failed", "worker", workerID, "task", task.ID, "error", err)
			}
		}
	}()
	elapsed := p.clock.Since(start)

	p.mu.Lock()
	if w, ok := p.workers[workerID]; ok {
		w.Busy = false
		w.LastTaskEnd = p.clock.Now()
		w.Completed++
	}
	p.completed++
	p.mu.Unlock()

	p.engine.RecordExecutionTime(p.name, elapsed.Seconds(), task.Type, task.Priority)
	if p.met != nil {
		p.met.TasksCompleted.WithLabelValues(p.name).Inc()
	}
	p.publishGauges()
	p.signal()
}

// Resize grows or shrinks the pool toward target, clamped to the policy
// bounds. Shrinking removes idle workers only; busy workers are never
// forcibly terminated. Returns the achieved worker count.
func (p *Pool) Resize(target int) int {
	p.mu.Lock()

	if target < p.policy.MinWorkers {
		target = p.policy.MinWorkers
	}
	if target > p.policy.MaxWorkers {
		target = p.policy.MaxWorkers
	}

	current := len(p.workers)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			p.addWorkerLocked()
		}
	case target < current:
		for id, w := range p.workers {
			if len(p.workers) <= target {
				break
			}
			if w.Busy {
				continue
			}
			delete(p.workers, id)
			p.logger.Debug("worker removed", "worker", id)
		}
	}
	achieved := len(p.workers)
	p.mu.Unlock()

	p.publishGauges()
	if achieved > current {
		p.signal()
	}
	return achieved
}

// WorkerCount returns the current worker count.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Status snapshots the pool, including the policy and its cooldown gate.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Pool) statusLocked() Status {
	busy := 0
	for _, w := range p.workers {
		if w.Busy {
			busy++
		}
	}
	count := len(p.workers)
	utilization := 0.0
	if count > 0 {
		utilization = float64(busy) / float64(count)
	}
	now := p.clock.Now()
	return Status{
		Name:           p.name,
		WorkerCount:    count,
		BusyWorkers:    busy,
		IdleWorkers:    count - busy,
		QueueSize:      len(p.queue),
		Utilization:    utilization,
		CompletedTasks: p.completed,
		Policy: PolicySnapshot{
			Trigger:            p.policy.Trigger,
			MinWorkers:         p.policy.MinWorkers,
			MaxWorkers:         p.policy.MaxWorkers,
			ScaleUpThreshold:   p.policy.ScaleUpThreshold,
			ScaleDownThreshold: p.policy.ScaleDownThreshold,
			CooldownSeconds:    p.policy.Cooldown.Seconds(),
			Step:               p.policy.Step,
			CanScaleNow:        p.policy.CanScaleNow(now),
			CooldownRemaining:  p.policy.CooldownRemaining(now).Seconds(),
		},
	}
}

func (p *Pool) publishGauges() {
	if p.met == nil {
		return
	}
	st := p.Status()
	p.met.WorkersCurrent.WithLabelValues(p.name).Set(float64(st.WorkerCount))
	p.met.WorkersBusy.WithLabelValues(p.name).Set(float64(st.BusyWorkers))
	p.met.QueueDepth.WithLabelValues(p.name).Set(float64(st.QueueSize))
}
