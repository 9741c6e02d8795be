package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"Strato/internal/history"
	"Strato/internal/load"
	"Strato/internal/metrics"
)

// Manager is the named registry of worker pools. Pools are independent;
// scaling actions on one pool never contend with another.
type Manager struct {
	logger        *slog.Logger
	clock         clock.Clock
	engine        *load.Engine
	hist          *history.Store
	met           *metrics.Metrics
	defaultPolicy Policy

	mu      sync.RWMutex
	pools   map[string]*Pool
	runCtx  context.Context
	started bool
}

// NewManager creates an empty pool registry.
func NewManager(defaultPolicy Policy, engine *load.Engine, hist *history.Store, clk clock.Clock, met *metrics.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		logger:        logger.With("component", "pool-manager"),
		clock:         clk,
		engine:        engine,
		hist:          hist,
		met:           met,
		defaultPolicy: defaultPolicy,
		pools:         make(map[string]*Pool),
	}
}

// Start begins dispatch for all current pools; pools created later start
// immediately. Dispatch stops when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.runCtx = ctx
	m.started = true
	for _, p := range m.pools {
		go p.Run(ctx)
	}
}

// StopAll waits for each pool's in-flight tasks, bounded by timeout per pool.
func (m *Manager) StopAll(timeout time.Duration) {
	m.mu.RLock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	for _, p := range pools {
		if err := p.Stop(timeout); err != nil {
			m.logger.Warn("pool stop timed out", "pool", p.Name(), "error", err)
		}
	}
}

// CreatePool registers a new pool with the given policy (nil for the
// default). Idempotent by name: a collision returns the existing pool with a
// warning.
func (m *Manager) CreatePool(name string, policy *Policy) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.pools[name]; ok {
		m.logger.Warn("pool already exists, returning existing pool", "pool", name)
		return existing
	}

	pol := m.defaultPolicy
	if policy != nil {
		pol = *policy
	}
	pol.sanitize(m.logger.With("pool", name))

	p := newPool(name, pol, m.engine, m.clock, m.met, m.logger)
	m.pools[name] = p
	if m.started {
		go p.Run(m.runCtx)
	}

	m.logger.Info("pool created",
		"pool", name,
		"min_workers", pol.MinWorkers,
		"max_workers", pol.MaxWorkers,
		"trigger", string(pol.Trigger),
	)
	return p
}

// Get returns the named pool, or nil.
func (m *Manager) Get(name string) *Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[name]
}

// Names lists registered pool names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	return names
}

// Status snapshots one pool. The second return is false for unknown pools.
func (m *Manager) Status(name string) (Status, bool) {
	p := m.Get(name)
	if p == nil {
		return Status{}, false
	}
	return p.Status(), true
}

// PoolsStatus snapshots every pool.
func (m *Manager) PoolsStatus() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.pools))
	for name, p := range m.pools {
		out[name] = p.Status()
	}
	return out
}

// ManualScale resizes a pool on operator request. Cooldown is reset like any
// other scaling action.
func (m *Manager) ManualScale(name string, target int, reason string) bool {
	return m.Scale(name, target, TriggerManual, reason)
}

// Scale clamps target to the pool's policy bounds, resizes, records a
// scaling event with a metrics snapshot, and resets the cooldown timer. It
// returns false for unknown pools and never panics to the caller; failures
// on known pools are recorded as unsuccessful events.
func (m *Manager) Scale(name string, target int, trigger Trigger, reason string) bool {
	p := m.Get(name)
	if p == nil {
		m.logger.Warn("scale requested for unknown pool", "pool", name, "target", target)
		return false
	}

	// One scaling action at a time per pool: the snapshot the event is
	// recorded against must be the one the resize acted on, and two racing
	// callers must not both slip inside one cooldown window.
	p.scaleMu.Lock()
	defer p.scaleMu.Unlock()

	before := p.Status()
	desired := target
	if desired < before.Policy.MinWorkers {
		desired = before.Policy.MinWorkers
	}
	if desired > before.Policy.MaxWorkers {
		desired = before.Policy.MaxWorkers
	}

	achieved := p.Resize(target)
	p.mu.Lock()
	p.policy.MarkScaled(m.clock.Now())
	p.mu.Unlock()

	direction := history.DirectionNone
	switch {
	case achieved > before.WorkerCount:
		direction = history.DirectionUp
	case achieved < before.WorkerCount:
		direction = history.DirectionDown
	}
	// A shrink can stall short of the desired count when too few workers
	// are idle; that is an unsuccessful attempt worth auditing.
	success := achieved == desired

	m.hist.Add(history.Event{
		PoolName:  name,
		Direction: direction,
		Trigger:   string(trigger),
		PrevCount: before.WorkerCount,
		NewCount:  achieved,
		Metrics:   m.snapshotMetrics(before),
		Success:   success,
		Reason:    reason,
	})

	if m.met != nil {
		switch {
		case !success:
			m.met.ScaleFailures.WithLabelValues(name, string(trigger)).Inc()
		case direction == history.DirectionUp:
			m.met.ScaleUpEvents.WithLabelValues(name, string(trigger)).Inc()
		case direction == history.DirectionDown:
			m.met.ScaleDownEvents.WithLabelValues(name, string(trigger)).Inc()
		}
	}

	m.logger.Info("pool scaled",
		"pool", name,
		"prev_count", before.WorkerCount,
		"new_count", achieved,
		"trigger", string(trigger),
		"success", success,
		"reason", reason,
	)
	return success
}

// snapshotMetrics captures the load context a scaling event fired under.
func (m *Manager) snapshotMetrics(st Status) map[string]float64 {
	current := m.engine.CurrentLoad(load.GlobalScope)
	return map[string]float64{
		"combined_load": current.Metrics[load.KindCombinedLoad],
		"cpu_usage":     current.Metrics[load.KindCPUUsage],
		"memory_usage":  current.Metrics[load.KindMemoryUsage],
		"queue_length":  float64(st.QueueSize),
		"utilization":   st.Utilization,
	}
}

// UpdatePolicy applies a partial policy update. Invalid combinations are
// auto-corrected with warnings rather than rejected; the worker count is
// pulled back inside the new bounds. Returns false for unknown pools.
func (m *Manager) UpdatePolicy(name string, patch PolicyPatch) bool {
	p := m.Get(name)
	if p == nil {
		m.logger.Warn("policy update for unknown pool", "pool", name)
		return false
	}

	logger := m.logger.With("pool", name)

	p.scaleMu.Lock()
	defer p.scaleMu.Unlock()

	p.mu.Lock()
	if patch.Trigger != nil {
		if trigger, err := ParseTrigger(*patch.Trigger); err == nil {
			p.policy.Trigger = trigger
		} else {
			logger.Warn("ignoring invalid trigger in policy update", "trigger", *patch.Trigger)
		}
	}
	if patch.MinWorkers != nil {
		p.policy.MinWorkers = *patch.MinWorkers
	}
	if patch.MaxWorkers != nil {
		p.policy.MaxWorkers = *patch.MaxWorkers
	}
	if patch.ScaleUpThreshold != nil {
		p.policy.ScaleUpThreshold = *patch.ScaleUpThreshold
	}
	if patch.ScaleDownThreshold != nil {
		p.policy.ScaleDownThreshold = *patch.ScaleDownThreshold
	}
	if patch.Cooldown != nil {
		p.policy.Cooldown = *patch.Cooldown
	}
	if patch.Step != nil {
		p.policy.Step = *patch.Step
	}
	p.policy.sanitize(logger)
	minWorkers, maxWorkers := p.policy.MinWorkers, p.policy.MaxWorkers
	count := len(p.workers)
	p.mu.Unlock()

	if count < minWorkers {
		p.Resize(minWorkers)
	} else if count > maxWorkers {
		if achieved := p.Resize(maxWorkers); achieved > maxWorkers {
			logger.Warn("pool above new max until busy workers finish",
				"count", achieved, "max_workers", maxWorkers)
		}
	}

	logger.Info("policy updated")
	return true
}
