package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"Strato/internal/load"
	"Strato/internal/metrics"
	"Strato/internal/pool"
)

// Record is one evaluated-and-executed decision kept for auditing.
type Record struct {
	PoolName    string   `json:"pool_name"`
	Timestamp   float64  `json:"timestamp"`
	Decision    Decision `json:"decision"`
	Reason      Reason   `json:"reason"`
	PrevCount   int      `json:"prev_count"`
	TargetCount int      `json:"target_count"`
	Success     bool     `json:"success"`
}

// TaskPriorityInfo is an advisory registration used when weighing scaling
// decisions against upcoming work.
type TaskPriorityInfo struct {
	Type              string        `json:"type"`
	Priority          load.Priority `json:"priority"`
	EstimatedDuration float64       `json:"estimated_duration"`
	RegisteredAt      float64       `json:"registered_at"`
}

// Options configures the decision controller.
type Options struct {
	CheckInterval    time.Duration
	PredictionWindow int
	MaxDecisions     int
}

// Controller periodically evaluates every pool against an ordered decision
// policy and routes non-trivial decisions through the pool manager, which
// persists the scaling event and resets the cooldown. It is the single
// decision authority for automatic scaling.
type Controller struct {
	logger  *slog.Logger
	clock   clock.Clock
	engine  *load.Engine
	manager *pool.Manager
	met     *metrics.Metrics
	opts    Options

	mu         sync.Mutex
	decisions  []Record
	priorities map[string]TaskPriorityInfo
}

// New creates a decision controller.
func New(opts Options, engine *load.Engine, manager *pool.Manager, clk clock.Clock, met *metrics.Metrics, logger *slog.Logger) *Controller {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 30 * time.Second
	}
	if opts.PredictionWindow < 1 {
		opts.PredictionWindow = 15
	}
	if opts.MaxDecisions < 1 {
		opts.MaxDecisions = 100
	}
	return &Controller{
		logger:     logger.With("component", "decision-controller"),
		clock:      clk,
		engine:     engine,
		manager:    manager,
		met:        met,
		opts:       opts,
		decisions:  make([]Record, 0, opts.MaxDecisions),
		priorities: make(map[string]TaskPriorityInfo),
	}
}

// Run evaluates all pools once per tick until ctx is cancelled. A failing
// tick is logged and the loop continues.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info("decision controller starting", "check_interval", c.opts.CheckInterval)

	ticker := c.clock.NewTicker(c.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("decision controller stopped")
			return
		case <-ticker.C():
			c.tick()
		}
	}
}

func (c *Controller) tick() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("evaluation tick panicked", "panic", r)
			if c.met != nil {
				c.met.EvaluateErrors.Inc()
			}
		}
	}()

	start := c.clock.Now()
	for _, name := range c.manager.Names() {
		c.EvaluatePool(name)
	}
	if c.met != nil {
		c.met.EvaluateDuration.Observe(c.clock.Since(start).Seconds())
		c.met.CombinedLoad.Set(c.engine.CombinedLoad(load.GlobalScope))
	}
}

// EvaluatePool runs the decision policy for one pool and executes the
// outcome. Returns the decision for observability. One status snapshot
// backs both the decision and its audit record.
func (c *Controller) EvaluatePool(name string) Decision {
	st, ok := c.manager.Status(name)
	if !ok {
		c.logger.Warn("evaluation requested for unknown pool", "pool", name)
		return DecisionNoAction
	}

	decision, reason, target := c.evaluate(name, st)

	if c.met != nil {
		c.met.EvaluateTotal.WithLabelValues(string(decision)).Inc()
	}
	if decision == DecisionNoAction {
		return decision
	}

	scaleReason := fmt.Sprintf("%s: %s (%d->%d)", decision, reason.describe(), st.WorkerCount, target)
	success := c.manager.Scale(name, target, st.Policy.Trigger, scaleReason)

	c.record(Record{
		PoolName:    name,
		Timestamp:   float64(c.clock.Now().UnixNano()) / 1e9,
		Decision:    decision,
		Reason:      reason,
		PrevCount:   st.WorkerCount,
		TargetCount: target,
		Success:     success,
	})
	return decision
}

// Evaluate applies the decision rules to a fresh snapshot of one pool
// without executing the outcome.
func (c *Controller) Evaluate(name string) (Decision, Reason, int) {
	st, ok := c.manager.Status(name)
	if !ok {
		c.logger.Warn("evaluation requested for unknown pool", "pool", name)
		return DecisionNoAction, ReasonHighLoad, 0
	}
	return c.evaluate(name, st)
}

// evaluate applies the ordered decision rules to one pool, first match
// wins. It is a stateless policy function over the current load, forecast
// and the given pool status; pools in cooldown always read as no_action.
func (c *Controller) evaluate(name string, st pool.Status) (Decision, Reason, int) {
	if !st.Policy.CanScaleNow {
		c.logger.Debug("pool in cooldown", "pool", name,
			"remaining_seconds", st.Policy.CooldownRemaining)
		return DecisionNoAction, ReasonHighLoad, st.WorkerCount
	}

	count := st.WorkerCount
	minWorkers := st.Policy.MinWorkers
	maxWorkers := st.Policy.MaxWorkers
	step := st.Policy.Step

	combined := c.engine.CombinedLoad(load.GlobalScope)
	trend := c.engine.Trend(load.GlobalScope, 0)
	forecast := c.engine.Predict(load.GlobalScope, c.opts.PredictionWindow)

	capAt := func(target, bound int) int {
		if target > bound {
			return bound
		}
		return target
	}
	floorAt := func(target, bound int) int {
		if target < bound {
			return bound
		}
		return target
	}

	// 1. High-confidence forecast of high load: scale ahead of the breach.
	if p, ok := forecast.Predictions[load.KindCombinedLoad]; ok {
		if p.Value > forecastLoadGate && p.Confidence > forecastConfidenceGate && count < maxWorkers {
			return DecisionPreventiveScaleUp, ReasonPrediction, capAt(count+step, maxWorkers)
		}
	}

	// 2. Rising load: scale ahead of the breach.
	if trend == load.TrendIncreasing && combined > increasingLoadGate && count < maxWorkers {
		return DecisionPreventiveScaleUp, ReasonIncreasingTrend, capAt(count+step, maxWorkers)
	}

	// 3. Spiking load: take a double step.
	if trend == load.TrendSpiking && combined > spikeLoadGate && count < maxWorkers {
		return DecisionScaleUp, ReasonLoadSpike, capAt(count+2*step, maxWorkers)
	}

	// 4. Load above the policy's scale-up threshold.
	if combined > st.Policy.ScaleUpThreshold && count < maxWorkers {
		return DecisionScaleUp, ReasonHighLoad, capAt(count+step, maxWorkers)
	}

	// 5. Sustained low load: shed capacity gradually.
	if combined < st.Policy.ScaleDownThreshold &&
		(trend == load.TrendDecreasing || trend == load.TrendStable) &&
		count > minWorkers {
		return DecisionGradualScaleDown, ReasonLowLoad, floorAt(count-step, minWorkers)
	}

	// 6. Empty queue and mostly idle workers: reclaim resources.
	if st.QueueSize == 0 && st.Utilization < idleUtilizationGate && count > minWorkers {
		return DecisionScaleDown, ReasonResourceOptimization, floorAt(count-step, minWorkers)
	}

	return DecisionNoAction, ReasonHighLoad, count
}

func (c *Controller) record(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.decisions = append(c.decisions, r)
	if len(c.decisions) > c.opts.MaxDecisions {
		c.decisions = c.decisions[len(c.decisions)-c.opts.MaxDecisions:]
	}
}

// Decisions returns up to limit executed decisions, newest first.
func (c *Controller) Decisions(limit int) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 || limit > len(c.decisions) {
		limit = len(c.decisions)
	}
	out := make([]Record, 0, limit)
	for i := len(c.decisions) - 1; i >= len(c.decisions)-limit; i-- {
		out = append(out, c.decisions[i])
	}
	return out
}

// RegisterTaskPriority records an advisory priority for an upcoming task.
func (c *Controller) RegisterTaskPriority(taskID, taskType string, priority load.Priority, estimatedDuration float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.priorities[taskID] = TaskPriorityInfo{
		Type:              taskType,
		Priority:          priority,
		EstimatedDuration: estimatedDuration,
		RegisteredAt:      float64(c.clock.Now().UnixNano()) / 1e9,
	}
}

// TaskPriorities returns a copy of the registered advisory priorities.
func (c *Controller) TaskPriorities() map[string]TaskPriorityInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]TaskPriorityInfo, len(c.priorities))
	for id, info := range c.priorities {
		out[id] = info
	}
	return out
}
