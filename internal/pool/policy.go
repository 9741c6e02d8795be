package pool

import (
	"fmt"
	"log/slog"
	"time"

	"Strato/internal/config"
)

// Trigger names the signal category a scaling policy reacts to.
type Trigger string

const (
	TriggerQueueLength  Trigger = "queue_length"
	TriggerResponseTime Trigger = "response_time"
	TriggerCPUUsage     Trigger = "cpu_usage"
	TriggerMemoryUsage  Trigger = "memory_usage"
	TriggerCombinedLoad Trigger = "combined_load"
	TriggerManual       Trigger = "manual"
)

// ParseTrigger accepts the wire names of the trigger kinds.
func ParseTrigger(s string) (Trigger, error) {
	switch Trigger(s) {
	case TriggerQueueLength, TriggerResponseTime, TriggerCPUUsage,
		TriggerMemoryUsage, TriggerCombinedLoad, TriggerManual:
		return Trigger(s), nil
	default:
		return "", fmt.Errorf("unknown trigger %q", s)
	}
}

// Policy is the scaling configuration owned by exactly one pool. The
// cooldown state is guarded by the owning pool's lock; a Policy is not safe
// for use outside its pool.
type Policy struct {
	Trigger            Trigger       `json:"trigger"`
	MinWorkers         int           `json:"min_workers"`
	MaxWorkers         int           `json:"max_workers"`
	ScaleUpThreshold   float64       `json:"scale_up_threshold"`
	ScaleDownThreshold float64       `json:"scale_down_threshold"`
	Cooldown           time.Duration `json:"cooldown"`
	Step               int           `json:"step"`

	lastScaled time.Time
}

// PolicyFromConfig builds the default policy for pools created without one.
func PolicyFromConfig(c config.PolicyConfig) Policy {
	trigger, err := ParseTrigger(c.Trigger)
	if err != nil {
		trigger = TriggerQueueLength
	}
	return Policy{
		Trigger:            trigger,
		MinWorkers:         c.MinWorkers,
		MaxWorkers:         c.MaxWorkers,
		ScaleUpThreshold:   c.ScaleUpThreshold,
		ScaleDownThreshold: c.ScaleDownThreshold,
		Cooldown:           c.Cooldown,
		Step:               c.Step,
	}
}

// sanitize auto-corrects invalid bounds instead of rejecting them, logging
// each correction, so a bad policy update degrades rather than wedges a pool.
func (p *Policy) sanitize(logger *slog.Logger) {
	if p.MinWorkers < 1 {
		logger.Warn("correcting policy: min_workers must be >= 1", "min_workers", p.MinWorkers)
		p.MinWorkers = 1
	}
	if p.MaxWorkers < p.MinWorkers {
		logger.Warn("correcting policy: max_workers must be >= min_workers",
			"max_workers", p.MaxWorkers, "min_workers", p.MinWorkers)
		p.MaxWorkers = p.MinWorkers
	}
	if p.ScaleUpThreshold <= p.ScaleDownThreshold {
		logger.Warn("correcting policy: scale_up_threshold must be > scale_down_threshold",
			"scale_up_threshold", p.ScaleUpThreshold, "scale_down_threshold", p.ScaleDownThreshold)
		p.ScaleUpThreshold = 0.8
		p.ScaleDownThreshold = 0.2
	}
	if p.Cooldown < 0 {
		logger.Warn("correcting policy: cooldown must be >= 0", "cooldown", p.Cooldown)
		p.Cooldown = 0
	}
	if p.Step < 1 {
		logger.Warn("correcting policy: step must be >= 1", "step", p.Step)
		p.Step = 1
	}
}

// CanScaleNow reports whether the cooldown since the last scaling action has
// elapsed.
func (p *Policy) CanScaleNow(now time.Time) bool {
	return now.Sub(p.lastScaled) >= p.Cooldown
}

// MarkScaled resets the cooldown timer. Applied to manual and automatic
// actions alike so cooldown applies uniformly.
func (p *Policy) MarkScaled(now time.Time) {
	p.lastScaled = now
}

// CooldownRemaining is the time left until the next scaling action is
// allowed, zero when the gate is open.
func (p *Policy) CooldownRemaining(now time.Time) time.Duration {
	remaining := p.Cooldown - now.Sub(p.lastScaled)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// PolicyPatch is a partial policy update; nil fields keep their value.
type PolicyPatch struct {
	Trigger            *string        `json:"trigger,omitempty"`
	MinWorkers         *int           `json:"min_workers,omitempty"`
	MaxWorkers         *int           `json:"max_workers,omitempty"`
	ScaleUpThreshold   *float64       `json:"scale_up_threshold,omitempty"`
	ScaleDownThreshold *float64       `json:"scale_down_threshold,omitempty"`
	Cooldown           *time.Duration `json:"cooldown,omitempty"`
	Step               *int           `json:"step,omitempty"`
}

// PolicySnapshot is the read-only policy view exposed in pool status.
type PolicySnapshot struct {
	Trigger            Trigger `json:"trigger"`
	MinWorkers         int     `json:"min_workers"`
	MaxWorkers         int     `json:"max_workers"`
	ScaleUpThreshold   float64 `json:"scale_up_threshold"`
	ScaleDownThreshold float64 `json:"scale_down_threshold"`
	CooldownSeconds    float64 `json:"cooldown_seconds"`
	Step               int     `json:"step"`
	CanScaleNow        bool    `json:"can_scale_now"`
	CooldownRemaining  float64 `json:"cooldown_remaining_seconds"`
}
