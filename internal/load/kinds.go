package load

import "fmt"

// MetricKind identifies a tracked load metric.
type MetricKind string

const (
	KindQueueLength   MetricKind = "task_queue_length"
	KindExecutionTime MetricKind = "task_execution_time"
	KindCPUUsage      MetricKind = "cpu_usage"
	KindMemoryUsage   MetricKind = "memory_usage"
	KindCombinedLoad  MetricKind = "combined_load"
)

// trackedKinds lists every kind a series is kept for, in a stable order.
var trackedKinds = []MetricKind{
	KindQueueLength,
	KindExecutionTime,
	KindCPUUsage,
	KindMemoryUsage,
	KindCombinedLoad,
}

// Trend is the qualitative direction of recent combined load.
type Trend string

const (
	TrendStable     Trend = "stable"
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendSpiking    Trend = "spiking"
)

// Level buckets a combined-load value against the combined thresholds.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Priority ranks a task for scaling-advisory purposes.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority accepts the names produced by Priority.String.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}
