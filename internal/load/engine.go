package load

import (
	"log/slog"
	"strconv"
	"sync"

	"code.cloudfoundry.org/clock"
)

// GlobalScope is the scope key for host-wide metrics. Pool-scoped updates are
// mirrored into it so that the global combined load reflects every pool.
const GlobalScope = "global"

// Combined-load component weights: queue, execution time, CPU, memory.
var combinedWeights = [4]float64{0.40, 0.20, 0.25, 0.15}

// Thresholds bucket a metric into low/medium/high bands. The ordering
// low < medium < high holds after every update.
type Thresholds struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

// ThresholdChange is one entry in the threshold-change log.
type ThresholdChange struct {
	Thresholds Thresholds `json:"thresholds"`
	Timestamp  float64    `json:"timestamp"`
	Manual     bool       `json:"manual,omitempty"`
}

// ExecutionTimeStats aggregates task execution times. Percentiles cover the
// most recent hundred observations.
type ExecutionTimeStats struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Options configures an Engine.
type Options struct {
	// HistorySize caps every per-kind series.
	HistorySize int
	// WindowSize is the sample window for trend analysis and forecasting.
	WindowSize int
	// SavePath is the metrics-history file; empty disables persistence.
	SavePath string
}

// Engine ingests raw metric updates, retains a bounded window per metric
// kind and scope, scores combined load, classifies trends and produces
// short-horizon forecasts.
type Engine struct {
	mu          sync.RWMutex
	logger      *slog.Logger
	clock       clock.Clock
	historySize int
	windowSize  int
	savePath    string

	scopes       map[string]map[MetricKind]*series
	thresholds   map[MetricKind]Thresholds
	thresholdLog map[MetricKind][]ThresholdChange

	execStats  ExecutionTimeStats
	execRecent *series
}

func defaultThresholds() map[MetricKind]Thresholds {
	return map[MetricKind]Thresholds{
		KindQueueLength:   {Low: 2, Medium: 5, High: 10},
		KindExecutionTime: {Low: 1.0, Medium: 3.0, High: 8.0},
		KindCPUUsage:      {Low: 30, Medium: 60, High: 80},
		KindMemoryUsage:   {Low: 30, Medium: 60, High: 80},
		KindCombinedLoad:  {Low: 0.3, Medium: 0.6, High: 0.8},
	}
}

// NewEngine creates a load engine and restores any persisted history. A
// missing or corrupt state file degrades to a cold start with a warning.
func NewEngine(opts Options, clk clock.Clock, logger *slog.Logger) *Engine {
	if opts.HistorySize < 1 {
		opts.HistorySize = 60
	}
	if opts.WindowSize < 2 {
		opts.WindowSize = 10
	}
	e := &Engine{
		logger:       logger.With("component", "load-engine"),
		clock:        clk,
		historySize:  opts.HistorySize,
		windowSize:   opts.WindowSize,
		savePath:     opts.SavePath,
		scopes:       make(map[string]map[MetricKind]*series),
		thresholds:   defaultThresholds(),
		thresholdLog: make(map[MetricKind][]ThresholdChange),
		execRecent:   newSeries(execRecentSize),
	}
	if e.savePath != "" {
		e.restore()
	}
	return e
}

const execRecentSize = 100

func (e *Engine) series(scope string, kind MetricKind) *series {
	kinds, ok := e.scopes[scope]
	if !ok {
		kinds = make(map[MetricKind]*series)
		e.scopes[scope] = kinds
	}
	s, ok := kinds[kind]
	if !ok {
		s = newSeries(e.historySize)
		kinds[kind] = s
	}
	return s
}

func (e *Engine) now() float64 {
	return float64(e.clock.Now().UnixNano()) / 1e9
}

// UpdateQueueLength records the queue depth of a pool. The sample lands in
// the pool's scope and in the global scope so both combined loads move.
func (e *Engine) UpdateQueueLength(pool string, queueLength int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	smp := Sample{
		Value:     float64(queueLength),
		Timestamp: e.now(),
		Tags:      map[string]string{"pool": pool},
	}
	e.series(pool, KindQueueLength).append(smp)
	e.series(GlobalScope, KindQueueLength).append(smp)
	e.recomputeCombined(pool)
	e.recomputeCombined(GlobalScope)

	e.logger.Debug("queue length updated", "pool", pool, "queue_length", queueLength)
}

// RecordExecutionTime records one task execution duration in seconds.
func (e *Engine) RecordExecutionTime(pool string, seconds float64, taskType string, priority Priority) {
	e.mu.Lock()
	defer e.mu.Unlock()

	smp := Sample{
		Value:     seconds,
		Timestamp: e.now(),
		Tags: map[string]string{
			"pool":      pool,
			"task_type": taskType,
			"priority":  strconv.Itoa(int(priority)),
		},
	}
	e.series(pool, KindExecutionTime).append(smp)
	e.series(GlobalScope, KindExecutionTime).append(smp)

	e.execStats.Count++
	e.execStats.Sum += seconds
	if e.execStats.Count == 1 || seconds < e.execStats.Min {
		e.execStats.Min = seconds
	}
	if seconds > e.execStats.Max {
		e.execStats.Max = seconds
	}
	e.execStats.Mean = e.execStats.Sum / float64(e.execStats.Count)
	e.execRecent.append(Sample{Value: seconds, Timestamp: smp.Timestamp})
	if e.execRecent.len() >= 5 {
		recent := e.execRecent.values()
		e.execStats.P50 = percentile(recent, 50)
		e.execStats.P90 = percentile(recent, 90)
		e.execStats.P95 = percentile(recent, 95)
		e.execStats.P99 = percentile(recent, 99)
	}

	e.recomputeCombined(pool)
	e.recomputeCombined(GlobalScope)

	e.logger.Debug("execution time recorded",
		"pool", pool, "seconds", seconds, "task_type", taskType, "priority", priority.String())
}

// UpdateCPUUsage records host CPU utilization in percent (global scope).
func (e *Engine) UpdateCPUUsage(percent float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.series(GlobalScope, KindCPUUsage).append(Sample{Value: percent, Timestamp: e.now()})
	e.recomputeCombined(GlobalScope)
}

// UpdateMemoryUsage records host memory utilization in percent (global scope).
func (e *Engine) UpdateMemoryUsage(percent float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.series(GlobalScope, KindMemoryUsage).append(Sample{Value: percent, Timestamp: e.now()})
	e.recomputeCombined(GlobalScope)
}

// latest returns the newest value for kind within scope. CPU and memory fall
// back to the global scope because they are only sampled host-wide.
func (e *Engine) latest(scope string, kind MetricKind) float64 {
	if kinds, ok := e.scopes[scope]; ok {
		if s, ok := kinds[kind]; ok {
			if smp, ok := s.last(); ok {
				return smp.Value
			}
		}
	}
	if scope != GlobalScope && (kind == KindCPUUsage || kind == KindMemoryUsage) {
		return e.latest(GlobalScope, kind)
	}
	return 0
}

// recomputeCombined scores the scope's combined load and appends it to the
// scope's combined series. Caller holds the write lock.
func (e *Engine) recomputeCombined(scope string) float64 {
	norm := func(kind MetricKind) float64 {
		high := e.thresholds[kind].High
		if high <= 0 {
			return 0
		}
		v := e.latest(scope, kind) / high
		if v > 1 {
			v = 1
		}
		if v < 0 {
			v = 0
		}
		return v
	}

	combined := combinedWeights[0]*norm(KindQueueLength) +
		combinedWeights[1]*norm(KindExecutionTime) +
		combinedWeights[2]*norm(KindCPUUsage) +
		combinedWeights[3]*norm(KindMemoryUsage)

	e.series(scope, KindCombinedLoad).append(Sample{
		Value:     combined,
		Timestamp: e.now(),
		Tags:      map[string]string{"scope": scope},
	})
	return combined
}

// CombinedLoad returns the scope's latest combined-load score in [0,1].
// An unseen scope scores 0.
func (e *Engine) CombinedLoad(scope string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest(scope, KindCombinedLoad)
}

// Trend classifies the direction of the scope's combined load over the last
// window samples. Fewer than window samples is insufficient evidence and
// reads as stable.
func (e *Engine) Trend(scope string, window int) Trend {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trendLocked(scope, window)
}

func (e *Engine) trendLocked(scope string, window int) Trend {
	if window < 2 {
		window = e.windowSize
	}
	kinds, ok := e.scopes[scope]
	if !ok {
		return TrendStable
	}
	s, ok := kinds[KindCombinedLoad]
	if !ok || s.len() < window {
		return TrendStable
	}
	recent := s.tail(window)

	m := mean(recent)
	cv := 0.0
	if m > 0 {
		cv = stddev(recent) / m
	}
	sl := slope(recent)

	switch {
	case cv > 0.3:
		return TrendSpiking
	case sl > 0.05:
		return TrendIncreasing
	case sl < -0.05:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// Thresholds returns a copy of the current per-kind thresholds.
func (e *Engine) Thresholds() map[MetricKind]Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[MetricKind]Thresholds, len(e.thresholds))
	for k, v := range e.thresholds {
		out[k] = v
	}
	return out
}

// ThresholdLog returns the recorded threshold changes for one kind.
func (e *Engine) ThresholdLog(kind MetricKind) []ThresholdChange {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]ThresholdChange(nil), e.thresholdLog[kind]...)
}

// ExecStats returns a copy of the aggregate execution-time statistics.
func (e *Engine) ExecStats() ExecutionTimeStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.execStats
}

func (e *Engine) level(combined float64) Level {
	th := e.thresholds[KindCombinedLoad]
	switch {
	case combined < th.Low:
		return LevelLow
	case combined < th.Medium:
		return LevelMedium
	case combined < th.High:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Status is a point-in-time view of the load state for one scope.
type Status struct {
	Metrics       map[MetricKind]float64 `json:"metrics"`
	ExecStats     ExecutionTimeStats     `json:"execution_time_stats"`
	Level         Level                  `json:"load_level"`
	Trend         Trend                  `json:"load_trend"`
	PredictedLoad Forecast               `json:"predicted_load"`
	Timestamp     float64                `json:"timestamp"`
}

// CurrentLoad reports the scope's latest metric values, load level, trend
// and a five-minute forecast. Sparse history yields neutral defaults.
func (e *Engine) CurrentLoad(scope string) Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	metrics := make(map[MetricKind]float64, len(trackedKinds))
	for _, kind := range trackedKinds {
		metrics[kind] = e.latest(scope, kind)
	}
	return Status{
		Metrics:       metrics,
		ExecStats:     e.execStats,
		Level:         e.level(metrics[KindCombinedLoad]),
		Trend:         e.trendLocked(scope, e.windowSize),
		PredictedLoad: e.predictLocked(scope, 5),
		Timestamp:     e.now(),
	}
}
