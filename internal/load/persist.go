package load

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// stateVersion guards the on-disk schema; bump it when the layout changes so
// stale files degrade to a cold start instead of silently corrupting state.
const stateVersion = 1

type persistedState struct {
	Version          int                             `json:"version"`
	MetricsHistory   map[string][]Sample             `json:"metrics_history"`
	ScopedHistory    map[string]map[string][]Sample  `json:"scoped_history,omitempty"`
	ThresholdHistory map[string][]ThresholdChange    `json:"threshold_history"`
	Thresholds       map[string]Thresholds           `json:"thresholds"`
	ExecStats        ExecutionTimeStats              `json:"execution_time_stats"`
	ExecRecent       []Sample                        `json:"execution_time_recent"`
	UpdatedAt        float64                         `json:"updated_at"`
}

// Save writes the metrics history, thresholds and execution statistics to the
// configured state file. A write failure leaves the engine in memory-only
// mode; the caller decides whether to retry.
func (e *Engine) Save() error {
	if e.savePath == "" {
		return nil
	}

	e.mu.RLock()
	state := persistedState{
		Version:          stateVersion,
		MetricsHistory:   make(map[string][]Sample),
		ScopedHistory:    make(map[string]map[string][]Sample),
		ThresholdHistory: make(map[string][]ThresholdChange, len(e.thresholdLog)),
		Thresholds:       make(map[string]Thresholds, len(e.thresholds)),
		ExecStats:        e.execStats,
		ExecRecent:       e.execRecent.samples(),
		UpdatedAt:        e.now(),
	}
	for scope, kinds := range e.scopes {
		for kind, s := range kinds {
			if scope == GlobalScope {
				state.MetricsHistory[string(kind)] = s.samples()
				continue
			}
			if state.ScopedHistory[scope] == nil {
				state.ScopedHistory[scope] = make(map[string][]Sample)
			}
			state.ScopedHistory[scope][string(kind)] = s.samples()
		}
	}
	for kind, log := range e.thresholdLog {
		state.ThresholdHistory[string(kind)] = log
	}
	for kind, th := range e.thresholds {
		state.Thresholds[string(kind)] = th
	}
	e.mu.RUnlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal load metrics state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(e.savePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(e.savePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write load metrics state: %w", err)
	}

	e.logger.Debug("load metrics state saved", "path", e.savePath)
	return nil
}

// restore loads persisted state. Absence is a normal cold start; a corrupt or
// mismatched file is logged and ignored.
func (e *Engine) restore() {
	data, err := os.ReadFile(e.savePath)
	if err != nil {
		if !os.IsNotExist(err) {
			e.logger.Warn("failed to read load metrics state, starting cold",
				"path", e.savePath, "error", err)
		}
		return
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		e.logger.Warn("corrupt load metrics state, starting cold",
			"path", e.savePath, "error", err)
		return
	}
	if state.Version != stateVersion {
		e.logger.Warn("unsupported load metrics state version, starting cold",
			"path", e.savePath, "version", state.Version)
		return
	}

	for kind, samples := range state.MetricsHistory {
		s := e.series(GlobalScope, MetricKind(kind))
		for _, smp := range samples {
			s.append(smp)
		}
	}
	for scope, kinds := range state.ScopedHistory {
		for kind, samples := range kinds {
			s := e.series(scope, MetricKind(kind))
			for _, smp := range samples {
				s.append(smp)
			}
		}
	}
	for kind, log := range state.ThresholdHistory {
		e.thresholdLog[MetricKind(kind)] = log
	}
	for kind, th := range state.Thresholds {
		if _, ok := e.thresholds[MetricKind(kind)]; ok {
			e.thresholds[MetricKind(kind)] = th
		}
	}
	e.execStats = state.ExecStats
	for _, smp := range state.ExecRecent {
		e.execRecent.append(smp)
	}

	e.logger.Info("load metrics state restored", "path", e.savePath)
}
