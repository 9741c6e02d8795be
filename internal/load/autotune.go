package load

const (
	// Blend factors for threshold smoothing: keep most of the current value
	// so a burst of unusual samples cannot whipsaw the bands.
	tuneKeepWeight  = 0.7
	tuneBlendWeight = 0.3

	minTuneSamples   = 10
	thresholdLogSize = 100
)

// AutotuneThresholds re-derives the low/medium/high bands of every metric
// from the 25th/50th/90th percentiles of its global history, blended with the
// current bands. Ordering low < medium < high is enforced after blending.
// Kinds with fewer than ten samples, or a non-positive median, keep their
// current bands.
func (e *Engine) AutotuneThresholds() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, kind := range trackedKinds {
		s, ok := e.scopes[GlobalScope][kind]
		if !ok || s.len() < minTuneSamples {
			continue
		}
		values := s.values()

		candidate := Thresholds{
			Low:    percentile(values, 25),
			Medium: percentile(values, 50),
			High:   percentile(values, 90),
		}
		if candidate.Medium <= 0 {
			// A zero median would collapse the bands.
			continue
		}

		current := e.thresholds[kind]
		next := Thresholds{
			Low:    current.Low*tuneKeepWeight + candidate.Low*tuneBlendWeight,
			Medium: current.Medium*tuneKeepWeight + candidate.Medium*tuneBlendWeight,
			High:   current.High*tuneKeepWeight + candidate.High*tuneBlendWeight,
		}
		// Clamp to guarantee ordering.
		if next.Low > next.Medium*0.7 {
			next.Low = next.Medium * 0.7
		}
		if next.High < next.Medium*1.3 {
			next.High = next.Medium * 1.3
		}

		e.thresholds[kind] = next
		e.appendThresholdLog(kind, ThresholdChange{
			Thresholds: next,
			Timestamp:  e.now(),
		})

		e.logger.Info("thresholds adjusted",
			"metric", string(kind), "low", next.Low, "medium", next.Medium, "high", next.High)
	}
}

// SetThresholds overrides one kind's bands. The ordering low < medium < high
// is required; invalid combinations are rejected with a warning.
func (e *Engine) SetThresholds(kind MetricKind, low, medium, high float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.thresholds[kind]; !ok {
		e.logger.Warn("unknown metric kind", "metric", string(kind))
		return false
	}
	if !(low < medium && medium < high) {
		e.logger.Warn("rejecting unordered thresholds",
			"metric", string(kind), "low", low, "medium", medium, "high", high)
		return false
	}

	next := Thresholds{Low: low, Medium: medium, High: high}
	e.thresholds[kind] = next
	e.appendThresholdLog(kind, ThresholdChange{
		Thresholds: next,
		Timestamp:  e.now(),
		Manual:     true,
	})
	e.logger.Info("thresholds set manually",
		"metric", string(kind), "low", low, "medium", medium, "high", high)
	return true
}

func (e *Engine) appendThresholdLog(kind MetricKind, change ThresholdChange) {
	log := append(e.thresholdLog[kind], change)
	if len(log) > thresholdLogSize {
		log = log[len(log)-thresholdLogSize:]
	}
	e.thresholdLog[kind] = log
}
