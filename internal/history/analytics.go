package history

import (
	"time"
)

// DirectionCount tallies events by direction.
type DirectionCount struct {
	Total int `json:"total"`
	Up    int `json:"up"`
	Down  int `json:"down"`
}

// Summary aggregates scaling activity over a look-back period.
type Summary struct {
	PeriodHours    float64                   `json:"period_hours"`
	TotalEvents    int                       `json:"total_events"`
	ScaleUpCount   int                       `json:"scale_up_count"`
	ScaleDownCount int                       `json:"scale_down_count"`
	ByTrigger      map[string]DirectionCount `json:"by_trigger"`
	ByPool         map[string]DirectionCount `json:"by_pool"`
}

// Summarize counts events within the period, grouped by trigger and pool.
// An empty pool matches all pools.
func (s *Store) Summarize(pool string, periodHours float64) Summary {
	events := s.Events(Filter{Pool: pool, Since: s.periodStart(periodHours)})

	out := Summary{
		PeriodHours: periodHours,
		ByTrigger:   make(map[string]DirectionCount),
		ByPool:      make(map[string]DirectionCount),
	}
	for _, e := range events {
		out.TotalEvents++
		t := out.ByTrigger[e.Trigger]
		p := out.ByPool[e.PoolName]
		t.Total++
		p.Total++
		switch e.Direction {
		case DirectionUp:
			out.ScaleUpCount++
			t.Up++
			p.Up++
		case DirectionDown:
			out.ScaleDownCount++
			t.Down++
			p.Down++
		}
		out.ByTrigger[e.Trigger] = t
		out.ByPool[e.PoolName] = p
	}
	return out
}

// RateBucket is one charting interval of scaling activity.
type RateBucket struct {
	Timestamp    float64 `json:"timestamp"`
	TimestampStr string  `json:"timestamp_str"`
	UpCount      int     `json:"up_count"`
	DownCount    int     `json:"down_count"`
}

// Rate buckets up/down counts over the period at the given interval.
// Buckets are returned oldest-first and cover the whole period, empty
// intervals included.
func (s *Store) Rate(pool string, periodHours float64, intervalMinutes int) []RateBucket {
	if intervalMinutes < 1 {
		intervalMinutes = 1
	}
	start := s.periodStart(periodHours)
	end := float64(s.clock.Now().UnixNano()) / 1e9
	width := float64(intervalMinutes) * 60

	n := int((end-start)/width) + 1
	buckets := make([]RateBucket, n)
	for i := range buckets {
		ts := start + float64(i)*width
		buckets[i] = RateBucket{
			Timestamp:    ts,
			TimestampStr: time.Unix(int64(ts), 0).UTC().Format(time.RFC3339),
		}
	}

	for _, e := range s.Events(Filter{Pool: pool, Since: start}) {
		idx := int((e.Timestamp - start) / width)
		if idx < 0 || idx >= n {
			continue
		}
		switch e.Direction {
		case DirectionUp:
			buckets[idx].UpCount++
		case DirectionDown:
			buckets[idx].DownCount++
		}
	}
	return buckets
}

// SuccessRate is the per-trigger outcome tally.
type SuccessRate struct {
	Total       int     `json:"total"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// MetricStat summarizes one snapshot metric across matching events.
type MetricStat struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// TriggerAnalysis reports per-trigger success rates and the distribution of
// the metric snapshots captured with each trigger's events.
type TriggerAnalysis struct {
	PeriodHours  float64                          `json:"period_hours"`
	SuccessRates map[string]SuccessRate           `json:"success_rates"`
	MetricsStats map[string]map[string]MetricStat `json:"metrics_stats"`
}

// AnalyzeTriggers computes success rates and metric statistics per trigger
// over the period.
func (s *Store) AnalyzeTriggers(pool string, periodHours float64) TriggerAnalysis {
	events := s.Events(Filter{Pool: pool, Since: s.periodStart(periodHours)})

	out := TriggerAnalysis{
		PeriodHours:  periodHours,
		SuccessRates: make(map[string]SuccessRate),
		MetricsStats: make(map[string]map[string]MetricStat),
	}
	sums := make(map[string]map[string]float64)

	for _, e := range events {
		r := out.SuccessRates[e.Trigger]
		r.Total++
		if e.Success {
			r.Successes++
		}
		out.SuccessRates[e.Trigger] = r

		if len(e.Metrics) == 0 {
			continue
		}
		stats, ok := out.MetricsStats[e.Trigger]
		if !ok {
			stats = make(map[string]MetricStat)
			out.MetricsStats[e.Trigger] = stats
			sums[e.Trigger] = make(map[string]float64)
		}
		for name, v := range e.Metrics {
			st, seen := stats[name]
			if !seen || v < st.Min {
				st.Min = v
			}
			if !seen || v > st.Max {
				st.Max = v
			}
			st.Count++
			stats[name] = st
			sums[e.Trigger][name] += v
		}
	}

	for trigger, stats := range out.MetricsStats {
		for name, st := range stats {
			st.Avg = sums[trigger][name] / float64(st.Count)
			stats[name] = st
		}
	}
	for trigger, r := range out.SuccessRates {
		if r.Total > 0 {
			r.SuccessRate = float64(r.Successes) / float64(r.Total)
		}
		out.SuccessRates[trigger] = r
	}
	return out
}
