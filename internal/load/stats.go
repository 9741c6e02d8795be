package load

import (
	"math"
	"sort"
)

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func stddev(vs []float64) float64 {
	if len(vs) < 2 {
		return 0
	}
	m := mean(vs)
	var sum float64
	for _, v := range vs {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vs)))
}

// slope is the least-squares linear coefficient of vs over indices 0..n-1.
func slope(vs []float64) float64 {
	n := float64(len(vs))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range vs {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// percentile returns the p-th percentile (0-100) by rank, matching the
// index-based selection the threshold tuner expects.
func percentile(vs []float64, p float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := make([]float64, len(vs))
	copy(sorted, vs)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * p / 100.0)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// periodicity scores the strongest non-zero-lag autocorrelation of vs,
// normalized to [0,1] by the zero-lag term. Series shorter than 10 samples
// carry too little evidence and score 0.
func periodicity(vs []float64) float64 {
	if len(vs) < 10 {
		return 0
	}
	var zero float64
	for _, v := range vs {
		zero += v * v
	}
	if zero <= 0 {
		return 0
	}
	best := 0.0
	for lag := 1; lag < len(vs); lag++ {
		var ac float64
		for i := 0; i+lag < len(vs); i++ {
			ac += vs[i] * vs[i+lag]
		}
		if ac > best {
			best = ac
		}
	}
	score := best / zero
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
