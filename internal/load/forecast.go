package load

// Forecast weights: current value, first difference, second difference,
// periodicity.
var forecastWeights = [4]float64{0.7, 0.2, 0.05, 0.05}

// forecastKinds are the metrics a forecast is produced for.
var forecastKinds = []MetricKind{
	KindQueueLength,
	KindCPUUsage,
	KindMemoryUsage,
	KindCombinedLoad,
}

// Prediction is a single forecast value with its reliability estimate.
type Prediction struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Forecast bundles the per-metric predictions for one horizon.
type Forecast struct {
	HorizonMinutes int                       `json:"minutes_ahead"`
	Predictions    map[MetricKind]Prediction `json:"predictions"`
	Timestamp      float64                   `json:"timestamp"`
}

// Predict produces a short-horizon forecast per tracked metric. It is a pure
// function of the retained series and the horizon: identical inputs yield
// identical outputs. Series shorter than the trend window fall back to the
// latest value at half confidence.
func (e *Engine) Predict(scope string, horizonMinutes int) Forecast {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.predictLocked(scope, horizonMinutes)
}

func (e *Engine) predictLocked(scope string, horizonMinutes int) Forecast {
	out := Forecast{
		HorizonMinutes: horizonMinutes,
		Predictions:    make(map[MetricKind]Prediction, len(forecastKinds)),
		Timestamp:      e.now(),
	}

	for _, kind := range forecastKinds {
		s, ok := e.scopes[scope][kind]
		if !ok || s.len() < e.windowSize {
			out.Predictions[kind] = Prediction{
				Value:      e.latest(scope, kind),
				Confidence: 0.5,
			}
			continue
		}
		out.Predictions[kind] = forecast(s.tail(e.windowSize), s.len(), s.cap(), horizonMinutes)
	}
	return out
}

// forecast extrapolates from the window: latest value, its first and second
// differences and a periodicity score, blended by the forecast weights and
// floored at zero. Confidence averages history coverage and series stability.
func forecast(window []float64, histLen, capacity, horizon int) Prediction {
	h := float64(horizon)
	current := window[len(window)-1]

	var delta float64
	if len(window) >= 2 {
		delta = window[len(window)-1] - window[len(window)-2]
	}
	var accel float64
	if len(window) >= 3 {
		prev := window[len(window)-2] - window[len(window)-3]
		accel = delta - prev
	}
	p := periodicity(window)

	value := current +
		forecastWeights[0]*current +
		forecastWeights[1]*delta*h +
		forecastWeights[2]*accel*h*h/2 +
		forecastWeights[3]*p*current
	if value < 0 {
		value = 0
	}

	histFactor := float64(histLen) / float64(capacity)
	if histFactor > 1 {
		histFactor = 1
	}
	m := mean(window)
	if m <= 0 {
		m = 1
	}
	instability := stddev(window) / m
	if instability > 1 {
		instability = 1
	}
	confidence := (histFactor + (1 - instability)) / 2

	return Prediction{Value: value, Confidence: confidence}
}
