package load

import (
	"reflect"
	"testing"
)

func TestPredictSparseHistoryFallsBack(t *testing.T) {
	e, _ := newTestEngine(t, Options{WindowSize: 10})

	e.UpdateQueueLength("p", 5)

	f := e.Predict(GlobalScope, 15)
	p, ok := f.Predictions[KindQueueLength]
	if !ok {
		t.Fatal("expected a queue length prediction")
	}
	if p.Value != 5 {
		t.Errorf("expected fallback to latest value 5, got %f", p.Value)
	}
	if p.Confidence != 0.5 {
		t.Errorf("expected fallback confidence 0.5, got %f", p.Confidence)
	}
}

func TestPredictCoversForecastKinds(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	f := e.Predict(GlobalScope, 15)
	for _, kind := range []MetricKind{KindQueueLength, KindCPUUsage, KindMemoryUsage, KindCombinedLoad} {
		if _, ok := f.Predictions[kind]; !ok {
			t.Errorf("missing prediction for %s", kind)
		}
	}
	if f.HorizonMinutes != 15 {
		t.Errorf("expected horizon 15, got %d", f.HorizonMinutes)
	}
}

func TestPredictIsPure(t *testing.T) {
	e, _ := newTestEngine(t, Options{WindowSize: 5})

	for _, q := range []int{1, 2, 3, 4, 5, 6, 7} {
		e.UpdateQueueLength("p", q)
	}

	a := e.Predict(GlobalScope, 10)
	b := e.Predict(GlobalScope, 10)
	a.Timestamp, b.Timestamp = 0, 0
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same history produced different forecasts:\n%+v\n%+v", a, b)
	}
}

func TestPredictNeverNegative(t *testing.T) {
	e, _ := newTestEngine(t, Options{WindowSize: 5})

	// Steep decline extrapolates below zero without the floor.
	for _, q := range []int{50, 40, 30, 20, 10, 0} {
		e.UpdateQueueLength("p", q)
	}

	f := e.Predict(GlobalScope, 60)
	for kind, p := range f.Predictions {
		if p.Value < 0 {
			t.Errorf("negative forecast for %s: %f", kind, p.Value)
		}
	}
}

func TestPredictConfidenceGrowsWithHistory(t *testing.T) {
	opts := Options{HistorySize: 20, WindowSize: 5}

	sparse, _ := newTestEngine(t, opts)
	for i := 0; i < 5; i++ {
		sparse.UpdateQueueLength("p", 5)
	}
	full, _ := newTestEngine(t, opts)
	for i := 0; i < 40; i++ {
		full.UpdateQueueLength("p", 5)
	}

	ps := sparse.Predict(GlobalScope, 10).Predictions[KindQueueLength]
	pf := full.Predict(GlobalScope, 10).Predictions[KindQueueLength]
	if pf.Confidence <= ps.Confidence {
		t.Errorf("expected confidence to grow with history: sparse=%f full=%f",
			ps.Confidence, pf.Confidence)
	}
}
