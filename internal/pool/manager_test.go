package pool

import (
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock"

	"Strato/internal/history"
	"Strato/internal/load"
)

func newTestManager(t *testing.T) (*Manager, *history.Store) {
	t.Helper()
	clk := clock.NewClock()
	engine := load.NewEngine(load.Options{}, clk, testLogger())
	hist := history.New(history.Options{}, clk, nil, testLogger())
	policy := Policy{
		Trigger:            TriggerQueueLength,
		MinWorkers:         1,
		MaxWorkers:         5,
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.2,
		Step:               1,
	}
	return NewManager(policy, engine, hist, clk, nil, testLogger()), hist
}

func TestCreatePoolIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	first := m.CreatePool("workers", nil)
	second := m.CreatePool("workers", nil)

	if first != second {
		t.Error("expected the existing pool on a name collision")
	}
	if got := len(m.Names()); got != 1 {
		t.Errorf("expected 1 pool, got %d", got)
	}
}

func TestCreatePoolSanitizesPolicy(t *testing.T) {
	m, _ := newTestManager(t)

	p := m.CreatePool("workers", &Policy{MinWorkers: 0, MaxWorkers: -3, ScaleUpThreshold: 0.1, ScaleDownThreshold: 0.9})
	st := p.Status()
	if st.Policy.MinWorkers < 1 || st.Policy.MaxWorkers < st.Policy.MinWorkers {
		t.Errorf("expected corrected bounds, got %+v", st.Policy)
	}
}

func TestStatusSnapshotsOnePool(t *testing.T) {
	m, _ := newTestManager(t)
	m.CreatePool("workers", nil)

	st, ok := m.Status("workers")
	if !ok || st.Name != "workers" || st.WorkerCount != 1 {
		t.Errorf("unexpected snapshot: ok=%v %+v", ok, st)
	}
	if _, ok := m.Status("missing"); ok {
		t.Error("expected no snapshot for unknown pool")
	}
}

func TestManualScaleClampsToMax(t *testing.T) {
	m, hist := newTestManager(t)
	m.CreatePool("workers", nil)

	if !m.ManualScale("workers", 10, "burst expected") {
		t.Error("expected clamped manual scale to succeed")
	}
	if got := m.Get("workers").WorkerCount(); got != 5 {
		t.Errorf("expected clamp to max=5, got %d", got)
	}

	events := hist.Events(history.Filter{Pool: "workers"})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Trigger != "manual" || e.Direction != history.DirectionUp {
		t.Errorf("unexpected event attribution: %+v", e)
	}
	if e.PrevCount != 1 || e.NewCount != 5 || !e.Success {
		t.Errorf("unexpected event counts: %+v", e)
	}
	if _, ok := e.Metrics["combined_load"]; !ok {
		t.Error("expected a load snapshot on the event")
	}
}

func TestScaleUnknownPool(t *testing.T) {
	m, hist := newTestManager(t)

	if m.ManualScale("missing", 3, "typo") {
		t.Error("expected scaling an unknown pool to fail")
	}
	if got := hist.Len(); got != 0 {
		t.Errorf("expected no event for unknown pool, got %d", got)
	}
}

func TestScaleStalledShrinkIsUnsuccessful(t *testing.T) {
	m, hist := newTestManager(t)
	p := m.CreatePool("workers", nil)
	m.ManualScale("workers", 4, "prep")

	p.mu.Lock()
	for _, w := range p.workers {
		w.Busy = true
	}
	p.mu.Unlock()

	if m.ManualScale("workers", 1, "wind down") {
		t.Error("expected stalled shrink to report failure")
	}
	events := hist.Events(history.Filter{Pool: "workers", Direction: history.DirectionNone})
	if len(events) != 1 || events[0].Success {
		t.Errorf("expected one unsuccessful no-movement event, got %+v", events)
	}
}

func TestConcurrentScalesAreSerialized(t *testing.T) {
	m, hist := newTestManager(t)
	m.CreatePool("workers", &Policy{
		Trigger:            TriggerQueueLength,
		MinWorkers:         1,
		MaxWorkers:         100,
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.2,
		Step:               1,
	})

	var wg sync.WaitGroup
	for target := 2; target <= 21; target++ {
		wg.Add(1)
		go func(target int) {
			defer wg.Done()
			m.ManualScale("workers", target, "concurrent")
		}(target)
	}
	wg.Wait()

	events := hist.Events(history.Filter{Pool: "workers"})
	if len(events) != 20 {
		t.Fatalf("expected 20 events, got %d", len(events))
	}
	// Oldest first. Each event's prev_count must match the count the
	// preceding action left behind; interleaved scales would record stale
	// snapshots here.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	if events[0].PrevCount != 1 {
		t.Errorf("first event recorded prev_count %d, want 1", events[0].PrevCount)
	}
	for i := 1; i < len(events); i++ {
		if events[i].PrevCount != events[i-1].NewCount {
			t.Errorf("event %d recorded prev_count %d, want %d from the preceding event",
				i, events[i].PrevCount, events[i-1].NewCount)
		}
	}
}

func TestScaleResetsCooldown(t *testing.T) {
	m, _ := newTestManager(t)
	p := m.CreatePool("workers", &Policy{
		Trigger:            TriggerQueueLength,
		MinWorkers:         1,
		MaxWorkers:         5,
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.2,
		Cooldown:           time.Hour,
		Step:               1,
	})

	m.ManualScale("workers", 3, "warm up")

	if p.Status().Policy.CanScaleNow {
		t.Error("expected cooldown active after scaling")
	}
}

func TestUpdatePolicyResizesIntoBounds(t *testing.T) {
	m, _ := newTestManager(t)
	m.CreatePool("workers", nil)
	m.ManualScale("workers", 4, "prep")

	maxWorkers := 2
	if !m.UpdatePolicy("workers", PolicyPatch{MaxWorkers: &maxWorkers}) {
		t.Fatal("expected policy update to succeed")
	}
	if got := m.Get("workers").WorkerCount(); got != 2 {
		t.Errorf("expected pool pulled down to new max=2, got %d", got)
	}
}

func TestUpdatePolicyGrowsToNewMin(t *testing.T) {
	m, _ := newTestManager(t)
	m.CreatePool("workers", nil)

	minWorkers := 3
	m.UpdatePolicy("workers", PolicyPatch{MinWorkers: &minWorkers})
	if got := m.Get("workers").WorkerCount(); got != 3 {
		t.Errorf("expected pool grown to new min=3, got %d", got)
	}
}

func TestUpdatePolicyIgnoresInvalidTrigger(t *testing.T) {
	m, _ := newTestManager(t)
	m.CreatePool("workers", nil)

	bogus := "disk_usage"
	m.UpdatePolicy("workers", PolicyPatch{Trigger: &bogus})
	if got := m.Get("workers").Status().Policy.Trigger; got != TriggerQueueLength {
		t.Errorf("expected trigger unchanged, got %s", got)
	}
}

func TestUpdatePolicyUnknownPool(t *testing.T) {
	m, _ := newTestManager(t)
	if m.UpdatePolicy("missing", PolicyPatch{}) {
		t.Error("expected update on unknown pool to fail")
	}
}
