package sampler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"Strato/internal/load"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSampler(t *testing.T) (*Sampler, *load.Engine, *fakeclock.FakeClock) {
	t.Helper()
	clk := fakeclock.NewFakeClock(time.Unix(1700000000, 0))
	engine := load.NewEngine(load.Options{}, clk, testLogger())
	s := New(Options{Interval: 5 * time.Second}, engine, clk, nil, testLogger())
	return s, engine, clk
}

func TestSampleOnceFeedsEngine(t *testing.T) {
	s, engine, _ := newTestSampler(t)
	s.cpuPercent = func() (float64, error) { return 42.5, nil }
	s.memPercent = func() (float64, error) { return 61.0, nil }

	s.SampleOnce()

	status := engine.CurrentLoad(load.GlobalScope)
	if status.Metrics[load.KindCPUUsage] != 42.5 {
		t.Errorf("expected cpu 42.5, got %f", status.Metrics[load.KindCPUUsage])
	}
	if status.Metrics[load.KindMemoryUsage] != 61.0 {
		t.Errorf("expected memory 61.0, got %f", status.Metrics[load.KindMemoryUsage])
	}
}

func TestSampleOnceSkipsFailedReadings(t *testing.T) {
	s, engine, _ := newTestSampler(t)
	s.cpuPercent = func() (float64, error) { return 0, errors.New("cpu probe broken") }
	s.memPercent = func() (float64, error) { return 70.0, nil }

	s.SampleOnce()

	status := engine.CurrentLoad(load.GlobalScope)
	if status.Metrics[load.KindCPUUsage] != 0 {
		t.Errorf("expected no cpu sample recorded, got %f", status.Metrics[load.KindCPUUsage])
	}
	if status.Metrics[load.KindMemoryUsage] != 70.0 {
		t.Errorf("expected memory sample despite cpu failure, got %f",
			status.Metrics[load.KindMemoryUsage])
	}
}

func TestRunSamplesOnTick(t *testing.T) {
	s, engine, clk := newTestSampler(t)
	samples := make(chan float64, 10)
	s.cpuPercent = func() (float64, error) {
		samples <- 50
		return 50, nil
	}
	s.memPercent = func() (float64, error) { return 40, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Wait for the ticker to be registered before advancing time.
	for clk.WatcherCount() < 3 {
		time.Sleep(time.Millisecond)
	}
	clk.Increment(5 * time.Second)
	select {
	case <-samples:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sample after one interval")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not stop on context cancellation")
	}

	if got := engine.CurrentLoad(load.GlobalScope).Metrics[load.KindCPUUsage]; got != 50 {
		t.Errorf("expected cpu 50 after tick, got %f", got)
	}
}
