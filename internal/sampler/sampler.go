package sampler

import (
	"context"
	"log/slog"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"Strato/internal/load"
	"Strato/internal/metrics"
)

// Options configures the resource sampler.
type Options struct {
	Interval         time.Duration
	AutotuneInterval time.Duration
	SaveInterval     time.Duration
}

// Sampler periodically feeds host CPU and memory utilization into the load
// engine and runs the engine's slow housekeeping (threshold autotuning,
// state persistence) on their own cadences. A failed sample is logged and
// skipped; the loop never stops on error.
type Sampler struct {
	logger *slog.Logger
	clock  clock.Clock
	engine *load.Engine
	met    *metrics.Metrics
	opts   Options

	cpuPercent func() (float64, error)
	memPercent func() (float64, error)
}

// New creates a host resource sampler.
func New(opts Options, engine *load.Engine, clk clock.Clock, met *metrics.Metrics, logger *slog.Logger) *Sampler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.AutotuneInterval <= 0 {
		opts.AutotuneInterval = 10 * time.Minute
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = time.Hour
	}
	return &Sampler{
		logger:     logger.With("component", "resource-sampler"),
		clock:      clk,
		engine:     engine,
		met:        met,
		opts:       opts,
		cpuPercent: hostCPUPercent,
		memPercent: hostMemPercent,
	}
}

// Run samples until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	s.logger.Info("resource sampler starting",
		"interval", s.opts.Interval,
		"autotune_interval", s.opts.AutotuneInterval,
		"save_interval", s.opts.SaveInterval)

	sample := s.clock.NewTicker(s.opts.Interval)
	autotune := s.clock.NewTicker(s.opts.AutotuneInterval)
	save := s.clock.NewTicker(s.opts.SaveInterval)
	defer sample.Stop()
	defer autotune.Stop()
	defer save.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.engine.Save(); err != nil {
				s.logger.Error("final state save failed", "error", err)
			}
			s.logger.Info("resource sampler stopped")
			return
		case <-sample.C():
			s.SampleOnce()
		case <-autotune.C():
			s.engine.AutotuneThresholds()
		case <-save.C():
			if err := s.engine.Save(); err != nil {
				s.logger.Error("periodic state save failed", "error", err)
				if s.met != nil {
					s.met.PersistErrors.WithLabelValues("load_engine").Inc()
				}
			}
		}
	}
}

// SampleOnce takes one CPU and memory reading and records both.
func (s *Sampler) SampleOnce() {
	if pct, err := s.cpuPercent(); err != nil {
		s.logger.Warn("cpu sample failed", "error", err)
	} else {
		s.engine.UpdateCPUUsage(pct)
		if s.met != nil {
			s.met.CPUUsage.Set(pct)
		}
	}

	if pct, err := s.memPercent(); err != nil {
		s.logger.Warn("memory sample failed", "error", err)
	} else {
		s.engine.UpdateMemoryUsage(pct)
		if s.met != nil {
			s.met.MemoryUsage.Set(pct)
		}
	}
}

func hostCPUPercent() (float64, error) {
	// Non-blocking read: percentage since the previous call.
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

func hostMemPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}
