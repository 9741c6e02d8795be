package app

import (
	"context"
	"log/slog"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/prometheus/client_golang/prometheus"

	"Strato/internal/api"
	"Strato/internal/config"
	"Strato/internal/controller"
	"Strato/internal/history"
	"Strato/internal/leaderelection"
	"Strato/internal/load"
	"Strato/internal/metrics"
	"Strato/internal/pool"
	"Strato/internal/sampler"
)

// App owns every subsystem of the control plane and wires them together.
// All state hangs off this object; two Apps in one process are fully
// independent.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	clock    clock.Clock
	registry *prometheus.Registry
	met      *metrics.Metrics

	engine  *load.Engine
	hist    *history.Store
	manager *pool.Manager
	ctrl    *controller.Controller
	smp     *sampler.Sampler
	elector *leaderelection.Elector
	server  *api.Server
}

// New builds an application from configuration. Nothing runs until Run.
func New(cfg *config.Config, version string, logger *slog.Logger) *App {
	clk := clock.NewClock()
	registry := prometheus.NewRegistry()
	met := metrics.NewMetrics(registry)
	met.ControllerInfo.WithLabelValues(version).Set(1)

	engine := load.NewEngine(load.Options{
		HistorySize: cfg.Engine.HistorySize,
		WindowSize:  cfg.Engine.WindowSize,
		SavePath:    cfg.Engine.SavePath,
	}, clk, logger)

	hist := history.New(history.Options{
		Path:      cfg.History.Path,
		MaxEvents: cfg.History.MaxEvents,
	}, clk, met, logger)

	manager := pool.NewManager(pool.PolicyFromConfig(cfg.DefaultPolicy), engine, hist, clk, met, logger)

	var ctrl *controller.Controller
	if cfg.Controller.Enabled {
		ctrl = controller.New(controller.Options{
			CheckInterval:    cfg.Controller.CheckInterval,
			PredictionWindow: cfg.Controller.PredictionWindow,
			MaxDecisions:     cfg.Controller.MaxDecisions,
		}, engine, manager, clk, met, logger)
	}

	var smp *sampler.Sampler
	if cfg.Sampler.Enabled {
		smp = sampler.New(sampler.Options{
			Interval:         cfg.Sampler.Interval,
			AutotuneInterval: cfg.Engine.AutotuneInterval,
			SaveInterval:     cfg.Engine.SaveInterval,
		}, engine, clk, met, logger)
	}

	elector := leaderelection.New(leaderelection.Config{
		Enabled:      cfg.LeaderElection.Enabled,
		LockFilePath: cfg.LeaderElection.LockFilePath,
		RetryPeriod:  cfg.LeaderElection.RetryPeriod,
	}, clk, met, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		clock:    clk,
		registry: registry,
		met:      met,
		engine:   engine,
		hist:     hist,
		manager:  manager,
		ctrl:     ctrl,
		smp:      smp,
		elector:  elector,
		server:   api.New(cfg, engine, manager, hist, ctrl, registry, logger),
	}
}

// Engine exposes the load engine for embedding callers.
func (a *App) Engine() *load.Engine { return a.engine }

// Manager exposes the pool registry for embedding callers.
func (a *App) Manager() *pool.Manager { return a.manager }

// History exposes the scaling event log for embedding callers.
func (a *App) History() *history.Store { return a.hist }

// Controller exposes the decision controller, nil when disabled.
func (a *App) Controller() *controller.Controller { return a.ctrl }

// Run starts every enabled subsystem and blocks until ctx is cancelled, then
// drains the pools and persists final state. The decision controller only
// runs while this process holds leadership.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.manager.Start(runCtx)

	if a.smp != nil {
		go a.smp.Run(runCtx)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start(runCtx)
	}()

	electionErr := make(chan error, 1)
	go func() {
		electionErr <- a.elector.Run(runCtx,
			func(leaderCtx context.Context) {
				if a.ctrl == nil {
					return
				}
				a.logger.Info("became leader, starting decision controller")
				a.ctrl.Run(leaderCtx)
			},
			func(context.Context) {
				a.logger.Info("stopped being leader")
			},
		)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serverErr:
		cancel()
	case err = <-electionErr:
		cancel()
	}

	a.shutdown()
	return err
}

func (a *App) shutdown() {
	a.manager.StopAll(30 * time.Second)

	if err := a.engine.Save(); err != nil {
		a.logger.Error("failed to persist load metrics on shutdown", "error", err)
	}
	a.logger.Info("shutdown complete")
}
