package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Strato/internal/config"
	"Strato/internal/controller"
	"Strato/internal/history"
	"Strato/internal/load"
	"Strato/internal/pool"
)

// Server exposes the control plane over HTTP: load inspection, pool
// management, scaling history analytics and decision auditing.
type Server struct {
	config     *config.Config
	engine     *load.Engine
	manager    *pool.Manager
	hist       *history.Store
	ctrl       *controller.Controller
	registry   *prometheus.Registry
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a new API server. ctrl may be nil when the decision controller
// is disabled; the decision endpoints then answer 404.
func New(
	cfg *config.Config,
	engine *load.Engine,
	manager *pool.Manager,
	hist *history.Store,
	ctrl *controller.Controller,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	return &Server{
		config:   cfg,
		engine:   engine,
		manager:  manager,
		hist:     hist,
		ctrl:     ctrl,
		registry: registry,
		logger:   logger.With("component", "api-server"),
	}
}

// Handler builds the route table. Split from Start so tests can drive the
// mux without a listening socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/v1/load", s.authMiddleware(s.handleLoad))
	mux.HandleFunc("GET /api/v1/load/forecast", s.authMiddleware(s.handleForecast))
	mux.HandleFunc("GET /api/v1/load/thresholds", s.authMiddleware(s.handleThresholds))

	mux.HandleFunc("GET /api/v1/pools", s.authMiddleware(s.handlePools))
	mux.HandleFunc("POST /api/v1/pools", s.authMiddleware(s.handleCreatePool))
	mux.HandleFunc("GET /api/v1/pools/{name}", s.authMiddleware(s.handlePool))
	mux.HandleFunc("POST /api/v1/pools/{name}/scale", s.authMiddleware(s.handleScale))
	mux.HandleFunc("PATCH /api/v1/pools/{name}/policy", s.authMiddleware(s.handlePolicy))

	mux.HandleFunc("GET /api/v1/events", s.authMiddleware(s.handleEvents))
	mux.HandleFunc("GET /api/v1/events/summary", s.authMiddleware(s.handleEventSummary))
	mux.HandleFunc("GET /api/v1/events/rate", s.authMiddleware(s.handleEventRate))
	mux.HandleFunc("GET /api/v1/events/triggers", s.authMiddleware(s.handleEventTriggers))

	mux.HandleFunc("GET /api/v1/decisions", s.authMiddleware(s.handleDecisions))
	mux.HandleFunc("POST /api/v1/tasks/priority", s.authMiddleware(s.handleTaskPriority))

	return s.loggingMiddleware(mux)
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Info("starting API server", "address", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", "error", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = load.GlobalScope
	}
	s.writeJSON(w, http.StatusOK, s.engine.CurrentLoad(scope))
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	minutes := 15
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "minutes must be a positive integer", err)
			return
		}
		minutes = n
	}
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = load.GlobalScope
	}
	s.writeJSON(w, http.StatusOK, s.engine.Predict(scope, minutes))
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"thresholds": s.engine.Thresholds(),
	}
	if raw := r.URL.Query().Get("kind"); raw != "" {
		response["changes"] = s.engine.ThresholdLog(load.MetricKind(raw))
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	pools := s.manager.PoolsStatus()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"count":     len(pools),
		"pools":     pools,
	})
}

// createPoolRequest carries an optional policy; omitted fields fall back to
// the configured default policy.
type createPoolRequest struct {
	Name   string            `json:"name"`
	Policy *pool.PolicyPatch `json:"policy,omitempty"`
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	p := s.manager.CreatePool(req.Name, nil)
	if req.Policy != nil {
		s.manager.UpdatePolicy(req.Name, *req.Policy)
	}
	s.writeJSON(w, http.StatusCreated, p.Status())
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	p := s.manager.Get(name)
	if p == nil {
		s.writeError(w, http.StatusNotFound, "pool not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, p.Status())
}

type scaleRequest struct {
	TargetWorkers int    `json:"target_workers"`
	Reason        string `json:"reason"`
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req scaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.TargetWorkers < 0 {
		s.writeError(w, http.StatusBadRequest, "target_workers must be >= 0", nil)
		return
	}
	if req.Reason == "" {
		req.Reason = "manual scale request"
	}

	p := s.manager.Get(name)
	if p == nil {
		s.writeError(w, http.StatusNotFound, "pool not found", nil)
		return
	}

	success := s.manager.ManualScale(name, req.TargetWorkers, req.Reason)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": success,
		"pool":    p.Status(),
	})
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var patch pool.PolicyPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if !s.manager.UpdatePolicy(name, patch) {
		s.writeError(w, http.StatusNotFound, "pool not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.manager.Get(name).Status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := history.Filter{
		Pool:      q.Get("pool"),
		Direction: history.Direction(q.Get("direction")),
		Trigger:   q.Get("trigger"),
	}
	f.Since, _ = strconv.ParseFloat(q.Get("since"), 64)
	f.Until, _ = strconv.ParseFloat(q.Get("until"), 64)
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		f.Limit = n
	}

	events := s.hist.Events(f)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"count":     len(events),
		"events":    events,
	})
}

func (s *Server) handleEventSummary(w http.ResponseWriter, r *http.Request) {
	pool, period, ok := s.analyticsParams(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.hist.Summarize(pool, period))
}

func (s *Server) handleEventRate(w http.ResponseWriter, r *http.Request) {
	pool, period, ok := s.analyticsParams(w, r)
	if !ok {
		return
	}
	interval := 60
	if raw := r.URL.Query().Get("interval_minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "interval_minutes must be a positive integer", err)
			return
		}
		interval = n
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pool":             pool,
		"period_hours":     period,
		"interval_minutes": interval,
		"buckets":          s.hist.Rate(pool, period, interval),
	})
}

func (s *Server) handleEventTriggers(w http.ResponseWriter, r *http.Request) {
	pool, period, ok := s.analyticsParams(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.hist.AnalyzeTriggers(pool, period))
}

func (s *Server) analyticsParams(w http.ResponseWriter, r *http.Request) (string, float64, bool) {
	period := 24.0
	if raw := r.URL.Query().Get("period_hours"); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p <= 0 {
			s.writeError(w, http.StatusBadRequest, "period_hours must be a positive number", err)
			return "", 0, false
		}
		period = p
	}
	return r.URL.Query().Get("pool"), period, true
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		s.writeError(w, http.StatusNotFound, "decision controller not enabled", nil)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}
	decisions := s.ctrl.Decisions(limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(decisions),
		"decisions": decisions,
	})
}

type taskPriorityRequest struct {
	TaskID            string  `json:"task_id"`
	TaskType          string  `json:"task_type"`
	Priority          string  `json:"priority"`
	EstimatedDuration float64 `json:"estimated_duration"`
}

func (s *Server) handleTaskPriority(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		s.writeError(w, http.StatusNotFound, "decision controller not enabled", nil)
		return
	}

	var req taskPriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.TaskID == "" {
		s.writeError(w, http.StatusBadRequest, "task_id is required", nil)
		return
	}
	priority, err := load.ParsePriority(req.Priority)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid priority", err)
		return
	}

	s.ctrl.RegisterTaskPriority(req.TaskID, req.TaskType, priority, req.EstimatedDuration)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "registered",
		"task_id": req.TaskID,
	})
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.config.Server.EnableAuth {
			next(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.Header.Get("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}

		if apiKey != s.config.Server.APIKey {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}

		next(w, r)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.writeJSON(w, statusCode, response)
}
