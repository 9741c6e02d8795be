package history

import (
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"Strato/internal/metrics"
)

// Direction is the sign of a worker-count change.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionNone Direction = "none"
)

// Event is one appended scaling action. Immutable once recorded.
type Event struct {
	ID        string             `json:"id"`
	PoolName  string             `json:"pool_name"`
	Direction Direction          `json:"direction"`
	Trigger   string             `json:"trigger"`
	PrevCount int                `json:"prev_count"`
	NewCount  int                `json:"new_count"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Timestamp float64            `json:"timestamp"`
	Success   bool               `json:"success"`
	Reason    string             `json:"reason"`
}

// Filter narrows an event query. Zero values match everything; the clauses
// are conjunctive.
type Filter struct {
	Pool      string
	Direction Direction
	Trigger   string
	Since     float64
	Until     float64
	Limit     int
}

// Options configures a Store.
type Options struct {
	// Path is the event log file; empty disables persistence.
	Path string
	// MaxEvents caps the log; the oldest events are evicted first.
	MaxEvents int
}

// Store is the append-only scaling event log with time-bucketed analytics
// and file-backed persistence.
type Store struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	clock     clock.Clock
	met       *metrics.Metrics
	path      string
	maxEvents int
	events    []Event
}

// New creates a store and restores persisted events. A missing or corrupt
// file degrades to an empty in-memory history with a warning.
func New(opts Options, clk clock.Clock, met *metrics.Metrics, logger *slog.Logger) *Store {
	if opts.MaxEvents < 1 {
		opts.MaxEvents = 1000
	}
	s := &Store{
		logger:    logger.With("component", "scaling-history"),
		clock:     clk,
		met:       met,
		path:      opts.Path,
		maxEvents: opts.MaxEvents,
		events:    make([]Event, 0),
	}
	if s.path != "" {
		s.restore()
	}
	return s
}

// Add appends an event, evicting the oldest beyond the cap, and persists the
// log. Persistence failures are logged and counted; the in-memory log stays
// authoritative.
func (s *Store) Add(event Event) Event {
	s.mu.Lock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp == 0 {
		event.Timestamp = float64(s.clock.Now().UnixNano()) / 1e9
	}
	s.events = append(s.events, event)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	err := s.persistLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("failed to persist scaling history, continuing in memory", "error", err)
		if s.met != nil {
			s.met.PersistErrors.WithLabelValues("scaling_history").Inc()
		}
	}

	s.logger.Info("scaling event recorded",
		"pool", event.PoolName,
		"direction", string(event.Direction),
		"trigger", event.Trigger,
		"prev_count", event.PrevCount,
		"new_count", event.NewCount,
		"success", event.Success,
		"reason", event.Reason,
	)
	return event
}

// Events returns matching events newest-first, bounded by the filter limit.
func (s *Store) Events(f Filter) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if !f.matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func (f Filter) matches(e Event) bool {
	if f.Pool != "" && e.PoolName != f.Pool {
		return false
	}
	if f.Direction != "" && e.Direction != f.Direction {
		return false
	}
	if f.Trigger != "" && e.Trigger != f.Trigger {
		return false
	}
	if f.Since > 0 && e.Timestamp < f.Since {
		return false
	}
	if f.Until > 0 && e.Timestamp > f.Until {
		return false
	}
	return true
}

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// periodStart converts a look-back in hours to a unix-seconds cutoff.
func (s *Store) periodStart(periodHours float64) float64 {
	return float64(s.clock.Now().Add(-time.Duration(periodHours*float64(time.Hour))).UnixNano()) / 1e9
}
