package history

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, opts Options) (*Store, *fakeclock.FakeClock) {
	t.Helper()
	clk := fakeclock.NewFakeClock(time.Unix(1700000000, 0))
	return New(opts, clk, nil, testLogger()), clk
}

func TestAddAssignsIDAndTimestamp(t *testing.T) {
	s, clk := newTestStore(t, Options{})

	got := s.Add(Event{PoolName: "workers", Direction: DirectionUp, Trigger: "manual"})

	if got.ID == "" {
		t.Error("expected a generated event ID")
	}
	want := float64(clk.Now().UnixNano()) / 1e9
	if got.Timestamp != want {
		t.Errorf("expected timestamp %f, got %f", want, got.Timestamp)
	}
}

func TestEventsNewestFirst(t *testing.T) {
	s, clk := newTestStore(t, Options{})

	s.Add(Event{PoolName: "workers", Direction: DirectionUp})
	clk.Increment(time.Minute)
	s.Add(Event{PoolName: "workers", Direction: DirectionDown})

	events := s.Events(Filter{})
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Direction != DirectionDown || events[1].Direction != DirectionUp {
		t.Errorf("expected newest-first ordering, got %+v", events)
	}
}

func TestEvictionKeepsNewest(t *testing.T) {
	s, clk := newTestStore(t, Options{MaxEvents: 3})

	for i := 0; i < 5; i++ {
		s.Add(Event{PoolName: "workers", PrevCount: i})
		clk.Increment(time.Second)
	}

	if got := s.Len(); got != 3 {
		t.Fatalf("expected 3 retained events, got %d", got)
	}
	events := s.Events(Filter{})
	if events[0].PrevCount != 4 || events[2].PrevCount != 2 {
		t.Errorf("expected oldest events evicted, got %+v", events)
	}
}

func TestFiltersAreConjunctive(t *testing.T) {
	s, clk := newTestStore(t, Options{})

	s.Add(Event{PoolName: "a", Direction: DirectionUp, Trigger: "manual"})
	s.Add(Event{PoolName: "a", Direction: DirectionDown, Trigger: "combined_load"})
	s.Add(Event{PoolName: "b", Direction: DirectionUp, Trigger: "combined_load"})
	cutoff := float64(clk.Now().UnixNano()) / 1e9
	clk.Increment(time.Hour)
	s.Add(Event{PoolName: "a", Direction: DirectionUp, Trigger: "combined_load"})

	cases := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"by pool", Filter{Pool: "a"}, 3},
		{"by direction", Filter{Direction: DirectionUp}, 3},
		{"by trigger", Filter{Trigger: "combined_load"}, 3},
		{"pool and direction", Filter{Pool: "a", Direction: DirectionUp}, 2},
		{"pool direction trigger", Filter{Pool: "a", Direction: DirectionUp, Trigger: "combined_load"}, 1},
		{"since", Filter{Since: cutoff + 1}, 1},
		{"until", Filter{Until: cutoff}, 3},
		{"limit", Filter{Limit: 2}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := len(s.Events(tc.filter)); got != tc.want {
				t.Errorf("expected %d events, got %d", tc.want, got)
			}
		})
	}
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "history.json")
	clk := fakeclock.NewFakeClock(time.Unix(1700000000, 0))

	s := New(Options{Path: path}, clk, nil, testLogger())
	s.Add(Event{PoolName: "workers", Direction: DirectionUp, Trigger: "manual", PrevCount: 1, NewCount: 3, Success: true})

	restored := New(Options{Path: path}, clk, nil, testLogger())
	events := restored.Events(Filter{})
	if len(events) != 1 {
		t.Fatalf("expected 1 restored event, got %d", len(events))
	}
	e := events[0]
	if e.PoolName != "workers" || e.NewCount != 3 || !e.Success {
		t.Errorf("restored event does not match: %+v", e)
	}
}

func TestRestoreCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("][ nope"), 0644); err != nil {
		t.Fatal(err)
	}
	clk := fakeclock.NewFakeClock(time.Unix(1700000000, 0))

	s := New(Options{Path: path}, clk, nil, testLogger())
	if got := s.Len(); got != 0 {
		t.Errorf("expected empty store on corrupt file, got %d events", got)
	}
	// The store must still accept new events afterwards.
	s.Add(Event{PoolName: "workers"})
	if got := s.Len(); got != 1 {
		t.Errorf("expected store usable after corrupt restore, got %d events", got)
	}
}

func TestPersistFailureKeepsMemoryAuthoritative(t *testing.T) {
	// A directory at the save path makes every write fail.
	dir := t.TempDir()
	clk := fakeclock.NewFakeClock(time.Unix(1700000000, 0))

	s := New(Options{Path: dir}, clk, nil, testLogger())
	s.Add(Event{PoolName: "workers"})
	if got := s.Len(); got != 1 {
		t.Errorf("expected event retained in memory despite persist failure, got %d", got)
	}
}
