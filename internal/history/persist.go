package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const stateVersion = 1

type persistedLog struct {
	Version   int     `json:"version"`
	Events    []Event `json:"events"`
	UpdatedAt float64 `json:"updated_at"`
}

// persistLocked writes the whole log. Caller holds the write lock.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(persistedLog{
		Version:   stateVersion,
		Events:    s.events,
		UpdatedAt: float64(s.clock.Now().UnixNano()) / 1e9,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scaling history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write scaling history: %w", err)
	}
	return nil
}

func (s *Store) restore() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read scaling history, starting empty",
				"path", s.path, "error", err)
		}
		return
	}

	var log persistedLog
	if err := json.Unmarshal(data, &log); err != nil {
		s.logger.Warn("corrupt scaling history, starting empty",
			"path", s.path, "error", err)
		return
	}
	if log.Version != stateVersion {
		s.logger.Warn("unsupported scaling history version, starting empty",
			"path", s.path, "version", log.Version)
		return
	}

	s.events = log.Events
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	s.logger.Info("scaling history restored", "path", s.path, "events", len(s.events))
}
