// Package stats keeps per-routine run counts.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/korjavin/routinetimer/pkg/logger"
	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/korjavin/routinetimer/pkg/storage"
)

const keyPrefix = "stats:"

// Service provides statistics functionality
type Service struct {
	store  *storage.Store
	logger *logger.Logger
	// mu serialises read-modify-write of a stats record
	mu sync.Mutex
}

// New creates a new statistics service
func New(store *storage.Store) *Service {
	return &Service{
		store:  store,
		logger: logger.New("stats"),
	}
}

// Get returns the statistics of a routine. A routine that never ran has zero counts.
func (s *Service) Get(routineID string) (models.RunStats, error) {
	var st models.RunStats
	if err := s.store.Get(keyPrefix+routineID, &st); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.RunStats{RoutineID: routineID}, nil
		}
		return models.RunStats{}, fmt.Errorf("failed to load stats for %s: %w", routineID, err)
	}
	return st, nil
}

// RecordRun adds one finished run. completed is false when the run was stopped early.
func (s *Service) RecordRun(r models.Routine, completed bool, started, finished time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.Get(r.ID)
	if err != nil {
		return err
	}

	st.RoutineName = r.Name
	st.Runs++
	if completed {
		st.Completed++
	} else {
		st.Stopped++
	}
	if d := finished.Sub(started); d > 0 {
		st.TotalRunTime += d
	}
	st.LastRunAt = finished

	if err := s.store.Set(keyPrefix+r.ID, st); err != nil {
		return fmt.Errorf("failed to save stats for %s: %w", r.ID, err)
	}
	s.logger.Debug("Recorded run of %s: completed=%v runs=%d", r.ID, completed, st.Runs)
	return nil
}

// Top returns the most-run routines, most runs first
func (s *Service) Top(limit int) ([]models.RunStats, error) {
	var all []models.RunStats
	err := s.store.Scan(keyPrefix, func(key string, data []byte) error {
		var st models.RunStats
		if err := json.Unmarshal(data, &st); err != nil {
			s.logger.Warn("Skipping unreadable stats %s: %v", key, err)
			return nil
		}
		all = append(all, st)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Runs != all[j].Runs {
			return all[i].Runs > all[j].Runs
		}
		return all[i].RoutineName < all[j].RoutineName
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
