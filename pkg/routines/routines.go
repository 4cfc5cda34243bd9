// Package routines stores routine definitions in the key-value store.
package routines

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/korjavin/routinetimer/pkg/logger"
	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/korjavin/routinetimer/pkg/storage"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned when no routine has the requested id
var ErrNotFound = errors.New("routine not found")

const keyPrefix = "routine:"

func key(id string) string {
	return keyPrefix + id
}

// Service provides routine persistence
type Service struct {
	store  *storage.Store
	logger *logger.Logger
	group  singleflight.Group
	now    func() time.Time
}

// New creates a new routine service
func New(store *storage.Store) *Service {
	return &Service{
		store:  store,
		logger: logger.New("routines"),
		now:    time.Now,
	}
}

// Fetch loads a routine by id. Concurrent fetches of the same id share one read.
func (s *Service) Fetch(id string) (models.Routine, error) {
	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		var r models.Routine
		if err := s.store.Get(key(id), &r); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return nil, fmt.Errorf("failed to load routine %s: %w", id, err)
		}
		return r, nil
	})
	if err != nil {
		return models.Routine{}, err
	}
	// shared result, hand out a private copy
	return v.(models.Routine).Clone(), nil
}

// Save validates and stores a routine, creating or replacing it
func (s *Service) Save(r models.Routine) (models.Routine, error) {
	r.Normalize()
	if err := r.Validate(); err != nil {
		return models.Routine{}, err
	}
	r.UpdatedAt = s.now().UTC()

	if err := s.store.Set(key(r.ID), r); err != nil {
		return models.Routine{}, fmt.Errorf("failed to save routine %s: %w", r.ID, err)
	}
	s.logger.Info("Saved routine %q (%s) with %d lanes", r.Name, r.ID, len(r.SwimLanes))
	return r, nil
}

// Delete removes a routine
func (s *Service) Delete(id string) error {
	var r models.Routine
	if err := s.store.Get(key(id), &r); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	if err := s.store.Delete(key(id)); err != nil {
		return fmt.Errorf("failed to delete routine %s: %w", id, err)
	}
	s.logger.Info("Deleted routine %s", id)
	return nil
}

// List returns every routine visible to userID, sorted by name. Routines
// without an owner are visible to everyone; an empty userID sees everything.
func (s *Service) List(userID string) ([]models.Routine, error) {
	var out []models.Routine
	err := s.store.Scan(keyPrefix, func(k string, data []byte) error {
		var r models.Routine
		if err := json.Unmarshal(data, &r); err != nil {
			s.logger.Warn("Skipping unreadable routine %s: %v", k, err)
			return nil
		}
		if userID != "" && r.UserID != "" && r.UserID != userID {
			return nil
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
