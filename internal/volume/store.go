package volume

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store keeps uploaded volumes in memory for the process lifetime.
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	volumes map[string]*Volume
	created map[string]time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		volumes: make(map[string]*Volume),
		created: make(map[string]time.Time),
	}
}

// Put registers a volume and returns its new id.
func (s *Store) Put(v *Volume) string {
	id := uuid.NewString()
	s.mu.Lock()
	v.ID = id
	s.volumes[id] = v
	s.created[id] = time.Now()
	s.mu.Unlock()
	return id
}

// Get returns the volume with the given id.
func (s *Store) Get(id string) (*Volume, error) {
	s.mu.RLock()
	v, ok := s.volumes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v, nil
}

// Delete removes a volume. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.volumes, id)
	delete(s.created, id)
	s.mu.Unlock()
}

// List returns all volumes ordered by upload time.
func (s *Store) List() []*Volume {
	s.mu.RLock()
	out := make([]*Volume, 0, len(s.volumes))
	for _, v := range s.volumes {
		out = append(out, v)
	}
	created := make(map[string]time.Time, len(s.created))
	for id, t := range s.created {
		created[id] = t
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := created[out[i].ID], created[out[j].ID]
		if ti.Equal(tj) {
			return out[i].ID < out[j].ID
		}
		return ti.Before(tj)
	})
	return out
}

// Len returns the number of stored volumes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.volumes)
}
