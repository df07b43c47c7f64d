package store

import (
	"context"
	"sort"
	"sync"

	"github.com/petal-labs/storyline/model"
)

// MemStore is a thread-safe in-memory SpecStore.
type MemStore struct {
	mu    sync.RWMutex
	specs map[string]model.SpecData
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{specs: make(map[string]model.SpecData)}
}

func (s *MemStore) Get(_ context.Context, id string) (model.SpecData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.specs[id]
	if !ok {
		return model.SpecData{}, ErrSpecNotFound
	}
	return d.Clone(), nil
}

func (s *MemStore) Put(_ context.Context, d model.SpecData) (string, error) {
	if d.ID == "" {
		return "", errMissingID
	}
	d = d.Clone()
	d.Revision = newRevision()

	s.mu.Lock()
	s.specs[d.ID] = d
	s.mu.Unlock()
	return d.Revision, nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.specs, id)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.specs))
	for id := range s.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Compile-time interface check.
var _ SpecStore = (*MemStore)(nil)
