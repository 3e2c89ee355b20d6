package audit

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.PlotID] = &cp
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, plotID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[plotID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}
