package storage

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/shhac/reflex/internal/domain"
)

// MemoryRepository is a Repository that forgets everything on exit. It
// applies the same name rules and caps as JSONRepository.
type MemoryRepository struct {
	mu       sync.RWMutex
	requests map[string]domain.SavedRequest
	recent   []domain.RecentEndpoint
	history  []domain.HistoryEntry
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{requests: make(map[string]domain.SavedRequest)}
}

func (m *MemoryRepository) SaveRequest(req domain.SavedRequest) error {
	if err := checkRequestName(req.Name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.Name] = req
	return nil
}

func (m *MemoryRepository) Request(name string) (domain.SavedRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[name]
	if !ok {
		return domain.SavedRequest{}, fmt.Errorf("%w: %q", ErrRequestNotFound, name)
	}
	return req, nil
}

func (m *MemoryRepository) Requests() ([]domain.SavedRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SavedRequest, 0, len(m.requests))
	for _, name := range slices.Sorted(maps.Keys(m.requests)) {
		out = append(out, m.requests[name])
	}
	return out, nil
}

func (m *MemoryRepository) DeleteRequest(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[name]; !ok {
		return fmt.Errorf("%w: %q", ErrRequestNotFound, name)
	}
	delete(m.requests, name)
	return nil
}

func (m *MemoryRepository) RecordEndpoint(ep domain.RecentEndpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = pushFront(m.recent, ep, maxRecent, sameEndpoint)
	return nil
}

func (m *MemoryRepository) RecentEndpoints() ([]domain.RecentEndpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newest(m.recent, 0), nil
}

func (m *MemoryRepository) AppendHistory(entry domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = pushFront(m.history, entry, maxHistory, nil)
	return nil
}

func (m *MemoryRepository) History(limit int) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newest(m.history, limit), nil
}

func (m *MemoryRepository) ClearHistory() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.recent = nil
	return nil
}
